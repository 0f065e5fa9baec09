package nn

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossRatioControllerSequence(t *testing.T) {
	c, err := NewLossRatioController(0.9, DefaultScale)
	require.NoError(t, err)
	assert.Equal(t, DefaultSignal, c.Signal())

	want := []float64{1.71, 1.3373684210526313, 0.9266962699822378}
	for i, loss := range []float64{2, 1.5, 1} {
		assert.InDelta(t, want[i], c.OnBatchLoss(loss), 1e-12)
	}
	a, b := c.EMAs()
	assert.InDelta(t, 1.054, a, 1e-12)
	assert.InDelta(t, 1.126, b, 1e-12)
	assert.InDelta(t, want[2], c.Signal(), 1e-12)
}

func TestLossRatioControllerFullWeight(t *testing.T) {
	c, err := NewLossRatioController(1, DefaultScale)
	require.NoError(t, err)
	for _, loss := range []float64{0.3, 4, 2.5, 0} {
		s := c.OnBatchLoss(loss)
		a, b := c.EMAs()
		assert.Equal(t, loss, a)
		assert.Equal(t, 1.0, b)
		assert.InDelta(t, DefaultScale*loss, s, 1e-15)
	}
}

func TestLossRatioControllerConverges(t *testing.T) {
	c, err := NewLossRatioController(0.7, 0.5)
	require.NoError(t, err)
	var s float64
	for i := 0; i < 500; i++ {
		s = c.OnBatchLoss(3.2)
	}
	assert.InDelta(t, 0.5, s, 1e-9)
}

func TestLossRatioControllerValidation(t *testing.T) {
	for _, w := range []float64{0, -0.1, 1.01} {
		_, err := NewLossRatioController(w, DefaultScale)
		assert.ErrorIs(t, err, ErrInvalidConfig, "weight %v", w)
	}
}

func TestHoldController(t *testing.T) {
	c := NewHoldController(3, 0)
	for _, loss := range []float64{1, 2, 3, 4, 5} {
		assert.Equal(t, 0.0, c.OnBatchLoss(loss))
	}
	assert.Equal(t, []float64{3, 4, 5}, c.Losses())
	assert.Equal(t, 0.0, c.Signal())

	none := NewHoldController(0, 0.25)
	assert.Equal(t, 0.25, none.OnBatchLoss(1))
	assert.Empty(t, none.Losses())
}

func TestSignalRecorder(t *testing.T) {
	c, err := NewLossRatioController(1, 1)
	require.NoError(t, err)
	lr := 0.01
	r := NewSignalRecorder(c, func() float64 { return lr })

	assert.InDelta(t, 2.0, r.OnBatchLoss(2), 1e-15)
	lr = 0.1
	assert.InDelta(t, 0.5, r.OnBatchLoss(0.5), 1e-15)
	assert.InDeltaSlice(t, []float64{0, 0.02, 0.05}, r.History(), 1e-15)
	assert.InDelta(t, 0.5, r.Signal(), 1e-15)

	var got []float64
	r.OnTrainEnd(func(h []float64) { got = h })
	assert.Equal(t, r.History(), got)
	r.OnTrainEnd(nil)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))
	var decoded signalHistory
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "adalpha learning rate", decoded.Label)
	assert.Len(t, decoded.History, 3)

	var _ SignalSource = r
}

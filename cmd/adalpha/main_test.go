package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/adalpha/nn"
)

func quietOptions(t *testing.T, args ...string) *options {
	t.Helper()
	o, err := parseFlags(append([]string{"-v=false", "-epochs=5", "-batches=20"}, args...))
	require.NoError(t, err)
	return o
}

func TestPlainAdamConverges(t *testing.T) {
	// Base variant with a held zero signal has a chaos factor of exactly 1.
	o := quietOptions(t, "-variant=adalpha", "-chaos=1", "-hold=4", "-signal=0")

	result, rec, err := run(o)
	require.NoError(t, err)
	assert.Less(t, result.FinalLoss, result.InitialLoss)
	assert.Len(t, result.LossHistory, 5)
	assert.Len(t, rec.History(), 101)
	for _, h := range rec.History() {
		assert.Zero(t, h)
	}
}

func TestLossRatioControllerRun(t *testing.T) {
	dir := t.TempDir()
	hist := filepath.Join(dir, "history.json")
	saved := filepath.Join(dir, "config.json")

	o := quietOptions(t, "-variant=adalpha", "-chaos=2", "-scale=0.1",
		"-history="+hist, "-save-config="+saved, "-workers=2")
	result, rec, err := run(o)
	require.NoError(t, err)
	assert.Less(t, result.FinalLoss, result.InitialLoss)

	raw, err := os.ReadFile(hist)
	require.NoError(t, err)
	var doc struct {
		Label   string    `json:"label"`
		History []float64 `json:"history"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "adalpha learning rate", doc.Label)
	assert.Equal(t, rec.History(), doc.History)
	assert.Len(t, doc.History, 101)
	assert.Zero(t, doc.History[0])
	assert.Positive(t, doc.History[1])

	cfg, err := nn.LoadConfig(saved)
	require.NoError(t, err)
	assert.Equal(t, o.cfg, cfg)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	cfg := nn.DefaultConfig()
	cfg.LearningRate = 0.2
	cfg.ChaosPunishment = 3
	cfg.AMSGrad = true
	require.NoError(t, nn.SaveConfig(path, cfg))

	o := quietOptions(t, "-config="+path, "-chaos=4")
	assert.Equal(t, 0.2, o.cfg.LearningRate)
	assert.Equal(t, 4.0, o.cfg.ChaosPunishment)
	assert.True(t, o.cfg.AMSGrad)
	assert.Equal(t, nn.VariantBase, o.cfg.Variant)
}

func TestParseFlagsRejectsBadInput(t *testing.T) {
	for _, args := range [][]string{
		{"-epochs=0"},
		{"-vocab=0"},
		{"-variant=sgd"},
		{"-chaos=-1"},
		{"-lr=-1"},
		{"-domain=ignore"},
	} {
		_, err := parseFlags(append([]string{"-v=false"}, args...))
		assert.Error(t, err, "%v", args)
	}
}

func TestUnknownScheduler(t *testing.T) {
	o := quietOptions(t, "-scheduler=nope")
	_, _, err := run(o)
	assert.Error(t, err)
}

func TestSparseGradientCoversBatchTokens(t *testing.T) {
	data := newRegression(1, 3, 2, 5)
	m := newModel(data)
	batch := data.batch(4)

	loss, grads := m.lossAndGrads(batch)
	assert.Positive(t, loss)

	s, ok := grads[m.E.Name].SparseSlices()
	require.True(t, ok)
	require.Len(t, s.Indices, 4)
	for i, smp := range batch {
		assert.Equal(t, smp.token, s.Indices[i])
	}
	assert.Equal(t, []int{4, 2}, s.Values.Shape)

	dense, ok := grads[m.W.Name].DenseTensor()
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, dense.Shape)
}

package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/adalpha/tensor"
)

func TestMomentStoreEnsure(t *testing.T) {
	s := NewMomentStore[float32](true)
	p := NewParameter("w", tensor.New[float32](2, 3))

	st, created, err := s.Ensure(p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []int{2, 3}, st.M.Shape)
	assert.Equal(t, []int{2, 3}, st.V.Shape)
	require.NotNil(t, st.VHat)
	assert.Equal(t, make([]float32, 6), st.V.Data)

	st.M.Data[0] = 7
	again, created, err := s.Ensure(p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, st, again)
	assert.Equal(t, float32(7), again.M.Data[0])

	_, _, err = s.Ensure(nil)
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestMomentStoreOrderAndZero(t *testing.T) {
	s := NewMomentStore[float64](false)
	for _, name := range []string{"c", "a", "b"} {
		_, _, err := s.Ensure(NewParameter(name, tensor.New[float64](2)))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "a", "b"}, s.Keys())
	assert.Equal(t, 3, s.Len())

	st, err := s.Get("a")
	require.NoError(t, err)
	assert.Nil(t, st.VHat)
	st.M.Data[1] = 3
	st.V.Data[0] = 4
	s.Zero()
	assert.Equal(t, []float64{0, 0}, st.M.Data)
	assert.Equal(t, []float64{0, 0}, st.V.Data)

	_, err = s.Get("z")
	assert.ErrorIs(t, err, ErrNotBuilt)
}

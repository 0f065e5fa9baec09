package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorCreation(t *testing.T) {
	x := New[float32](3, 4)
	assert.Equal(t, 12, x.Size())
	assert.Equal(t, []int{3, 4}, x.Shape)
	assert.Equal(t, 3, x.Rows())
	assert.Equal(t, 4, x.RowSize())

	s := Scalar(2.5)
	assert.Equal(t, 1, s.Size())
	assert.Equal(t, 1, s.Rows())
	assert.Equal(t, 1, s.RowSize())

	v := FromSlice([]float64{1, 2, 3})
	assert.Equal(t, []int{3}, v.Shape)
	assert.Panics(t, func() { FromSlice([]float64{1, 2, 3}, 2, 2) })
}

func TestTensorClone(t *testing.T) {
	original := FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	clone := original.Clone()
	original.Data[0] = 100
	assert.Equal(t, 1.0, clone.Data[0], "clone should not share storage")
	assert.True(t, clone.SameShape(original))
	assert.False(t, clone.SameShape(New[float64](4)))
}

func TestTensorReshape(t *testing.T) {
	x := FromSlice([]float32{1, 2, 3, 4, 5, 6})
	r := x.Reshape(2, 3)
	require.NotNil(t, r)
	assert.Equal(t, []int{2, 3}, r.Shape)
	assert.Nil(t, x.Reshape(4, 2))
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	assert.InDelta(t, 2.0, std, 1e-12)

	mean, std = MeanStd([]float32{})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 0.0, std)

	mean, std = MeanStd([]float32{3, 3, 3})
	assert.InDelta(t, 3.0, mean, 1e-6)
	assert.InDelta(t, 0.0, std, 1e-6)
}

func TestSafeDiv(t *testing.T) {
	assert.Equal(t, 0.0, SafeDiv(0, 0))
	assert.Equal(t, 0.0, SafeDiv(5, 0))
	assert.Equal(t, 2.5, SafeDiv(5, 2))
}

func TestAddScaledAliased(t *testing.T) {
	m64 := []float64{1, -2, 4}
	AddScaled(m64, -0.1, m64)
	assert.InDeltaSlice(t, []float64{0.9, -1.8, 3.6}, m64, 1e-12)

	m32 := []float32{1, -2, 4}
	AddScaled(m32, -0.1, m32)
	assert.InDeltaSlice(t, []float32{0.9, -1.8, 3.6}, m32, 1e-6)
}

func TestMaximumAndClamp(t *testing.T) {
	dst := []float64{1, 5, -1}
	Maximum(dst, []float64{2, 3, 0})
	assert.Equal(t, []float64{2, 5, 0}, dst)

	ClampMin(dst, 3)
	assert.Equal(t, []float64{3, 5, 3}, dst)

	assert.True(t, AllFinite(dst))
	assert.False(t, AllFinite([]float64{1, math.NaN()}))
	assert.False(t, AllFinite([]float32{float32(math.Inf(1))}))
}

func TestScatterAddRows(t *testing.T) {
	dst := New[float64](3, 2)
	vals := FromSlice([]float64{1, 2, 10, 20, 100, 200}, 3, 2)
	require.NoError(t, ScatterAddRows(dst, []int{2, 0, 2}, vals))
	assert.Equal(t, []float64{10, 20, 0, 0, 101, 202}, dst.Data)

	err := ScatterAddRows(dst, []int{3}, FromSlice([]float64{1, 1}, 1, 2))
	assert.Error(t, err)

	err = ScatterAddRows(dst, []int{0, 1}, FromSlice([]float64{1, 1}, 1, 2))
	assert.Error(t, err)
}

func TestGradientVariant(t *testing.T) {
	d := Dense(FromSlice([]float64{1, 2}))
	assert.Equal(t, KindDense, d.Kind())
	_, ok := d.SparseSlices()
	assert.False(t, ok)
	dt, ok := d.DenseTensor()
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, dt.Data)

	s := Sparse([]int{1}, FromSlice([]float64{7}, 1))
	assert.Equal(t, KindSparse, s.Kind())
	assert.Equal(t, "sparse", s.Kind().String())
	sl, ok := s.SparseSlices()
	require.True(t, ok)
	full, err := sl.ToDense(3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 7, 0}, full.Data)
}

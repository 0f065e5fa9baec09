package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// float64s views data as []float64, copying only when T is not float64.
func float64s[T Float](data []T) []float64 {
	if d, ok := any(data).([]float64); ok {
		return d
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

// MeanStd returns the mean and the population standard deviation over all
// elements. An empty slice yields (0, 0), a single element (x, 0).
func MeanStd[T Float](data []T) (mean, std float64) {
	switch len(data) {
	case 0:
		return 0, 0
	case 1:
		return float64(data[0]), 0
	}
	return stat.PopMeanStdDev(float64s(data), nil)
}

// SafeDiv returns a/b, or 0 when b is zero.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// AddScaled performs dst[i] += alpha*s[i]. dst and s may alias.
func AddScaled[T Float](dst []T, alpha float64, s []T) {
	if len(dst) != len(s) {
		panic(fmt.Sprintf("tensor: length mismatch %d != %d", len(dst), len(s)))
	}
	if d, ok := any(dst).([]float64); ok {
		floats.AddScaled(d, alpha, any(s).([]float64))
		return
	}
	for i := range dst {
		dst[i] = T(float64(dst[i]) + alpha*float64(s[i]))
	}
}

// Add performs dst[i] += s[i].
func Add[T Float](dst, s []T) {
	if len(dst) != len(s) {
		panic(fmt.Sprintf("tensor: length mismatch %d != %d", len(dst), len(s)))
	}
	if d, ok := any(dst).([]float64); ok {
		floats.Add(d, any(s).([]float64))
		return
	}
	for i := range dst {
		dst[i] += s[i]
	}
}

// Maximum stores the elementwise maximum of dst and s into dst.
func Maximum[T Float](dst, s []T) {
	for i := range dst {
		if s[i] > dst[i] {
			dst[i] = s[i]
		}
	}
}

// ClampMin raises every element below lo to lo.
func ClampMin[T Float](dst []T, lo T) {
	for i := range dst {
		if dst[i] < lo {
			dst[i] = lo
		}
	}
}

// AllFinite reports whether no element is NaN or infinite.
func AllFinite[T Float](data []T) bool {
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// ScatterAddRows adds each row of values into dst at the row named by the
// matching index. Duplicate indices accumulate.
func ScatterAddRows[T Float](dst *Tensor[T], indices []int, values *Tensor[T]) error {
	rowSize := dst.RowSize()
	if values.Size() != len(indices)*rowSize {
		return fmt.Errorf("scatter: %d values for %d rows of size %d", values.Size(), len(indices), rowSize)
	}
	rows := dst.Rows()
	for r, idx := range indices {
		if idx < 0 || idx >= rows {
			return fmt.Errorf("scatter: index %d out of range [0,%d)", idx, rows)
		}
		Add(dst.Data[idx*rowSize:(idx+1)*rowSize], values.Data[r*rowSize:(r+1)*rowSize])
	}
	return nil
}

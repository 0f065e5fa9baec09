package tensor

import "fmt"

// Kind tags which representation a Gradient carries.
type Kind int

const (
	KindDense Kind = iota
	KindSparse
)

func (k Kind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindSparse:
		return "sparse"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Slices is a row-sparse gradient: Values holds one row per entry of Indices,
// each row shaped like the parameter without its leading dimension.
// This is the shape produced by embedding lookups.
type Slices[T Float] struct {
	Indices []int
	Values  *Tensor[T]
}

// Gradient is either Dense or Sparse. Switch on Kind() before reading.
type Gradient[T Float] struct {
	kind   Kind
	dense  *Tensor[T]
	sparse *Slices[T]
}

// Dense wraps a full gradient tensor.
func Dense[T Float](g *Tensor[T]) Gradient[T] {
	return Gradient[T]{kind: KindDense, dense: g}
}

// Sparse wraps row indices and their gradient rows.
func Sparse[T Float](indices []int, values *Tensor[T]) Gradient[T] {
	return Gradient[T]{kind: KindSparse, sparse: &Slices[T]{Indices: indices, Values: values}}
}

func (g Gradient[T]) Kind() Kind { return g.kind }

// DenseTensor returns the dense payload; ok is false for a sparse gradient.
func (g Gradient[T]) DenseTensor() (t *Tensor[T], ok bool) {
	return g.dense, g.kind == KindDense
}

// SparseSlices returns the sparse payload; ok is false for a dense gradient.
func (g Gradient[T]) SparseSlices() (s *Slices[T], ok bool) {
	return g.sparse, g.kind == KindSparse
}

// ToDense scatters the slices into a zero tensor of the given shape.
func (s *Slices[T]) ToDense(shape ...int) (*Tensor[T], error) {
	out := New[T](shape...)
	if err := ScatterAddRows(out, s.Indices, s.Values); err != nil {
		return nil, err
	}
	return out, nil
}

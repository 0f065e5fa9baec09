package tensor

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Float is the element constraint for optimizer tensors.
type Float interface {
	constraints.Float
}

// Tensor is a flat, row-major buffer with a shape.
// A tensor with an empty shape is a scalar and holds one element.
type Tensor[T Float] struct {
	Shape []int
	Data  []T
}

// New allocates a zero-filled tensor of the given shape.
func New[T Float](shape ...int) *Tensor[T] {
	s := append([]int(nil), shape...)
	return &Tensor[T]{
		Shape: s,
		Data:  make([]T, numel(s)),
	}
}

// FromSlice wraps data without copying it.
// With no shape the tensor is 1-D of len(data).
func FromSlice[T Float](data []T, shape ...int) *Tensor[T] {
	s := append([]int(nil), shape...)
	if len(shape) == 0 {
		s = []int{len(data)}
	}
	if numel(s) != len(data) {
		panic(fmt.Sprintf("tensor: shape %v does not hold %d elements", s, len(data)))
	}
	return &Tensor[T]{Shape: s, Data: data}
}

// Scalar returns a 0-D tensor holding v.
func Scalar[T Float](v T) *Tensor[T] {
	return &Tensor[T]{Shape: []int{}, Data: []T{v}}
}

// ZerosLike allocates a zero tensor with ref's shape.
func ZerosLike[T Float](ref *Tensor[T]) *Tensor[T] {
	return New[T](ref.Shape...)
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Size returns the number of elements.
func (t *Tensor[T]) Size() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor[T]) Clone() *Tensor[T] {
	return &Tensor[T]{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]T(nil), t.Data...),
	}
}

// SameShape reports whether both tensors have identical shapes.
func (t *Tensor[T]) SameShape(o *Tensor[T]) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Rows returns the size of the leading dimension (1 for a scalar).
func (t *Tensor[T]) Rows() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return t.Shape[0]
}

// RowSize returns the number of elements in one slice along the leading dimension.
func (t *Tensor[T]) RowSize() int {
	if len(t.Shape) <= 1 {
		return 1
	}
	return numel(t.Shape[1:])
}

// Reshape returns a view with a new shape, or nil if the sizes differ.
func (t *Tensor[T]) Reshape(shape ...int) *Tensor[T] {
	if numel(shape) != len(t.Data) {
		return nil
	}
	return &Tensor[T]{Shape: append([]int(nil), shape...), Data: t.Data}
}

func (t *Tensor[T]) String() string {
	return fmt.Sprintf("Tensor%v%v", t.Shape, t.Data)
}

package nn

import (
	"github.com/pkg/errors"

	"github.com/openfluke/adalpha/tensor"
)

// Parameter is a host-owned trainable tensor. The optimizer only reads and
// writes Value's contents; Name is the stable key for its moment state.
type Parameter[T tensor.Float] struct {
	Name  string
	Value *tensor.Tensor[T]
}

// NewParameter pairs a name with a tensor.
func NewParameter[T tensor.Float](name string, value *tensor.Tensor[T]) *Parameter[T] {
	return &Parameter[T]{Name: name, Value: value}
}

// MomentState holds the first moment, second moment and (AMSGrad only) the
// running maximum of the second moment for one parameter.
type MomentState[T tensor.Float] struct {
	M    *tensor.Tensor[T]
	V    *tensor.Tensor[T]
	VHat *tensor.Tensor[T] // nil unless AMSGrad
}

// NewMomentState allocates zero moments shaped like ref.
func NewMomentState[T tensor.Float](ref *tensor.Tensor[T], amsgrad bool) *MomentState[T] {
	st := &MomentState[T]{
		M: tensor.ZerosLike(ref),
		V: tensor.ZerosLike(ref),
	}
	if amsgrad {
		st.VHat = tensor.ZerosLike(ref)
	}
	return st
}

func (st *MomentState[T]) zero() {
	for _, t := range []*tensor.Tensor[T]{st.M, st.V, st.VHat} {
		if t == nil {
			continue
		}
		clear(t.Data)
	}
}

// MomentStore keeps one MomentState per parameter name, in build order.
// It is not safe for concurrent Ensure calls; Get is safe once building is done.
type MomentStore[T tensor.Float] struct {
	amsgrad bool
	states  map[string]*MomentState[T]
	order   []string
}

func NewMomentStore[T tensor.Float](amsgrad bool) *MomentStore[T] {
	return &MomentStore[T]{
		amsgrad: amsgrad,
		states:  make(map[string]*MomentState[T]),
	}
}

// Ensure returns the state for p, allocating it on first sight.
// Existing state is never reset.
func (s *MomentStore[T]) Ensure(p *Parameter[T]) (*MomentState[T], bool, error) {
	if p == nil || p.Value == nil {
		return nil, false, errors.Wrap(ErrNotBuilt, "nil parameter")
	}
	if st, ok := s.states[p.Name]; ok {
		if !st.M.SameShape(p.Value) {
			return nil, false, errors.Wrapf(ErrShapeMismatch, "parameter %q rebuilt with shape %v, state has %v",
				p.Name, p.Value.Shape, st.M.Shape)
		}
		return st, false, nil
	}
	st := NewMomentState(p.Value, s.amsgrad)
	s.states[p.Name] = st
	s.order = append(s.order, p.Name)
	return st, true, nil
}

// Get returns the state for a built parameter.
func (s *MomentStore[T]) Get(name string) (*MomentState[T], error) {
	st, ok := s.states[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotBuilt, "parameter %q", name)
	}
	return st, nil
}

// Keys returns parameter names in build order.
func (s *MomentStore[T]) Keys() []string {
	return append([]string(nil), s.order...)
}

func (s *MomentStore[T]) Len() int {
	return len(s.order)
}

// Zero clears every moment without forgetting which parameters are built.
func (s *MomentStore[T]) Zero() {
	for _, st := range s.states {
		st.zero()
	}
}

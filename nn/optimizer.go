package nn

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/openfluke/adalpha/tensor"
)

// Optimizer defines the contract the host training loop drives.
type Optimizer[T tensor.Float] interface {
	// Build creates moment state for every parameter. Idempotent.
	Build(params []*Parameter[T]) error

	// Step applies one optimizer step to every built parameter that has a gradient.
	Step(signal float64, grads map[string]tensor.Gradient[T]) error

	// Reset clears optimizer state (moments and step counter)
	Reset()

	// GetState returns optimizer state for serialization
	GetState() map[string]interface{}

	// LoadState restores optimizer state from serialization
	LoadState(state map[string]interface{}) error

	// Name returns the optimizer name
	Name() string
}

// DefaultSignal is the control signal before any loss has been observed.
const DefaultSignal = 1.0

// StepContext is the per-step snapshot every parameter update in that step
// shares. Only Begin produces valid contexts.
type StepContext struct {
	Iteration    int     // 1-based step used for bias correction
	LearningRate float64 // schedule-resolved
	Signal       float64 // control signal from the previous batch
}

// DenseKernel runs the base-variant dense update for float32 parameters on
// an accelerator. vHat is nil when AMSGrad is off. On error the slices must
// be left untouched.
type DenseKernel interface {
	DenseStep(key string, param, grad, m, v, vHat []float32, alpha, beta1, beta2, epsilon float32) error
}

// ============================================================================
// Adalpha: Adam with a loss-driven chaos factor on alpha
// ============================================================================

type Adalpha[T tensor.Float] struct {
	cfg    Config
	shaper Shaper[T]
	chaos  ChaosRule

	schedule LRScheduler
	kernel   DenseKernel
	logger   *slog.Logger

	store  *MomentStore[T]
	params map[string]*Parameter[T]

	mu         sync.Mutex
	iterations int
}

// New validates cfg and returns an unbuilt optimizer.
func New[T tensor.Float](cfg Config) (*Adalpha[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DomainPolicy == "" {
		cfg.DomainPolicy = DomainError
	}
	shaper, chaos := rulesFor[T](cfg.Variant)
	return &Adalpha[T]{
		cfg:    cfg,
		shaper: shaper,
		chaos:  chaos,
		logger: slog.Default().With(slog.String("component", "adalpha")),
		store:  NewMomentStore[T](cfg.AMSGrad),
		params: make(map[string]*Parameter[T]),
	}, nil
}

// NewDefault returns the base variant with DefaultConfig.
func NewDefault[T tensor.Float]() *Adalpha[T] {
	opt, _ := New[T](DefaultConfig())
	return opt
}

// SetScheduler makes Begin resolve the learning rate from s instead of the
// constant Config.LearningRate.
func (opt *Adalpha[T]) SetScheduler(s LRScheduler) {
	opt.schedule = s
}

// SetKernel routes float32 dense base-variant updates through k.
func (opt *Adalpha[T]) SetKernel(k DenseKernel) {
	opt.kernel = k
}

func (opt *Adalpha[T]) SetLogger(l *slog.Logger) {
	opt.logger = l
}

// Config returns a copy of the hyperparameters.
func (opt *Adalpha[T]) Config() Config {
	return opt.cfg
}

// Iterations returns how many steps have begun.
func (opt *Adalpha[T]) Iterations() int {
	opt.mu.Lock()
	defer opt.mu.Unlock()
	return opt.iterations
}

// Moments exposes the state of a built parameter.
func (opt *Adalpha[T]) Moments(name string) (*MomentState[T], error) {
	return opt.store.Get(name)
}

func (opt *Adalpha[T]) Build(params []*Parameter[T]) error {
	for _, p := range params {
		_, created, err := opt.store.Ensure(p)
		if err != nil {
			return err
		}
		opt.params[p.Name] = p
		if created {
			opt.logger.Debug("built moment state",
				slog.String("param", p.Name),
				slog.Any("shape", p.Value.Shape),
				slog.Bool("amsgrad", opt.cfg.AMSGrad))
		}
	}
	return nil
}

// Begin advances the step counter and snapshots lr and signal for this step.
func (opt *Adalpha[T]) Begin(signal float64) (StepContext, error) {
	opt.mu.Lock()
	defer opt.mu.Unlock()

	lr := opt.cfg.LearningRate
	if opt.schedule != nil {
		lr = opt.schedule.GetLR(opt.iterations)
	}
	sc := StepContext{Iteration: opt.iterations + 1, LearningRate: lr, Signal: signal}
	if _, err := opt.alpha(sc); err != nil {
		opt.logger.Warn("rejected control signal",
			slog.Float64("signal", signal),
			slog.Int("iteration", sc.Iteration),
			slog.String("error", err.Error()))
		return StepContext{}, err
	}
	opt.iterations++
	return sc, nil
}

// alpha is lr * sqrt(1-beta2^t)/(1-beta1^t) * chaos(signal).
func (opt *Adalpha[T]) alpha(sc StepContext) (float64, error) {
	if sc.Iteration < 1 {
		return 0, errors.Wrapf(ErrNoStep, "iteration %d", sc.Iteration)
	}
	t := float64(sc.Iteration)
	beta1Power := math.Pow(opt.cfg.Beta1, t)
	beta2Power := math.Pow(opt.cfg.Beta2, t)
	factor, err := opt.chaos(sc.Signal, opt.cfg.ChaosPunishment, opt.cfg.DomainPolicy)
	if err != nil {
		return 0, err
	}
	return sc.LearningRate * (math.Sqrt(1-beta2Power) / (1 - beta1Power)) * factor, nil
}

// Apply updates one parameter's moments and value using gradient g.
func (opt *Adalpha[T]) Apply(sc StepContext, p *Parameter[T], g tensor.Gradient[T]) error {
	if p == nil || p.Value == nil {
		return errors.Wrap(ErrNotBuilt, "nil parameter")
	}
	st, err := opt.store.Get(p.Name)
	if err != nil {
		return err
	}
	if !st.M.SameShape(p.Value) {
		return errors.Wrapf(ErrShapeMismatch, "parameter %q: value %v vs built state %v",
			p.Name, p.Value.Shape, st.M.Shape)
	}
	alpha, err := opt.alpha(sc)
	if err != nil {
		return err
	}

	switch g.Kind() {
	case tensor.KindDense:
		grad, _ := g.DenseTensor()
		if grad == nil || !grad.SameShape(p.Value) {
			return errors.Wrapf(ErrShapeMismatch, "parameter %q: gradient %v vs parameter %v",
				p.Name, shapeOf(grad), p.Value.Shape)
		}
		if opt.tryKernel(p, grad, st, alpha) {
			return nil
		}
		opt.denseMoments(st, grad)
	case tensor.KindSparse:
		slices, _ := g.SparseSlices()
		if err := checkSlices(p, slices); err != nil {
			return err
		}
		opt.sparseMoments(st, slices)
	default:
		return errors.Wrapf(ErrShapeMismatch, "parameter %q: unknown gradient kind %v", p.Name, g.Kind())
	}

	v := st.V
	if opt.cfg.AMSGrad {
		tensor.Maximum(st.VHat.Data, st.V.Data)
		v = st.VHat
	}
	applyDelta(p.Value.Data, st.M.Data, v.Data, alpha, opt.cfg.Epsilon)
	return nil
}

// denseMoments: m += shape((g - m)(1-b1)), v += shape((g^2 - v)(1-b2)).
func (opt *Adalpha[T]) denseMoments(st *MomentState[T], grad *tensor.Tensor[T]) {
	b1, b2 := opt.cfg.Beta1, opt.cfg.Beta2
	m, v, g := st.M.Data, st.V.Data, grad.Data

	dm := make([]T, len(m))
	dv := make([]T, len(v))
	for i := range g {
		gi := float64(g[i])
		dm[i] = T((gi - float64(m[i])) * (1 - b1))
		dv[i] = T((gi*gi - float64(v[i])) * (1 - b2))
	}
	opt.shaper.Shape(dm)
	opt.shaper.Shape(dv)
	tensor.Add(m, dm)
	tensor.Add(v, dv)
	tensor.ClampMin(v, 0)
}

// sparseMoments decays the whole of m and v, then scatter-adds the gradient
// rows. Untouched rows only decay.
func (opt *Adalpha[T]) sparseMoments(st *MomentState[T], s *tensor.Slices[T]) {
	b1, b2 := opt.cfg.Beta1, opt.cfg.Beta2
	vals := s.Values.Data

	decay := func(dst []T, rate float64) {
		d := make([]T, len(dst))
		tensor.AddScaled(d, -rate, dst)
		opt.shaper.Shape(d)
		tensor.Add(dst, d)
	}
	rows := func(square bool, rate float64) *tensor.Tensor[T] {
		out := make([]T, len(vals))
		for i, x := range vals {
			f := float64(x)
			if square {
				f *= f
			}
			out[i] = T(f * rate)
		}
		opt.shaper.Shape(out)
		return &tensor.Tensor[T]{Shape: s.Values.Shape, Data: out}
	}

	decay(st.M.Data, 1-b1)
	// indices were validated by checkSlices
	_ = tensor.ScatterAddRows(st.M, s.Indices, rows(false, 1-b1))
	decay(st.V.Data, 1-b2)
	_ = tensor.ScatterAddRows(st.V, s.Indices, rows(true, 1-b2))
	tensor.ClampMin(st.V.Data, 0)
}

// applyDelta: p -= m*alpha / (sqrt(v) + eps)
func applyDelta[T tensor.Float](p, m, v []T, alpha, eps float64) {
	for i := range p {
		p[i] -= T(float64(m[i]) * alpha / (math.Sqrt(float64(v[i])) + eps))
	}
}

func (opt *Adalpha[T]) tryKernel(p *Parameter[T], grad *tensor.Tensor[T], st *MomentState[T], alpha float64) bool {
	if opt.kernel == nil || opt.cfg.Variant != VariantBase {
		return false
	}
	param, ok := any(p.Value.Data).([]float32)
	if !ok {
		return false
	}
	var vHat []float32
	if st.VHat != nil {
		vHat = any(st.VHat.Data).([]float32)
	}
	err := opt.kernel.DenseStep(p.Name, param,
		any(grad.Data).([]float32),
		any(st.M.Data).([]float32),
		any(st.V.Data).([]float32),
		vHat,
		float32(alpha), float32(opt.cfg.Beta1), float32(opt.cfg.Beta2), float32(opt.cfg.Epsilon))
	if err != nil {
		opt.logger.Warn("dense kernel failed, falling back to CPU",
			slog.String("param", p.Name),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func checkSlices[T tensor.Float](p *Parameter[T], s *tensor.Slices[T]) error {
	if s == nil || s.Values == nil {
		return errors.Wrapf(ErrShapeMismatch, "parameter %q: empty sparse gradient", p.Name)
	}
	rowSize := p.Value.RowSize()
	if s.Values.Size() != len(s.Indices)*rowSize {
		return errors.Wrapf(ErrShapeMismatch, "parameter %q: %d sparse values for %d rows of size %d",
			p.Name, s.Values.Size(), len(s.Indices), rowSize)
	}
	rows := p.Value.Rows()
	for _, idx := range s.Indices {
		if idx < 0 || idx >= rows {
			return errors.Wrapf(ErrShapeMismatch, "parameter %q: row index %d out of range [0,%d)", p.Name, idx, rows)
		}
	}
	return nil
}

func shapeOf[T tensor.Float](t *tensor.Tensor[T]) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}

// Step begins a new step with signal and applies every gradient in grads.
// Parameters are visited in build order; a built parameter without a
// gradient is skipped. With Config.Workers > 1 parameters are updated in
// parallel, all under the same StepContext.
func (opt *Adalpha[T]) Step(signal float64, grads map[string]tensor.Gradient[T]) error {
	for name := range grads {
		if _, ok := opt.params[name]; !ok {
			return errors.Wrapf(ErrNotBuilt, "parameter %q", name)
		}
	}
	sc, err := opt.Begin(signal)
	if err != nil {
		return err
	}

	keys := opt.store.Keys()
	if opt.cfg.Workers <= 1 {
		for _, name := range keys {
			g, ok := grads[name]
			if !ok {
				continue
			}
			if err := opt.Apply(sc, opt.params[name], g); err != nil {
				return err
			}
		}
		return nil
	}

	jobs := make(chan string)
	errs := make(chan error, len(keys))
	var wg sync.WaitGroup
	for w := 0; w < opt.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				if err := opt.Apply(sc, opt.params[name], grads[name]); err != nil {
					errs <- err
				}
			}
		}()
	}
	for _, name := range keys {
		if _, ok := grads[name]; ok {
			jobs <- name
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)
	return <-errs
}

func (opt *Adalpha[T]) Reset() {
	opt.mu.Lock()
	defer opt.mu.Unlock()
	opt.iterations = 0
	opt.store.Zero()
}

func (opt *Adalpha[T]) GetState() map[string]interface{} {
	opt.mu.Lock()
	defer opt.mu.Unlock()
	return map[string]interface{}{
		"type":             string(opt.cfg.Variant),
		"learning_rate":    opt.cfg.LearningRate,
		"beta_1":           opt.cfg.Beta1,
		"beta_2":           opt.cfg.Beta2,
		"epsilon":          opt.cfg.Epsilon,
		"amsgrad":          opt.cfg.AMSGrad,
		"chaos_punishment": opt.cfg.ChaosPunishment,
		"domain_policy":    string(opt.cfg.DomainPolicy),
		"iterations":       opt.iterations,
	}
}

// LoadState restores hyperparameters and the step counter. Numbers may be
// float64 (decoded JSON) or the native Go types GetState produced. AMSGrad
// and the variant cannot change on a built optimizer.
func (opt *Adalpha[T]) LoadState(state map[string]interface{}) error {
	if t, ok := state["type"].(string); !ok || Variant(t) != opt.cfg.Variant {
		return fmt.Errorf("invalid optimizer type: expected %s, got %v", opt.cfg.Variant, state["type"])
	}

	cfg := opt.cfg
	if lr, ok := number(state["learning_rate"]); ok {
		cfg.LearningRate = lr
	}
	if b1, ok := number(state["beta_1"]); ok {
		cfg.Beta1 = b1
	}
	if b2, ok := number(state["beta_2"]); ok {
		cfg.Beta2 = b2
	}
	if eps, ok := number(state["epsilon"]); ok {
		cfg.Epsilon = eps
	}
	if k, ok := number(state["chaos_punishment"]); ok {
		cfg.ChaosPunishment = k
	}
	if p, ok := state["domain_policy"].(string); ok && p != "" {
		cfg.DomainPolicy = DomainPolicy(p)
	}
	if a, ok := state["amsgrad"].(bool); ok && a != cfg.AMSGrad {
		return errors.Wrapf(ErrInvalidConfig, "amsgrad cannot change from %v to %v", cfg.AMSGrad, a)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opt.mu.Lock()
	defer opt.mu.Unlock()
	opt.cfg = cfg
	if it, ok := number(state["iterations"]); ok {
		opt.iterations = int(it)
	}
	return nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func (opt *Adalpha[T]) Name() string {
	name := "Adalpha"
	if opt.cfg.Variant == VariantMomentum {
		name = "Adalpha (momentum)"
	}
	if opt.cfg.AMSGrad {
		name += " AMSGrad"
	}
	return name
}

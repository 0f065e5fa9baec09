package nn

import (
	"fmt"
	"math"
)

// LRScheduler resolves the learning rate for a 0-based step count.
// Begin queries it with the number of steps already taken.
type LRScheduler interface {
	GetLR(step int) float64
	Name() string
}

// ConstantScheduler always returns the same rate.
type ConstantScheduler float64

func (s ConstantScheduler) GetLR(int) float64 { return float64(s) }
func (s ConstantScheduler) Name() string    { return "Constant" }

// ExponentialDecayScheduler: lr = initial * rate^(step/decaySteps),
// or rate^floor(step/decaySteps) when Staircase is set.
type ExponentialDecayScheduler struct {
	Initial    float64
	Rate       float64
	DecaySteps int
	Staircase  bool
}

func (s ExponentialDecayScheduler) GetLR(step int) float64 {
	if s.DecaySteps <= 0 {
		return s.Initial
	}
	p := float64(step) / float64(s.DecaySteps)
	if s.Staircase {
		p = math.Floor(p)
	}
	return s.Initial * math.Pow(s.Rate, p)
}

func (s ExponentialDecayScheduler) Name() string {
	if s.Staircase {
		return "StepDecay"
	}
	return "ExponentialDecay"
}

// CosineScheduler anneals from Initial to Min over Period steps. With
// Restart the curve starts over every Period steps, otherwise it stays at Min.
type CosineScheduler struct {
	Initial float64
	Min     float64
	Period  int
	Restart bool
}

func (s CosineScheduler) GetLR(step int) float64 {
	if s.Period <= 0 {
		return s.Initial
	}
	if s.Restart {
		step %= s.Period
	} else if step >= s.Period {
		return s.Min
	}
	progress := float64(step) / float64(s.Period)
	return s.Min + (s.Initial-s.Min)*(1+math.Cos(math.Pi*progress))/2
}

func (s CosineScheduler) Name() string {
	if s.Restart {
		return "CosineWarmRestarts"
	}
	return "Cosine"
}

// PolynomialScheduler: lr = (initial-final)*(1-step/total)^power + final.
// Power 1 is a linear decay.
type PolynomialScheduler struct {
	Initial float64
	Final   float64
	Total   int
	Power   float64
}

func (s PolynomialScheduler) GetLR(step int) float64 {
	if step >= s.Total {
		return s.Final
	}
	remaining := 1 - float64(step)/float64(s.Total)
	return (s.Initial-s.Final)*math.Pow(remaining, s.Power) + s.Final
}

func (s PolynomialScheduler) Name() string {
	if s.Power == 1 {
		return "LinearDecay"
	}
	return "PolynomialDecay"
}

// WarmupScheduler ramps linearly from Start to Peak over Steps steps, then
// hands off to After (with the step count shifted) or holds Peak.
type WarmupScheduler struct {
	Steps int
	Start float64
	Peak  float64
	After LRScheduler
}

func (s WarmupScheduler) GetLR(step int) float64 {
	if step < s.Steps {
		return s.Start + (s.Peak-s.Start)*float64(step)/float64(s.Steps)
	}
	if s.After != nil {
		return s.After.GetLR(step - s.Steps)
	}
	return s.Peak
}

func (s WarmupScheduler) Name() string {
	if s.After != nil {
		return fmt.Sprintf("Warmup+%s", s.After.Name())
	}
	return "Warmup"
}

// ParseScheduler builds a scheduler from a CLI-style name around base.
// total is the expected number of steps.
func ParseScheduler(name string, base float64, total int) (LRScheduler, error) {
	switch name {
	case "", "constant":
		return ConstantScheduler(base), nil
	case "exponential":
		return ExponentialDecayScheduler{Initial: base, Rate: 0.96, DecaySteps: max(total/10, 1)}, nil
	case "step":
		return ExponentialDecayScheduler{Initial: base, Rate: 0.5, DecaySteps: max(total/3, 1), Staircase: true}, nil
	case "cosine":
		return CosineScheduler{Initial: base, Min: base / 100, Period: total}, nil
	case "linear":
		return PolynomialScheduler{Initial: base, Final: base / 100, Total: total, Power: 1}, nil
	case "warmup_cosine":
		warm := max(total/20, 1)
		return WarmupScheduler{Steps: warm, Start: base / 10, Peak: base,
			After: CosineScheduler{Initial: base, Min: base / 100, Period: total - warm}}, nil
	}
	return nil, fmt.Errorf("unknown scheduler %q", name)
}

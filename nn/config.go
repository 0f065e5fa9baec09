package nn

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
)

// Variant selects how moments are shaped and how the control signal scales alpha.
type Variant string

const (
	// VariantBase accumulates raw moments and scales alpha by (1 - signal*k)^k.
	VariantBase Variant = "adalpha"
	// VariantMomentum activates every moment delta and scales alpha by signal^k.
	VariantMomentum Variant = "adalpha_momentum"
)

// DomainPolicy decides what happens when the chaos factor has no real value.
type DomainPolicy string

const (
	DomainError DomainPolicy = "error"
	DomainClamp DomainPolicy = "clamp"
)

// Config holds the optimizer hyperparameters. The JSON form is the
// checkpoint format; moment tensors are checkpointed by the host.
type Config struct {
	LearningRate    float64      `json:"learning_rate"`
	Beta1           float64      `json:"beta_1"`
	Beta2           float64      `json:"beta_2"`
	Epsilon         float64      `json:"epsilon"`
	AMSGrad         bool         `json:"amsgrad"`
	ChaosPunishment float64      `json:"chaos_punishment"`
	Variant         Variant      `json:"variant"`
	DomainPolicy    DomainPolicy `json:"domain_policy,omitempty"`
	Workers         int          `json:"workers,omitempty"` // parallel parameter updates in Step (0/1 = serial)
}

// DefaultConfig returns the Keras Adam defaults with chaos punishment 1.
func DefaultConfig() Config {
	return Config{
		LearningRate:    0.001,
		Beta1:           0.9,
		Beta2:           0.999,
		Epsilon:         1e-7,
		ChaosPunishment: 1,
		Variant:         VariantBase,
		DomainPolicy:    DomainError,
	}
}

// Validate rejects configurations that cannot produce a real-valued step.
func (c Config) Validate() error {
	switch {
	case c.LearningRate < 0 || math.IsNaN(c.LearningRate) || math.IsInf(c.LearningRate, 0):
		return errors.Wrapf(ErrInvalidConfig, "learning_rate %v", c.LearningRate)
	case c.Beta1 < 0 || c.Beta1 >= 1 || math.IsNaN(c.Beta1):
		return errors.Wrapf(ErrInvalidConfig, "beta_1 %v not in [0,1)", c.Beta1)
	case c.Beta2 < 0 || c.Beta2 >= 1 || math.IsNaN(c.Beta2):
		return errors.Wrapf(ErrInvalidConfig, "beta_2 %v not in [0,1)", c.Beta2)
	case !(c.Epsilon > 0) || math.IsInf(c.Epsilon, 0):
		return errors.Wrapf(ErrInvalidConfig, "epsilon %v must be > 0", c.Epsilon)
	case !(c.ChaosPunishment >= 0) || math.IsInf(c.ChaosPunishment, 0):
		return errors.Wrapf(ErrInvalidConfig, "chaos_punishment %v must be finite and >= 0", c.ChaosPunishment)
	case c.Workers < 0:
		return errors.Wrapf(ErrInvalidConfig, "workers %d", c.Workers)
	}
	switch c.Variant {
	case VariantBase, VariantMomentum:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown variant %q", c.Variant)
	}
	switch c.DomainPolicy {
	case "", DomainError, DomainClamp:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown domain policy %q", c.DomainPolicy)
	}
	return nil
}

// SaveConfig writes c as indented JSON.
func SaveConfig(path string, c Config) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write config")
}

// LoadConfig reads a JSON config. Fields missing from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrap(err, "read config")
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, errors.Wrapf(err, "parse config %s", path)
	}
	return c, c.Validate()
}

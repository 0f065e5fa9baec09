package nn

import (
	"log/slog"
	"math"

	"github.com/pkg/errors"
)

// SignalSource turns the per-batch training loss into the control signal the
// next optimizer step consumes. The host calls OnBatchLoss once per batch,
// after every parameter update of that batch, and threads the result into
// the next Begin/Step call.
type SignalSource interface {
	OnBatchLoss(loss float64) float64
	Signal() float64
}

// DefaultScale is the constant the loss ratio is multiplied by.
const DefaultScale = 0.99

// LossRatioController keeps a fast EMA (a) and a slow EMA (b) of the loss and
// emits scale*a/b: above scale while loss rises against its trend, below it
// while loss falls. The signal is unbounded; a loss spike produces a large
// signal that feeds straight into alpha.
type LossRatioController struct {
	emaWeight float64
	scale     float64
	a, b      float64
	signal    float64
	logger    *slog.Logger
}

// NewLossRatioController requires emaWeight in (0,1] and a finite scale.
func NewLossRatioController(emaWeight, scale float64) (*LossRatioController, error) {
	if !(emaWeight > 0 && emaWeight <= 1) {
		return nil, errors.Wrapf(ErrInvalidConfig, "ema weight %v not in (0,1]", emaWeight)
	}
	if math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, errors.Wrapf(ErrInvalidConfig, "scale %v", scale)
	}
	return &LossRatioController{
		emaWeight: emaWeight,
		scale:     scale,
		a:         1,
		b:         1,
		signal:    DefaultSignal,
		logger:    slog.Default().With(slog.String("component", "loss_ratio")),
	}, nil
}

func (c *LossRatioController) OnBatchLoss(loss float64) float64 {
	w := c.emaWeight
	c.a = w*loss + (1-w)*c.a
	c.b = (1-w)*loss + w*c.b
	c.signal = c.scale * c.a / c.b
	if math.IsNaN(c.signal) || math.IsInf(c.signal, 0) {
		c.logger.Warn("non-finite control signal",
			slog.Float64("loss", loss),
			slog.Float64("a", c.a),
			slog.Float64("b", c.b))
	}
	return c.signal
}

func (c *LossRatioController) Signal() float64 { return c.signal }

// EMAs returns the fast and slow averages.
func (c *LossRatioController) EMAs() (a, b float64) { return c.a, c.b }

// HoldController emits a fixed signal regardless of loss and keeps the most
// recent losses for inspection.
type HoldController struct {
	hold   int
	losses []float64
	signal float64
}

// NewHoldController keeps up to hold losses and always emits signal.
func NewHoldController(hold int, signal float64) *HoldController {
	if hold < 0 {
		hold = 0
	}
	return &HoldController{hold: hold, signal: signal, losses: make([]float64, 0, hold)}
}

func (c *HoldController) OnBatchLoss(loss float64) float64 {
	if c.hold > 0 {
		if len(c.losses) == c.hold {
			copy(c.losses, c.losses[1:])
			c.losses = c.losses[:c.hold-1]
		}
		c.losses = append(c.losses, loss)
	}
	return c.signal
}

func (c *HoldController) Signal() float64 { return c.signal }

// Losses returns the retained window, oldest first.
func (c *HoldController) Losses() []float64 {
	return append([]float64(nil), c.losses...)
}

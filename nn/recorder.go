package nn

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// SignalRecorder wraps a SignalSource and records lr*signal per batch, the
// effective learning-rate curve. Recording has no effect on training.
type SignalRecorder struct {
	SignalSource
	lr      func() float64
	history []float64
}

// NewSignalRecorder records against a learning rate read at each batch.
// The history starts with a single 0 entry.
func NewSignalRecorder(src SignalSource, lr func() float64) *SignalRecorder {
	return &SignalRecorder{
		SignalSource: src,
		lr:           lr,
		history:      []float64{0},
	}
}

func (r *SignalRecorder) OnBatchLoss(loss float64) float64 {
	s := r.SignalSource.OnBatchLoss(loss)
	r.history = append(r.history, r.lr()*s)
	return s
}

// History returns a copy of the recorded series.
func (r *SignalRecorder) History() []float64 {
	return append([]float64(nil), r.history...)
}

// OnTrainEnd hands the full series to sink, e.g. a plotting front end.
func (r *SignalRecorder) OnTrainEnd(sink func(history []float64)) {
	if sink != nil {
		sink(r.History())
	}
}

type signalHistory struct {
	Label   string    `json:"label"`
	History []float64 `json:"history"`
}

// WriteJSON writes the series as {"label": ..., "history": [...]}.
func (r *SignalRecorder) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(signalHistory{
		Label:   "adalpha learning rate",
		History: r.history,
	}), "encode signal history")
}

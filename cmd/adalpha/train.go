package main

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/openfluke/adalpha/nn"
)

type trainConfig struct {
	Epochs    int
	Batches   int // per epoch
	BatchSize int
	Verbose   bool
}

type trainResult struct {
	InitialLoss float64
	FinalLoss   float64
	BestLoss    float64
	LossHistory []float64 // mean loss per epoch
	TotalTime   time.Duration
}

// train runs the host loop: every batch computes gradients, steps the
// optimizer with the signal produced after the previous batch, then feeds
// the batch loss to src for the next signal.
func train(opt *nn.Adalpha[float32], src nn.SignalSource, m *model, data *regression, cfg trainConfig) (*trainResult, error) {
	if err := opt.Build(m.params()); err != nil {
		return nil, errors.Wrap(err, "build optimizer")
	}

	result := &trainResult{
		BestLoss:    math.MaxFloat64,
		LossHistory: make([]float64, 0, cfg.Epochs),
	}
	start := time.Now()

	if cfg.Verbose {
		fmt.Printf("\n=== Training Configuration ===\n")
		fmt.Printf("Optimizer: %s\n", opt.Name())
		fmt.Printf("Epochs: %d\n", cfg.Epochs)
		fmt.Printf("Batches per Epoch: %d (size %d)\n", cfg.Batches, cfg.BatchSize)
		fmt.Println()
	}

	signal := src.Signal()
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		total := 0.0
		for b := 0; b < cfg.Batches; b++ {
			loss, grads := m.lossAndGrads(data.batch(cfg.BatchSize))
			if epoch == 0 && b == 0 {
				result.InitialLoss = loss
			}
			if err := opt.Step(signal, grads); err != nil {
				return result, errors.Wrapf(err, "epoch %d batch %d", epoch+1, b)
			}
			signal = src.OnBatchLoss(loss)
			total += loss
		}

		avg := total / float64(cfg.Batches)
		result.LossHistory = append(result.LossHistory, avg)
		result.FinalLoss = avg
		if avg < result.BestLoss {
			result.BestLoss = avg
		}
		if cfg.Verbose {
			fmt.Printf("Epoch %d/%d - Avg Loss: %.6f - Signal: %.4f\n", epoch+1, cfg.Epochs, avg, signal)
		}
	}

	result.TotalTime = time.Since(start)
	if cfg.Verbose {
		fmt.Printf("\n✅ Training complete in %v: loss %.6f -> %.6f (best %.6f)\n",
			result.TotalTime, result.InitialLoss, result.FinalLoss, result.BestLoss)
	}
	return result, nil
}

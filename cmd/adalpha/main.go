package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/openfluke/adalpha/gpu"
	"github.com/openfluke/adalpha/nn"
)

type options struct {
	configPath string
	saveConfig string
	historyOut string

	cfg       nn.Config
	scheduler string
	ema       float64
	scale     float64
	hold      int     // >0 replaces the loss-ratio controller with a fixed signal
	signal    float64 // signal used with -hold
	useGPU    bool

	seed              int64
	inDim, outDim     int
	vocab             int
	train             trainConfig
	verbose, debugLog bool
}

func parseFlags(args []string) (*options, error) {
	def := nn.DefaultConfig()
	o := &options{}
	fs := flag.NewFlagSet("adalpha", flag.ContinueOnError)

	fs.StringVar(&o.configPath, "config", "", "Load optimizer config from JSON (flags below override it only when set)")
	fs.StringVar(&o.saveConfig, "save-config", "", "Write the resolved optimizer config to this JSON file")
	fs.StringVar(&o.historyOut, "history", "", "Write the learning-rate*signal history to this JSON file")

	lr := fs.Float64("lr", 0.01, "Base learning rate")
	chaos := fs.Float64("chaos", 6, "Chaos punishment exponent k")
	variant := fs.String("variant", string(nn.VariantMomentum), "Optimizer variant: adalpha | adalpha_momentum")
	amsgrad := fs.Bool("amsgrad", def.AMSGrad, "Use the AMSGrad second moment")
	domain := fs.String("domain", string(def.DomainPolicy), "Chaos domain policy: error | clamp")
	workers := fs.Int("workers", 0, "Parameters updated in parallel per step (0/1 = serial)")

	fs.StringVar(&o.scheduler, "scheduler", "constant", "LR schedule: constant | exponential | step | cosine | linear | warmup_cosine")
	fs.Float64Var(&o.ema, "ema", 0.9, "Fast EMA weight of the loss-ratio controller")
	fs.Float64Var(&o.scale, "scale", nn.DefaultScale, "Scale applied to the loss ratio")
	fs.IntVar(&o.hold, "hold", 0, "Use a fixed signal and keep the last N losses instead of the loss-ratio controller")
	fs.Float64Var(&o.signal, "signal", nn.DefaultSignal, "Fixed signal used with -hold")
	fs.BoolVar(&o.useGPU, "gpu", false, "Run dense updates through the WebGPU kernel when an adapter is present")

	fs.Int64Var(&o.seed, "seed", 42, "Seed of the synthetic regression")
	fs.IntVar(&o.inDim, "in", 16, "Input features")
	fs.IntVar(&o.outDim, "out", 4, "Outputs")
	fs.IntVar(&o.vocab, "vocab", 64, "Rows of the embedding table")
	fs.IntVar(&o.train.Epochs, "epochs", 20, "Epochs")
	fs.IntVar(&o.train.Batches, "batches", 50, "Batches per epoch")
	fs.IntVar(&o.train.BatchSize, "batch-size", 32, "Samples per batch")
	fs.BoolVar(&o.verbose, "v", true, "Print progress")
	fs.BoolVar(&o.debugLog, "debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	o.cfg = def
	o.cfg.LearningRate = *lr
	o.cfg.ChaosPunishment = *chaos
	o.cfg.Variant = nn.Variant(*variant)
	if o.configPath != "" {
		loaded, err := nn.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		o.cfg = loaded
	}

	// Explicit flags win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lr":
			o.cfg.LearningRate = *lr
		case "chaos":
			o.cfg.ChaosPunishment = *chaos
		case "variant":
			o.cfg.Variant = nn.Variant(*variant)
		case "amsgrad":
			o.cfg.AMSGrad = *amsgrad
		case "domain":
			o.cfg.DomainPolicy = nn.DomainPolicy(*domain)
		case "workers":
			o.cfg.Workers = *workers
		}
	})
	o.train.Verbose = o.verbose

	if o.train.Epochs < 1 || o.train.Batches < 1 || o.train.BatchSize < 1 {
		return nil, errors.New("epochs, batches and batch-size must be positive")
	}
	if o.inDim < 1 || o.outDim < 1 || o.vocab < 1 {
		return nil, errors.New("in, out and vocab must be positive")
	}
	return o, o.cfg.Validate()
}

// setup wires optimizer, schedule, signal source and the optional kernel.
// The returned release func frees device resources.
func setup(o *options) (*nn.Adalpha[float32], *nn.SignalRecorder, func(), error) {
	release := func() {}

	opt, err := nn.New[float32](o.cfg)
	if err != nil {
		return nil, nil, release, err
	}

	total := o.train.Epochs * o.train.Batches
	sched, err := nn.ParseScheduler(o.scheduler, o.cfg.LearningRate, total)
	if err != nil {
		return nil, nil, release, err
	}
	opt.SetScheduler(sched)

	var src nn.SignalSource
	if o.hold > 0 {
		src = nn.NewHoldController(o.hold, o.signal)
	} else {
		ctrl, err := nn.NewLossRatioController(o.ema, o.scale)
		if err != nil {
			return nil, nil, release, err
		}
		src = ctrl
	}
	rec := nn.NewSignalRecorder(src, func() float64 {
		return sched.GetLR(max(opt.Iterations()-1, 0))
	})

	if o.useGPU {
		k, err := gpu.NewAdalphaKernel()
		if err != nil {
			slog.Warn("GPU kernel unavailable, using CPU", "error", err)
		} else {
			opt.SetKernel(k)
			release = k.Release
		}
	}
	return opt, rec, release, nil
}

func run(o *options) (*trainResult, *nn.SignalRecorder, error) {
	opt, rec, release, err := setup(o)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	data := newRegression(o.seed, o.inDim, o.outDim, o.vocab)
	m := newModel(data)

	result, err := train(opt, rec, m, data, o.train)
	if err != nil {
		return result, rec, err
	}

	if o.saveConfig != "" {
		if err := nn.SaveConfig(o.saveConfig, opt.Config()); err != nil {
			return result, rec, err
		}
	}
	if o.historyOut != "" {
		f, err := os.Create(o.historyOut)
		if err != nil {
			return result, rec, errors.Wrap(err, "create history file")
		}
		defer f.Close()
		if err := rec.WriteJSON(f); err != nil {
			return result, rec, err
		}
	}
	return result, rec, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid arguments: %v", err)
	}
	if o.debugLog {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	fmt.Printf("🚀 Adalpha synthetic regression\n")
	fmt.Printf("==============================\n")
	fmt.Printf("Variant: %s  k=%.3g  lr=%.3g  schedule=%s\n",
		o.cfg.Variant, o.cfg.ChaosPunishment, o.cfg.LearningRate, o.scheduler)

	result, rec, err := run(o)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	rec.OnTrainEnd(func(history []float64) {
		fmt.Printf("Recorded %d effective learning rates (last %.6g)\n", len(history), history[len(history)-1])
	})
	if o.historyOut != "" {
		fmt.Printf("✓ History written to %s\n", o.historyOut)
	}
	if result.FinalLoss >= result.InitialLoss {
		fmt.Printf("⚠️  Loss did not improve (%.6f -> %.6f)\n", result.InitialLoss, result.FinalLoss)
	}
}

package ml

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/b0tShaman/neuro-cast/data"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrNoBatches = errors.New("batch source yielded no batches")

// HyperParams are the tunable settings of one training run.
type HyperParams struct {
	LearningRate float64
	WeightDecay  float64
}

func (hp HyperParams) String() string {
	return fmt.Sprintf("lr=%g weight_decay=%g", hp.LearningRate, hp.WeightDecay)
}

// BatchSource yields one epoch of batches per call.
type BatchSource interface {
	Batches(ctx context.Context) iter.Seq[data.Batch]
}

type TrainingConfig struct {
	ModelPath    string // overwritten at the end of every run; empty skips saving
	Loss         LossType
	VerboseEvery int // How often to log progress (in epochs)

	// Optimizer Selection
	Optimizer OptimizerType

	// Optimizer Hyperparameters (Zero values will use defaults)
	MomentumMu float64 // For Momentum (usually 0.9)
	AdamBeta1  float64 // For Adam (usually 0.9)
	AdamBeta2  float64 // For Adam (usually 0.999)
	AdamEps    float64 // For Adam (usually 1e-8)

	Logger *logrus.Logger
}

func (cfg TrainingConfig) logger() *logrus.Logger {
	if cfg.Logger == nil {
		return logrus.StandardLogger()
	}
	return cfg.Logger
}

// trainer owns the per-worker state of one run.
type trainer struct {
	nw      *Forecaster
	params  []Param
	loss    LossType
	workers []*Workspace
	lossBuf []*lossBuffers
	grads   []*Matrix // reduced over workers
}

func newTrainer(nw *Forecaster, dev Device, loss LossType) *trainer {
	n := max(dev.Workers, 1)
	t := &trainer{
		nw:      nw,
		params:  nw.Params(),
		loss:    loss,
		workers: make([]*Workspace, n),
		lossBuf: make([]*lossBuffers, n),
		grads:   nw.NewGradients(),
	}
	for i := range t.workers {
		t.workers[i] = nw.NewWorkspace()
		t.lossBuf[i] = &lossBuffers{}
	}
	return t
}

// run splits the batch across workers. With backward set it also leaves
// the batch gradient in t.grads. It returns the batch-mean loss.
func (t *trainer) run(b data.Batch, backward bool) float64 {
	size := b.Len()
	numWorkers := min(len(t.workers), size)
	losses := make([]float64, numWorkers)

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	// --- A. Data Parallelism: Dispatch Workers ---
	for id := 0; id < numWorkers; id++ {
		go func(id int) {
			defer wg.Done()
			ws := t.workers[id]
			if backward {
				ws.ZeroGrad()
			}
			for i := id; i < size; i += numWorkers {
				x := ws.Load(b.Past[i])
				out := ws.Forward(x)
				future := NewMatrixFromDense(b.Future[i])
				losses[id] += sampleLoss(t.loss, out, future, size, t.lossBuf[id])
				if backward {
					ws.Backward(t.lossBuf[id].grad)
				}
			}
		}(id)
	}
	wg.Wait()

	// --- B. Aggregation Logic ---
	if backward {
		for p := range t.grads {
			copy(t.grads[p].data, t.workers[0].Grads[p].data)
			for w := 1; w < numWorkers; w++ {
				floats.Add(t.grads[p].data, t.workers[w].Grads[p].data)
			}
		}
	}
	return floats.Sum(losses)
}

// epoch runs one pass and returns the mean of the per-batch losses.
func (t *trainer) epoch(ctx context.Context, src BatchSource, opt Optimizer) (float64, error) {
	var batchLosses []float64
	for b := range src.Batches(ctx) {
		if b.Len() == 0 {
			continue
		}
		loss := t.run(b, opt != nil)
		if opt != nil {
			// --- C. Optimization ---
			opt.Update(t.params, t.grads)
		}
		batchLosses = append(batchLosses, loss)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(batchLosses) == 0 {
		return 0, ErrNoBatches
	}
	return stat.Mean(batchLosses, nil), nil
}

// TrainValidate trains nw for epochs passes over train, evaluating on val
// after each one, and saves the final weights to cfg.ModelPath. It returns
// the mean training and validation loss of every epoch.
func TrainValidate(ctx context.Context, nw *Forecaster, dev Device, hp HyperParams, epochs int,
	train, val BatchSource, cfg TrainingConfig) ([]float64, []float64, error) {
	if epochs <= 0 {
		return nil, nil, fmt.Errorf("epochs must be positive, got %d", epochs)
	}
	log := cfg.logger()
	verbose := max(cfg.VerboseEvery, 1)

	t := newTrainer(nw, dev, cfg.Loss)
	opt := NewOptimizer(t.params, hp, cfg)

	log.WithFields(logrus.Fields{
		"device":     dev.String(),
		"params":     nw.NumParams(),
		"hyper":      hp.String(),
		"epochs":     epochs,
		"loss":       cfg.Loss,
		"optimizer":  cfg.Optimizer,
		"checkpoint": cfg.ModelPath,
	}).Info("Starting Training...")

	trainLoss := make([]float64, 0, epochs)
	valLoss := make([]float64, 0, epochs)
	start := time.Now()

	for epoch := 1; epoch <= epochs; epoch++ {
		tl, err := t.epoch(ctx, train, opt)
		if err != nil {
			return trainLoss, valLoss, fmt.Errorf("epoch %d training: %w", epoch, err)
		}
		vl, err := t.epoch(ctx, val, nil)
		if err != nil {
			return trainLoss, valLoss, fmt.Errorf("epoch %d validation: %w", epoch, err)
		}
		trainLoss = append(trainLoss, tl)
		valLoss = append(valLoss, vl)

		// Logging
		if epoch%verbose == 0 || epoch == 1 || epoch == epochs {
			log.Infof("Epoch %d | Train Loss: %.6f | Val Loss: %.6f | Time: %v", epoch, tl, vl, time.Since(start))
		}
	}

	if cfg.ModelPath != "" {
		if err := nw.SaveToFile(cfg.ModelPath); err != nil {
			return trainLoss, valLoss, fmt.Errorf("save checkpoint: %w", err)
		}
		log.WithField("path", cfg.ModelPath).Info("Saved model")
	}
	log.Infof("Training Complete. Total Time: %v", time.Since(start))
	return trainLoss, valLoss, nil
}

// Evaluate returns the mean batch loss of nw over one pass of src.
func Evaluate(ctx context.Context, nw *Forecaster, dev Device, src BatchSource, loss LossType) (float64, error) {
	return newTrainer(nw, dev, loss).epoch(ctx, src, nil)
}

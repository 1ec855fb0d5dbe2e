package ml

import (
	"context"
	"errors"
	"iter"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/b0tShaman/neuro-cast/data"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// fixedSource replays the same batches every epoch.
type fixedSource []data.Batch

func (s fixedSource) Batches(ctx context.Context) iter.Seq[data.Batch] {
	return func(yield func(data.Batch) bool) {
		for _, b := range s {
			if ctx.Err() != nil || !yield(b) {
				return
			}
		}
	}
}

func makeBatches(seed uint64, numBatches, batchSize, channels, length int) fixedSource {
	rng := testRand(seed)
	var src fixedSource
	for b := 0; b < numBatches; b++ {
		batch := data.Batch{}
		for i := 0; i < batchSize; i++ {
			batch.Past = append(batch.Past, randomDense(rng, channels, length))
			batch.Future = append(batch.Future, randomDense(rng, channels, length))
			batch.Indices = append(batch.Indices, b*batchSize+i)
		}
		src = append(src, batch)
	}
	return src
}

func TestTrainValidateCurvesAndCheckpoint(t *testing.T) {
	cfg := tinyConfig()
	nw := NewForecaster(cfg, testRand(100))
	train := makeBatches(101, 2, 4, cfg.Channels, 8)
	val := makeBatches(102, 1, 3, cfg.Channels, 8)
	modelPath := filepath.Join(t.TempDir(), "nested", "model.gob")

	const epochs = 30
	trainLoss, valLoss, err := TrainValidate(context.Background(), nw, Device{Kind: DeviceCPU, Workers: 2},
		HyperParams{LearningRate: 1e-2}, epochs, train, val,
		TrainingConfig{ModelPath: modelPath, Logger: quietLogger(), VerboseEvery: 10})
	if err != nil {
		t.Fatalf("TrainValidate: %v", err)
	}
	if len(trainLoss) != epochs || len(valLoss) != epochs {
		t.Fatalf("got %d/%d curve entries, want %d", len(trainLoss), len(valLoss), epochs)
	}
	for i := range trainLoss {
		if math.IsNaN(trainLoss[i]) || math.IsNaN(valLoss[i]) {
			t.Fatalf("epoch %d produced NaN loss", i+1)
		}
	}
	if trainLoss[epochs-1] >= trainLoss[0] {
		t.Errorf("training loss did not decrease: first %v last %v", trainLoss[0], trainLoss[epochs-1])
	}

	if _, err := os.Stat(modelPath); err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}
	loaded, err := LoadForecaster(modelPath)
	if err != nil {
		t.Fatalf("LoadForecaster: %v", err)
	}
	x := NewMatrixFromDense(train[0].Past[0])
	if !floats.Equal(loaded.Forward(x).data, nw.Forward(x).data) {
		t.Fatal("checkpoint does not reproduce the trained network")
	}
}

func TestValidationDoesNotUpdateWeights(t *testing.T) {
	cfg := tinyConfig()
	nw := NewForecaster(cfg, testRand(110))
	before := nw.Forward(randomMatrix(testRand(111), cfg.Channels, 8))

	loss, err := Evaluate(context.Background(), nw, Device{Workers: 2}, makeBatches(112, 3, 2, cfg.Channels, 8), LossMSE)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if loss <= 0 {
		t.Fatalf("expected positive loss, got %v", loss)
	}
	after := nw.Forward(randomMatrix(testRand(111), cfg.Channels, 8))
	if !floats.Equal(before.data, after.data) {
		t.Fatal("evaluation changed the weights")
	}
}

func TestWorkerCountDoesNotChangeGradient(t *testing.T) {
	cfg := tinyConfig()
	nw := NewForecaster(cfg, testRand(120))
	batch := makeBatches(121, 1, 5, cfg.Channels, 8)[0]

	single := newTrainer(nw, Device{Workers: 1}, LossMSE)
	multi := newTrainer(nw, Device{Workers: 3}, LossMSE)
	l1 := single.run(batch, true)
	l3 := multi.run(batch, true)

	if math.Abs(l1-l3) > 1e-12 {
		t.Fatalf("loss differs: %v vs %v", l1, l3)
	}
	for p := range single.grads {
		if !floats.EqualApprox(single.grads[p].data, multi.grads[p].data, 1e-12) {
			t.Fatalf("gradient %d differs between worker counts", p)
		}
	}
}

func TestBatchLossIsMeanOverSamples(t *testing.T) {
	cfg := tinyConfig()
	nw := NewForecaster(cfg, testRand(130))
	batch := makeBatches(131, 1, 4, cfg.Channels, 8)[0]
	tr := newTrainer(nw, Device{Workers: 2}, LossMSE)
	got := tr.run(batch, false)

	want := 0.0
	for i := range batch.Past {
		one := data.Batch{Past: []*mat.Dense{batch.Past[i]}, Future: []*mat.Dense{batch.Future[i]}, Indices: []int{i}}
		want += tr.run(one, false) / 4
	}
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("batch loss %v, mean of samples %v", got, want)
	}
}

func TestTrainValidateErrors(t *testing.T) {
	cfg := tinyConfig()
	nw := NewForecaster(cfg, testRand(140))
	train := makeBatches(141, 1, 2, cfg.Channels, 8)
	tc := TrainingConfig{Logger: quietLogger()}
	dev := Device{Workers: 1}

	if _, _, err := TrainValidate(context.Background(), nw, dev, HyperParams{LearningRate: 1e-3}, 1, train, fixedSource{}, tc); !errors.Is(err, ErrNoBatches) {
		t.Fatalf("expected ErrNoBatches, got %v", err)
	}
	if _, _, err := TrainValidate(context.Background(), nw, dev, HyperParams{LearningRate: 1e-3}, 0, train, train, tc); err == nil {
		t.Fatal("expected error for zero epochs")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := TrainValidate(ctx, nw, dev, HyperParams{LearningRate: 1e-3}, 1, train, train, tc); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

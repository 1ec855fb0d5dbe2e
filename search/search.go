package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/b0tShaman/neuro-cast/ml"
	"github.com/b0tShaman/neuro-cast/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// DefaultEpochs is the per-combination training budget.
const DefaultEpochs = 20

// Trial is the outcome of one combination.
type Trial struct {
	Index       int
	Combination Combination
	TrainLoss   []float64
	ValLoss     []float64
}

// Trainer trains a fresh model for one combination and returns its
// per-epoch loss curves.
type Trainer interface {
	Train(ctx context.Context, index int, hp ml.HyperParams) (trainLoss, valLoss []float64, err error)
}

type TrainerFunc func(ctx context.Context, index int, hp ml.HyperParams) ([]float64, []float64, error)

func (f TrainerFunc) Train(ctx context.Context, index int, hp ml.HyperParams) ([]float64, []float64, error) {
	return f(ctx, index, hp)
}

// Reseeder is a batch source whose shuffle order can be reset, such as
// *data.Loader.
type Reseeder interface {
	Reseed(seed, stream uint64)
}

// ModelTrainer builds a new forecaster for every trial, seeded by Seed and
// the trial index, and trains it with ml.TrainValidate. When TrainData is a
// Reseeder its shuffle is reset to the same (Seed, index) stream, so a trial
// can be replayed exactly.
type ModelTrainer struct {
	Network   ml.NetworkConfig
	Seed      uint64
	Device    ml.Device
	TrainData ml.BatchSource
	ValData   ml.BatchSource
	Epochs    int
	Config    ml.TrainingConfig
}

func (m ModelTrainer) Train(ctx context.Context, index int, hp ml.HyperParams) ([]float64, []float64, error) {
	epochs := m.Epochs
	if epochs <= 0 {
		epochs = DefaultEpochs
	}
	if r, ok := m.TrainData.(Reseeder); ok {
		r.Reseed(m.Seed, uint64(index))
	}
	nw := ml.NewForecaster(m.Network, rand.New(rand.NewPCG(m.Seed, uint64(index))))
	return ml.TrainValidate(ctx, nw, m.Device, hp, epochs, m.TrainData, m.ValData, m.Config)
}

// Search runs every combination and keeps the one with the smallest
// validation curve.
type Search struct {
	Logger *logrus.Logger
	Store  storage.Store // optional
	RunID  string        // generated when empty
}

type Result struct {
	RunID       string
	Winner      Combination
	WinnerIndex int
	Trials      []Trial
}

func (s *Search) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

// Run trains combos in order. Any training error aborts the search.
func (s *Search) Run(ctx context.Context, combos []Combination, trainer Trainer) (Result, error) {
	if len(combos) == 0 {
		return Result{}, ErrEmptyGrid
	}
	log := s.logger()
	runID := s.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	started := time.Now()
	res := Result{RunID: runID, WinnerIndex: -1}

	for i, combo := range combos {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hp, err := HyperParamsOf(combo)
		if err != nil {
			return res, fmt.Errorf("combination %d: %w", i, err)
		}

		entry := log.WithFields(logrus.Fields{"run": runID, "trial": i + 1, "of": len(combos)})
		entry.Infof("Training with %s", combo)

		trainLoss, valLoss, err := trainer.Train(ctx, i, hp)
		if err != nil {
			if serr := s.saveTrial(ctx, runID, i, combo, trainLoss, valLoss, err); serr != nil {
				entry.WithError(serr).Warn("Could not record failed trial")
			}
			return res, fmt.Errorf("combination %d (%s): %w", i, combo, err)
		}
		trial := Trial{Index: i, Combination: combo, TrainLoss: trainLoss, ValLoss: valLoss}
		res.Trials = append(res.Trials, trial)
		if err := s.saveTrial(ctx, runID, i, combo, trainLoss, valLoss, nil); err != nil {
			return res, err
		}

		if res.WinnerIndex < 0 || lessCurve(valLoss, res.Trials[res.WinnerIndex].ValLoss) {
			res.WinnerIndex = i
			res.Winner = combo
		}
		if n := len(valLoss); n > 0 {
			entry.WithField("val_loss", valLoss[n-1]).Info("Trial complete")
		}
	}

	winner := res.Trials[res.WinnerIndex]
	log.WithFields(logrus.Fields{
		"run":            runID,
		"winner":         res.Winner.String(),
		"final_val_mean": stat.Mean(finalLosses(res.Trials), nil),
		"elapsed":        time.Since(started),
	}).Info("Search complete")

	if s.Store != nil {
		err := s.Store.SaveRun(ctx, storage.RunRecord{
			VersionedRecord: storage.CurrentVersion(),
			RunID:           runID,
			StartedAt:       started,
			FinishedAt:      time.Now(),
			Trials:          len(res.Trials),
			WinnerIndex:     res.WinnerIndex,
			Winner:          values(res.Winner),
			WinnerLoss:      winner.ValLoss,
		})
		if err != nil {
			return res, fmt.Errorf("save run %s: %w", runID, err)
		}
	}
	return res, nil
}

func (s *Search) saveTrial(ctx context.Context, runID string, index int, combo Combination, trainLoss, valLoss []float64, trainErr error) error {
	if s.Store == nil {
		return nil
	}
	rec := storage.TrialRecord{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		Index:           index,
		Params:          values(combo),
		TrainLoss:       trainLoss,
		ValLoss:         valLoss,
	}
	if trainErr != nil {
		rec.Error = trainErr.Error()
	}
	if err := s.Store.SaveTrial(ctx, rec); err != nil {
		return fmt.Errorf("save trial %d: %w", index, err)
	}
	return nil
}

func values(c Combination) []storage.Value {
	out := make([]storage.Value, len(c.names))
	for i := range c.names {
		out[i] = storage.Value{Name: c.names[i], Value: c.values[i]}
	}
	return out
}

// finalLosses collects the last finite validation loss of each trial.
func finalLosses(trials []Trial) []float64 {
	var out []float64
	for _, t := range trials {
		if n := len(t.ValLoss); n > 0 && !math.IsNaN(t.ValLoss[n-1]) && !math.IsInf(t.ValLoss[n-1], 0) {
			out = append(out, t.ValLoss[n-1])
		}
	}
	return out
}

// lessCurve compares loss curves element by element; the first differing
// epoch decides and a strict prefix is smaller. NaN ranks as +Inf so a
// diverged run never wins against a finite one.
func lessCurve(a, b []float64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		x, y := rank(a[i]), rank(b[i])
		if x != y {
			return x < y
		}
	}
	return len(a) < len(b)
}

func rank(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

// IsCanceled reports whether a search stopped because ctx ended.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

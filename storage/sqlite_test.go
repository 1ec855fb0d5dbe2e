package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreTrialAndRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "search.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	diverged := TrialRecord{
		VersionedRecord: CurrentVersion(),
		RunID:           "run-1",
		Index:           1,
		Params:          []Value{{Name: "lr", Value: 10}},
		TrainLoss:       Curve{1, math.Inf(1)},
		ValLoss:         Curve{1, math.NaN()},
	}
	good := TrialRecord{
		VersionedRecord: CurrentVersion(),
		RunID:           "run-1",
		Index:           0,
		Params:          []Value{{Name: "lr", Value: 1e-3}},
		TrainLoss:       Curve{0.9, 0.8},
		ValLoss:         Curve{0.95, 0.85},
	}
	for _, trial := range []TrialRecord{diverged, good} {
		if err := store.SaveTrial(ctx, trial); err != nil {
			t.Fatalf("save trial %d: %v", trial.Index, err)
		}
	}

	trials, ok, err := store.GetTrials(ctx, "run-1")
	if err != nil {
		t.Fatalf("get trials: %v", err)
	}
	if !ok || len(trials) != 2 {
		t.Fatalf("expected 2 trials, got ok=%v n=%d", ok, len(trials))
	}
	if trials[0].Index != 0 || trials[1].Index != 1 {
		t.Fatalf("trials not ordered by index: %+v", trials)
	}
	if !math.IsNaN(trials[1].ValLoss[1]) || !math.IsNaN(trials[1].TrainLoss[1]) {
		t.Fatalf("non-finite losses should read back as NaN: %+v", trials[1])
	}

	// Saving the same index again replaces it.
	good.ValLoss = Curve{0.5, 0.4}
	if err := store.SaveTrial(ctx, good); err != nil {
		t.Fatalf("resave trial: %v", err)
	}
	trials, _, _ = store.GetTrials(ctx, "run-1")
	if len(trials) != 2 || trials[0].ValLoss[1] != 0.4 {
		t.Fatalf("expected upsert, got %+v", trials)
	}

	run := RunRecord{
		VersionedRecord: CurrentVersion(),
		RunID:           "run-1",
		Trials:          2,
		WinnerIndex:     0,
		Winner:          good.Params,
		WinnerLoss:      good.ValLoss,
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	loaded, ok, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || loaded.Trials != 2 || loaded.Winner[0].Value != 1e-3 {
		t.Fatalf("unexpected run: ok=%v %+v", ok, loaded)
	}

	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, got ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"))
	if _, _, err := store.GetRun(context.Background(), "r"); err == nil {
		t.Fatal("expected error before init")
	}
}

package storage

import "context"

// Store persists hyperparameter search results.
type Store interface {
	Init(ctx context.Context) error
	SaveTrial(ctx context.Context, trial TrialRecord) error
	// GetTrials returns the trials of a run ordered by index.
	GetTrials(ctx context.Context, runID string) ([]TrialRecord, bool, error)
	SaveRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, runID string) (RunRecord, bool, error)
}

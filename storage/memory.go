package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	trials      map[string]map[int]TrialRecord
	runs        map[string]RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.trials = make(map[string]map[int]TrialRecord)
	s.runs = make(map[string]RunRecord)
	return nil
}

func (s *MemoryStore) SaveTrial(_ context.Context, trial TrialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	byIndex, ok := s.trials[trial.RunID]
	if !ok {
		byIndex = make(map[int]TrialRecord)
		s.trials[trial.RunID] = byIndex
	}
	byIndex[trial.Index] = copyTrial(trial)
	return nil
}

func (s *MemoryStore) GetTrials(_ context.Context, runID string) ([]TrialRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byIndex, ok := s.trials[runID]
	if !ok {
		return nil, false, nil
	}
	out := make([]TrialRecord, 0, len(byIndex))
	for _, trial := range byIndex {
		out = append(out, copyTrial(trial))
	}
	slices.SortFunc(out, func(a, b TrialRecord) int { return a.Index - b.Index })
	return out, true, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.runs[run.RunID] = copyRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, false, nil
	}
	return copyRun(run), true, nil
}

func copyTrial(t TrialRecord) TrialRecord {
	t.Params = append([]Value(nil), t.Params...)
	t.TrainLoss = append(Curve(nil), t.TrainLoss...)
	t.ValLoss = append(Curve(nil), t.ValLoss...)
	return t
}

func copyRun(r RunRecord) RunRecord {
	r.Winner = append([]Value(nil), r.Winner...)
	r.WinnerLoss = append(Curve(nil), r.WinnerLoss...)
	return r
}

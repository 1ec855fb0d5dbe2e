package storage

import (
	"encoding/json"
	"math"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// CurrentVersion stamps a record with the versions this build writes.
func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// Value is one named hyperparameter setting.
type Value struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Curve is a per-epoch loss sequence. Diverged epochs (NaN, ±Inf) are
// stored as null and read back as NaN.
type Curve []float64

func (c Curve) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(c))
	for i := range c {
		if !math.IsNaN(c[i]) && !math.IsInf(c[i], 0) {
			out[i] = &c[i]
		}
	}
	return json.Marshal(out)
}

func (c *Curve) UnmarshalJSON(data []byte) error {
	var in []*float64
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in == nil {
		*c = nil
		return nil
	}
	out := make(Curve, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*c = out
	return nil
}

// TrialRecord is the outcome of training one hyperparameter combination.
type TrialRecord struct {
	VersionedRecord
	RunID     string  `json:"run_id"`
	Index     int     `json:"index"`
	Params    []Value `json:"params"`
	TrainLoss Curve   `json:"train_loss"`
	ValLoss   Curve   `json:"val_loss"`
	Error     string  `json:"error,omitempty"`
}

// RunRecord summarises one search.
type RunRecord struct {
	VersionedRecord
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Trials      int       `json:"trials"`
	WinnerIndex int       `json:"winner_index"`
	Winner      []Value   `json:"winner"`
	WinnerLoss  Curve     `json:"winner_val_loss"`
}

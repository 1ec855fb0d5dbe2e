package storage

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestDecodeTrialRejectsVersionMismatch(t *testing.T) {
	payload, err := EncodeTrial(TrialRecord{
		VersionedRecord: VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion},
		RunID:           "r",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeTrial(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestCurveEncodesNonFiniteAsNull(t *testing.T) {
	payload, err := EncodeRun(RunRecord{
		VersionedRecord: CurrentVersion(),
		RunID:           "r",
		WinnerLoss:      Curve{0.5, math.NaN(), math.Inf(-1)},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(payload), `"winner_val_loss":[0.5,null,null]`) {
		t.Fatalf("unexpected payload: %s", payload)
	}

	run, err := DecodeRun(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.WinnerLoss[0] != 0.5 || !math.IsNaN(run.WinnerLoss[1]) || !math.IsNaN(run.WinnerLoss[2]) {
		t.Fatalf("unexpected curve: %v", run.WinnerLoss)
	}
}

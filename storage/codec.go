package storage

import (
	"encoding/json"
	"errors"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeTrial(t TrialRecord) ([]byte, error) {
	return json.Marshal(t)
}

func DecodeTrial(data []byte) (TrialRecord, error) {
	var trial TrialRecord
	if err := json.Unmarshal(data, &trial); err != nil {
		return TrialRecord{}, err
	}
	if err := checkVersion(trial.VersionedRecord); err != nil {
		return TrialRecord{}, err
	}
	return trial, nil
}

func EncodeRun(r RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (RunRecord, error) {
	var run RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return RunRecord{}, err
	}
	return run, nil
}

func checkVersion(v VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

package ml

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
)

var ErrCheckpointMismatch = errors.New("checkpoint does not match network")

type paramData struct {
	Name  string
	Value *Matrix
}

type networkData struct {
	Config NetworkConfig
	Params []paramData
}

// SaveToFile writes the configuration and every weight. The file is
// replaced atomically so a crash never leaves a truncated checkpoint.
func (nw *Forecaster) SaveToFile(filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := filename + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	params := nw.Params()
	nd := networkData{Config: nw.Config, Params: make([]paramData, len(params))}
	for i, p := range params {
		nd.Params[i] = paramData{Name: p.Name, Value: p.Value}
	}

	if err := gob.NewEncoder(file).Encode(nd); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filename)
}

// LoadFromFile copies weights from a checkpoint written by SaveToFile. The
// network is left untouched unless every tensor matches.
func (nw *Forecaster) LoadFromFile(filename string) error {
	loaded, err := readCheckpoint(filename)
	if err != nil {
		return err
	}
	return nw.apply(loaded)
}

// LoadForecaster builds a network from the configuration stored in a
// checkpoint and fills in its weights.
func LoadForecaster(filename string) (*Forecaster, error) {
	loaded, err := readCheckpoint(filename)
	if err != nil {
		return nil, err
	}
	if err := loaded.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointMismatch, err)
	}
	// Weights are overwritten by apply; the seed only shapes the skeleton.
	nw := NewForecaster(loaded.Config, rand.New(rand.NewPCG(0, 0)))
	if err := nw.apply(loaded); err != nil {
		return nil, err
	}
	return nw, nil
}

func readCheckpoint(filename string) (networkData, error) {
	file, err := os.Open(filename)
	if err != nil {
		return networkData{}, err
	}
	defer file.Close()

	var loaded networkData
	if err := gob.NewDecoder(file).Decode(&loaded); err != nil {
		return networkData{}, fmt.Errorf("failed to decode gob file: %w", err)
	}
	return loaded, nil
}

func (nw *Forecaster) apply(loaded networkData) error {
	// --- VALIDATION STEP ---
	if loaded.Config != nw.Config {
		return fmt.Errorf("%w: architecture %+v, model file has %+v", ErrCheckpointMismatch, nw.Config, loaded.Config)
	}
	params := nw.Params()
	if len(params) != len(loaded.Params) {
		return fmt.Errorf("%w: %d tensors, model file has %d", ErrCheckpointMismatch, len(params), len(loaded.Params))
	}
	for i, p := range params {
		lp := loaded.Params[i]
		if lp.Name != p.Name {
			return fmt.Errorf("%w: tensor %d is %q, model file has %q", ErrCheckpointMismatch, i, p.Name, lp.Name)
		}
		if lp.Value == nil || lp.Value.rows != p.Value.rows || lp.Value.cols != p.Value.cols {
			return fmt.Errorf("%w: %s shape", ErrCheckpointMismatch, p.Name)
		}
	}

	// --- APPLICATION STEP ---
	for i, p := range params {
		copy(p.Value.data, loaded.Params[i].Value.data)
	}
	return nil
}

// Package config loads the YAML run description.
package config

import (
	"fmt"
	"os"

	"github.com/b0tShaman/neuro-cast/data"
	"github.com/b0tShaman/neuro-cast/ml"
	"github.com/b0tShaman/neuro-cast/search"
	"github.com/b0tShaman/neuro-cast/storage"
	"gopkg.in/yaml.v2"
)

type Data struct {
	Layout       data.Layout `yaml:"layout"`
	Split        data.Split  `yaml:"split"`
	SamplingRate float64     `yaml:"sampling_rate"`
	PastLength   int         `yaml:"past_length"`
	FutureLength int         `yaml:"future_length"`
	Compress     bool        `yaml:"compress"`
	Channels     int         `yaml:"channels"`
	Normalize    string      `yaml:"normalize"`
	RunColumn    string      `yaml:"run_column"`
	OnsetColumn  string      `yaml:"onset_column"`
}

type Loader struct {
	BatchSize int  `yaml:"batch_size"`
	Workers   int  `yaml:"workers"`
	Prefetch  int  `yaml:"prefetch"`
	Shuffle   bool `yaml:"shuffle"`
}

type Network struct {
	ResidualChannels int    `yaml:"residual_channels"`
	SkipChannels     int    `yaml:"skip_channels"`
	EndChannels      int    `yaml:"end_channels"`
	Layers           int    `yaml:"layers"`
	KernelSize       int    `yaml:"kernel_size"`
	Init             string `yaml:"init"`
}

type Training struct {
	Grid         search.Grid `yaml:"grid"`
	SearchEpochs int         `yaml:"search_epochs"`
	FinalEpochs  int         `yaml:"final_epochs"`
	Seed         uint64      `yaml:"seed"`
	Device       string      `yaml:"device"`
	Workers      int         `yaml:"workers"` // gradient workers; 0 means GOMAXPROCS
	Loss         string      `yaml:"loss"`
	Optimizer    string      `yaml:"optimizer"`
	MomentumMu   float64     `yaml:"momentum_mu"`
	VerboseEvery int         `yaml:"verbose_every"`
	ModelPath    string      `yaml:"model_path"`
}

type Store struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type Config struct {
	Data      Data     `yaml:"data"`
	Loader    Loader   `yaml:"loader"`
	Network   Network  `yaml:"network"`
	Training  Training `yaml:"training"`
	Store     Store    `yaml:"store"`
	OutputDir string   `yaml:"output_dir"` // forecasts of the test split; empty skips them
	LogLevel  string   `yaml:"log_level"`
}

// Default is the 14-channel, 500 Hz setup with one second windows.
func Default() Config {
	return Config{
		Data: Data{
			Layout:       data.DefaultLayout,
			SamplingRate: 500,
			PastLength:   1000,
			FutureLength: 1000,
			Compress:     true,
			Channels:     14,
			RunColumn:    "run",
			OnsetColumn:  "onset",
		},
		Loader: Loader{
			BatchSize: 32,
			Workers:   2,
			Shuffle:   true,
		},
		Network: Network{
			ResidualChannels: ml.DefaultNetworkConfig.ResidualChannels,
			SkipChannels:     ml.DefaultNetworkConfig.SkipChannels,
			EndChannels:      ml.DefaultNetworkConfig.EndChannels,
			Layers:           ml.DefaultNetworkConfig.Layers,
			KernelSize:       ml.DefaultNetworkConfig.KernelSize,
			Init:             string(ml.InitDefault),
		},
		Training: Training{
			Grid: search.Grid{
				{Name: search.ParamLearningRate, Values: []float64{1e-3, 1e-4}},
				{Name: search.ParamWeightDecay, Values: []float64{0, 1e-5}},
			},
			SearchEpochs: search.DefaultEpochs,
			FinalEpochs:  100,
			Seed:         42,
			Device:       string(ml.DeviceAuto),
			Loss:         string(ml.LossMSE),
			Optimizer:    string(ml.OptAdam),
			MomentumMu:   0.9,
			VerboseEvery: 1,
			ModelPath:    "assets/model.gob",
		},
		Store:    Store{Kind: storage.KindMemory},
		LogLevel: "info",
	}
}

// Load reads path on top of Default, so a file only needs the keys it
// changes.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	d := c.Data
	if d.SamplingRate <= 0 {
		return fmt.Errorf("sampling_rate must be positive")
	}
	if d.PastLength <= 0 || d.FutureLength <= 0 {
		return fmt.Errorf("window lengths must be positive")
	}
	if d.PastLength != d.FutureLength {
		return fmt.Errorf("past_length (%d) and future_length (%d) must match: the forecast has the input's length", d.PastLength, d.FutureLength)
	}
	if d.Channels <= 0 {
		return fmt.Errorf("channels must be positive")
	}
	if _, err := data.ParseNormalization(d.Normalize); err != nil {
		return err
	}
	if err := d.Split.Validate(); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	if len(d.Split.Validation) == 0 {
		return fmt.Errorf("split: no validation subjects")
	}
	if c.Loader.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if err := c.NetworkConfig().Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}

	t := c.Training
	combos, err := search.Combine(t.Grid)
	if err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	for _, combo := range combos {
		if _, err := search.HyperParamsOf(combo); err != nil {
			return fmt.Errorf("grid: %w", err)
		}
	}
	if t.SearchEpochs <= 0 || t.FinalEpochs <= 0 {
		return fmt.Errorf("epoch counts must be positive")
	}
	if _, err := ml.ParseLoss(t.Loss); err != nil {
		return err
	}
	if _, err := ml.ParseOptimizer(t.Optimizer); err != nil {
		return err
	}
	switch ml.DeviceKind(t.Device) {
	case "", ml.DeviceAuto, ml.DeviceCPU, ml.DeviceAccelerator:
	default:
		return fmt.Errorf("unknown device %q", t.Device)
	}
	switch c.Store.Kind {
	case "", storage.KindMemory:
	case storage.KindSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite needs a path")
		}
	default:
		return fmt.Errorf("store: unknown kind %q", c.Store.Kind)
	}
	return nil
}

func (c Config) NetworkConfig() ml.NetworkConfig {
	return ml.NetworkConfig{
		Channels:         c.Data.Channels,
		ResidualChannels: c.Network.ResidualChannels,
		SkipChannels:     c.Network.SkipChannels,
		EndChannels:      c.Network.EndChannels,
		Layers:           c.Network.Layers,
		KernelSize:       c.Network.KernelSize,
		Init:             ml.InitType(c.Network.Init),
	}
}

func (c Config) ExtractOptions() data.ExtractOptions {
	return data.ExtractOptions{
		SamplingRate: c.Data.SamplingRate,
		PastLength:   c.Data.PastLength,
		FutureLength: c.Data.FutureLength,
		Compress:     c.Data.Compress,
		Channels:     c.Data.Channels,
		RunColumn:    c.Data.RunColumn,
		OnsetColumn:  c.Data.OnsetColumn,
	}
}

// LoaderConfig is the batch supplier setup; only the training split is
// shuffled.
func (c Config) LoaderConfig(shuffle bool) data.LoaderConfig {
	return data.LoaderConfig{
		BatchSize: c.Loader.BatchSize,
		Shuffle:   shuffle && c.Loader.Shuffle,
		Workers:   c.Loader.Workers,
		Prefetch:  c.Loader.Prefetch,
		Seed:      int64(c.Training.Seed),
	}
}

func (c Config) TrainingConfig() ml.TrainingConfig {
	loss, _ := ml.ParseLoss(c.Training.Loss)
	opt, _ := ml.ParseOptimizer(c.Training.Optimizer)
	return ml.TrainingConfig{
		ModelPath:    c.Training.ModelPath,
		Loss:         loss,
		VerboseEvery: c.Training.VerboseEvery,
		Optimizer:    opt,
		MomentumMu:   c.Training.MomentumMu,
	}
}

package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	InitDefault InitType = "default"
	InitHe      InitType = "he"
	InitXavier  InitType = "xavier"
)

// -------- TYPE DEFINITIONS -------- //
type InitType string
type NetworkOption func(*NetworkConfig)

// NetworkConfig holds the blueprint of the forecaster.
type NetworkConfig struct {
	Channels         int // raw signal channels (input and output)
	ResidualChannels int
	SkipChannels     int
	EndChannels      int
	Layers           int // dilated blocks; block i uses dilation 2^i
	KernelSize       int
	Init             InitType
}

// DefaultNetworkConfig matches the reference 14-channel EEG setup.
var DefaultNetworkConfig = NetworkConfig{
	Channels:         14,
	ResidualChannels: 32,
	SkipChannels:     64,
	EndChannels:      64,
	Layers:           8,
	KernelSize:       2,
	Init:             InitDefault,
}

// ------- NETWORK CONFIG HELPERS ------- //
func Channels(n int) NetworkOption {
	return func(c *NetworkConfig) { c.Channels = n }
}

func ResidualChannels(n int) NetworkOption {
	return func(c *NetworkConfig) { c.ResidualChannels = n }
}

func SkipChannels(n int) NetworkOption {
	return func(c *NetworkConfig) { c.SkipChannels = n }
}

func EndChannels(n int) NetworkOption {
	return func(c *NetworkConfig) { c.EndChannels = n }
}

func Layers(n int) NetworkOption {
	return func(c *NetworkConfig) { c.Layers = n }
}

func KernelSize(k int) NetworkOption {
	return func(c *NetworkConfig) { c.KernelSize = k }
}

func Initializer(init InitType) NetworkOption {
	return func(c *NetworkConfig) {
		switch init {
		case InitDefault, InitHe, InitXavier:
		default:
			panic("Unknown initializer: " + string(init))
		}
		c.Init = init
	}
}

// NewNetworkConfig applies opts on top of DefaultNetworkConfig.
func NewNetworkConfig(opts ...NetworkOption) NetworkConfig {
	cfg := DefaultNetworkConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate reports impossible widths or depths.
func (c NetworkConfig) Validate() error {
	if c.Channels <= 0 || c.ResidualChannels <= 0 || c.SkipChannels <= 0 || c.EndChannels <= 0 {
		return fmt.Errorf("invalid channel widths: %+v", c)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("network must have at least one dilated block")
	}
	if c.KernelSize <= 0 {
		return fmt.Errorf("kernel size must be positive, got %d", c.KernelSize)
	}
	switch c.Init {
	case "", InitDefault, InitHe, InitXavier:
	default:
		return fmt.Errorf("unknown initializer %q", c.Init)
	}
	return nil
}

// ReceptiveField is the number of past samples (inclusive of t) that can
// influence output t.
func (c NetworkConfig) ReceptiveField() int {
	rf := 1
	for i := 0; i < c.Layers; i++ {
		rf += (c.KernelSize - 1) * (1 << i)
	}
	return rf
}

func initialize(m *Matrix, init InitType, rng *rand.Rand, fanIn, fanOut int) {
	switch init {
	case InitHe:
		m.Randomize(rng, fanIn)
	case InitXavier:
		m.RandomizeXavier(rng, fanIn, fanOut)
	default:
		// U(-1/sqrt(fanIn), 1/sqrt(fanIn))
		limit := 1.0 / math.Sqrt(float64(fanIn))
		for i := range m.data {
			m.data[i] = (rng.Float64()*2 - 1) * limit
		}
	}
}

func Relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func ReluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// SoftmaxColumns applies softmax down each column of m, i.e. across
// channels independently for every time step.
func SoftmaxColumns(dst, m *Matrix) {
	if dst.rows != m.rows || dst.cols != m.cols {
		panic("Shape mismatch in SoftmaxColumns")
	}
	for j := 0; j < m.cols; j++ {
		maxVal := -math.MaxFloat64
		for i := 0; i < m.rows; i++ {
			if v := m.data[i*m.cols+j]; v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		for i := 0; i < m.rows; i++ {
			val := math.Exp(m.data[i*m.cols+j] - maxVal)
			dst.data[i*m.cols+j] = val
			sum += val
		}
		for i := 0; i < m.rows; i++ {
			dst.data[i*m.cols+j] /= sum
		}
	}
}

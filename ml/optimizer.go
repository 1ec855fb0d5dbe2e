package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	OptSGD      OptimizerType = "sgd"
	OptMomentum OptimizerType = "momentum"
	OptAdam     OptimizerType = "adam"
)

// Default settings generally recommended for Adam
var DefaultAdamConfig = AdamConfig{
	Beta1:        0.9,
	Beta2:        0.999,
	Epsilon:      1e-8,
	LearningRate: 0.001,
}

type OptimizerType string

func ParseOptimizer(s string) (OptimizerType, error) {
	switch OptimizerType(s) {
	case "", OptAdam:
		return OptAdam, nil
	case OptSGD:
		return OptSGD, nil
	case OptMomentum:
		return OptMomentum, nil
	default:
		return "", fmt.Errorf("unknown optimizer %q", s)
	}
}

type AdamConfig struct {
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	LearningRate float64
	// WeightDecay adds WeightDecay*theta to every gradient (L2 penalty).
	WeightDecay float64
}

type AdamOptimizer struct {
	cfg      AdamConfig
	m, v     [][]float64
	timeStep int // 't' in the Adam paper, tracks number of updates
}

type SGDOptimizer struct {
	LearningRate float64
	WeightDecay  float64
}

type MomentumOptimizer struct {
	LearningRate float64
	WeightDecay  float64
	Mu           float64 // Momentum Factor (usually 0.9)

	velocity [][]float64
}

// Optimizer applies one update step. grads[i] is the gradient of params[i].
type Optimizer interface {
	Update(params []Param, grads []*Matrix)
}

func NewOptimizer(params []Param, hp HyperParams, cfg TrainingConfig) Optimizer {
	switch cfg.Optimizer {
	case OptMomentum:
		return NewMomentumOptimizer(params, hp.LearningRate, hp.WeightDecay, cfg.MomentumMu)

	case OptSGD:
		return &SGDOptimizer{LearningRate: hp.LearningRate, WeightDecay: hp.WeightDecay}

	default:
		// Set defaults if 0
		beta1 := cfg.AdamBeta1
		if beta1 == 0 {
			beta1 = DefaultAdamConfig.Beta1
		}
		beta2 := cfg.AdamBeta2
		if beta2 == 0 {
			beta2 = DefaultAdamConfig.Beta2
		}
		eps := cfg.AdamEps
		if eps == 0 {
			eps = DefaultAdamConfig.Epsilon
		}

		return NewAdamOptimizer(params, AdamConfig{
			Beta1:        beta1,
			Beta2:        beta2,
			Epsilon:      eps,
			LearningRate: hp.LearningRate,
			WeightDecay:  hp.WeightDecay,
		})
	}
}

func NewAdamOptimizer(params []Param, cfg AdamConfig) *AdamOptimizer {
	opt := &AdamOptimizer{
		cfg: cfg,
		m:   make([][]float64, len(params)),
		v:   make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.m[i] = make([]float64, len(p.Value.data))
		opt.v[i] = make([]float64, len(p.Value.data))
	}
	return opt
}

func NewMomentumOptimizer(params []Param, lr, weightDecay, mu float64) *MomentumOptimizer {
	if mu == 0 {
		mu = 0.9
	} // Default

	opt := &MomentumOptimizer{
		LearningRate: lr,
		WeightDecay:  weightDecay,
		Mu:           mu,
		velocity:     make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.velocity[i] = make([]float64, len(p.Value.data))
	}
	return opt
}

func checkShapes(params []Param, grads []*Matrix) {
	if len(params) != len(grads) {
		panic(fmt.Sprintf("Optimizer got %d gradients for %d parameters", len(grads), len(params)))
	}
}

// ------ ADAM OPTIMIZER METHODS ------ //
// Update applies the Adam update rule to every parameter.
func (opt *AdamOptimizer) Update(params []Param, grads []*Matrix) {
	checkShapes(params, grads)

	// 1. Increment Time Step
	opt.timeStep++
	t := float64(opt.timeStep)

	// 2. Pre-calculate Correction Factors
	// correction1 = 1 - beta1^t
	// correction2 = 1 - beta2^t
	correction1 := 1.0 - math.Pow(opt.cfg.Beta1, t)
	correction2 := 1.0 - math.Pow(opt.cfg.Beta2, t)

	beta1 := opt.cfg.Beta1
	beta2 := opt.cfg.Beta2
	eps := opt.cfg.Epsilon
	lr := opt.cfg.LearningRate
	wd := opt.cfg.WeightDecay

	for p, param := range params {
		theta, g, m, v := param.Value.data, grads[p].data, opt.m[p], opt.v[p]

		for i := range theta {
			gi := g[i] + wd*theta[i]

			// m_t = beta1 * m_{t-1} + (1 - beta1) * g
			m[i] = beta1*m[i] + (1.0-beta1)*gi

			// v_t = beta2 * v_{t-1} + (1 - beta2) * g^2
			v[i] = beta2*v[i] + (1.0-beta2)*(gi*gi)

			mHat := m[i] / correction1
			vHat := v[i] / correction2

			// theta = theta - lr * mHat / (sqrt(vHat) + eps)
			theta[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
		}
	}
}

// ------ MOMENTUM OPTIMIZER METHODS ------ //
func (opt *MomentumOptimizer) Update(params []Param, grads []*Matrix) {
	checkShapes(params, grads)

	for p, param := range params {
		theta, g, velocity := param.Value.data, grads[p].data, opt.velocity[p]
		for i := range theta {
			gi := g[i] + opt.WeightDecay*theta[i]
			// v = mu * v - lr * grad
			velocity[i] = (opt.Mu * velocity[i]) - (opt.LearningRate * gi)
			theta[i] += velocity[i]
		}
	}
}

// ------ SGD OPTIMIZER METHODS ------ //
func (opt *SGDOptimizer) Update(params []Param, grads []*Matrix) {
	checkShapes(params, grads)

	for p, param := range params {
		if opt.WeightDecay != 0 {
			floats.AddScaled(grads[p].data, opt.WeightDecay, param.Value.data)
		}
		// Simple update: W = W - (lr * gradient)
		floats.AddScaled(param.Value.data, -opt.LearningRate, grads[p].data)
	}
}

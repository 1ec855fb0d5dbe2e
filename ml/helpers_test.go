package ml

import (
	"io"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func randomMatrix(rng *rand.Rand, rows, cols int) *Matrix {
	m := NewMatrix(rows, cols)
	for i := range m.data {
		m.data[i] = rng.NormFloat64()
	}
	return m
}

func randomDense(rng *rand.Rand, rows, cols int) *mat.Dense {
	return randomMatrix(rng, rows, cols).Dense()
}

func tinyConfig() NetworkConfig {
	return NewNetworkConfig(
		Channels(2),
		ResidualChannels(3),
		SkipChannels(3),
		EndChannels(3),
		Layers(2),
		KernelSize(2),
	)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// checkGradient compares analytic against a central-difference estimate of
// loss with respect to x. x is restored before returning.
func checkGradient(t *testing.T, name string, x []float64, loss func() float64, analytic []float64) {
	t.Helper()
	orig := append([]float64(nil), x...)
	numeric := fd.Gradient(nil, func(v []float64) float64 {
		copy(x, v)
		return loss()
	}, orig, &fd.Settings{Formula: fd.Central, Step: 1e-6})
	copy(x, orig)

	for i := range numeric {
		tol := 1e-5 * math.Max(1, math.Abs(numeric[i]))
		if math.Abs(numeric[i]-analytic[i]) > tol {
			t.Errorf("%s[%d]: analytic %.8g, numeric %.8g", name, i, analytic[i], numeric[i])
		}
	}
}

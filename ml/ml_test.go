package ml

import (
	"testing"
)

// --- Global Variables to prevent compiler optimizations ---
var resultMat *Matrix
var resultLoss float64

// --- 1. Benchmarks: Matrix Multiplication ---

// naiveMatMul is the standard O(N^3) triple loop, kept as a baseline for
// the gonum kernel.
func naiveMatMul(a, b, out *Matrix) {
	if a.cols != b.rows || out.rows != a.rows || out.cols != b.cols {
		panic("Shape mismatch in naiveMatMul")
	}
	out.Reset()
	for i := 0; i < a.rows; i++ {
		for k := 0; k < a.cols; k++ {
			scalar := a.data[i*a.cols+k]
			for j := 0; j < b.cols; j++ {
				out.data[i*out.cols+j] += scalar * b.data[k*b.cols+j]
			}
		}
	}
}

func TestMatMulMatchesNaive(t *testing.T) {
	rng := testRand(400)
	a := randomMatrix(rng, 7, 5)
	b := randomMatrix(rng, 5, 9)
	want := NewMatrix(7, 9)
	got := NewMatrix(7, 9)
	naiveMatMul(a, b, want)
	MatMul(a.dense, b.dense, got)
	for k := range want.data {
		if d := got.data[k] - want.data[k]; d > 1e-12 || d < -1e-12 {
			t.Fatalf("element %d: got %v want %v", k, got.data[k], want.data[k])
		}
	}
}

func benchmarkMatMul(b *testing.B, rows, inner, cols int, method string) {
	rng := testRand(401)
	m1 := randomMatrix(rng, rows, inner)
	m2 := randomMatrix(rng, inner, cols)
	out := NewMatrix(rows, cols)

	b.ResetTimer()

	if method == "Native" {
		for n := 0; n < b.N; n++ {
			naiveMatMul(m1, m2, out)
		}
	} else {
		for n := 0; n < b.N; n++ {
			MatMul(m1.dense, m2.dense, out)
		}
	}
	resultMat = out
}

// Tap products are (out x in) * (in x window length).
func BenchmarkMatMul_Native_32x1000(b *testing.B) { benchmarkMatMul(b, 32, 32, 1000, "Native") }
func BenchmarkMatMul_Gonum_32x1000(b *testing.B)  { benchmarkMatMul(b, 32, 32, 1000, "Gonum") }
func BenchmarkMatMul_Native_64x1000(b *testing.B) { benchmarkMatMul(b, 64, 64, 1000, "Native") }
func BenchmarkMatMul_Gonum_64x1000(b *testing.B)  { benchmarkMatMul(b, 64, 64, 1000, "Gonum") }

// --- 2. Benchmarks: Activation Function Overhead ---

func BenchmarkActivation_FuncPtr(b *testing.B) {
	m := randomMatrix(testRand(402), 32, 1000)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		m.ApplyFunc(Relu)
	}
}

func BenchmarkActivation_HardcodedLoop(b *testing.B) {
	m := randomMatrix(testRand(402), 32, 1000)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		m.ApplyRelu()
	}
}

// --- 3. Benchmarks: Forecaster Operations ---

func benchmarkForward(b *testing.B, length int) {
	nw := NewForecaster(DefaultNetworkConfig, testRand(403))
	ws := nw.NewWorkspace()
	x := ws.Load(randomDense(testRand(404), DefaultNetworkConfig.Channels, length))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		resultMat = ws.Forward(x)
	}
}

func BenchmarkForward_L250(b *testing.B)  { benchmarkForward(b, 250) }
func BenchmarkForward_L1000(b *testing.B) { benchmarkForward(b, 1000) }

func benchmarkTrainStep(b *testing.B, batchSize, workers int, optType OptimizerType) {
	cfg := DefaultNetworkConfig
	nw := NewForecaster(cfg, testRand(405))
	batch := makeBatches(406, 1, batchSize, cfg.Channels, 250)[0]
	tr := newTrainer(nw, Device{Kind: DeviceCPU, Workers: workers}, LossMSE)
	opt := NewOptimizer(tr.params, HyperParams{LearningRate: 1e-3}, TrainingConfig{Optimizer: optType})

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		resultLoss = tr.run(batch, true)
		opt.Update(tr.params, tr.grads)
	}
}

func BenchmarkTrainStep_Adam_8_W1(b *testing.B)     { benchmarkTrainStep(b, 8, 1, OptAdam) }
func BenchmarkTrainStep_Adam_8_W4(b *testing.B)     { benchmarkTrainStep(b, 8, 4, OptAdam) }
func BenchmarkTrainStep_SGD_8_W4(b *testing.B)      { benchmarkTrainStep(b, 8, 4, OptSGD) }
func BenchmarkTrainStep_Momentum_8_W4(b *testing.B) { benchmarkTrainStep(b, 8, 4, OptMomentum) }

package ml

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix represents a dense matrix with a flat data slice for performance.
// Signals are stored channel-major: one row per channel, one column per sample.
type Matrix struct {
	rows, cols int
	data       []float64
	dense      *mat.Dense
}

// -------- CONSTRUCTORS ------- //
func NewMatrix(rows, cols int) *Matrix {
	data := make([]float64, rows*cols)
	return &Matrix{
		rows:  rows,
		cols:  cols,
		data:  data,
		dense: mat.NewDense(rows, cols, data),
	}
}

func NewMatrixFromSlice(rows, cols int, data []float64) *Matrix {
	if len(data) != rows*cols {
		panic("Slice length mismatch")
	}

	return &Matrix{
		rows:  rows,
		cols:  cols,
		data:  data,
		dense: mat.NewDense(rows, cols, data),
	}
}

// NewMatrixFromDense copies any gonum matrix into a contiguous Matrix.
func NewMatrixFromDense(src mat.Matrix) *Matrix {
	r, c := src.Dims()
	m := NewMatrix(r, c)
	m.dense.Copy(src)
	return m
}

// ------- MATRIX METHODS ------ //
func (m *Matrix) GobEncode() ([]byte, error) {
	w := new(bytes.Buffer)
	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(m.rows); err != nil {
		return nil, err
	}
	if err := encoder.Encode(m.cols); err != nil {
		return nil, err
	}
	if err := encoder.Encode(m.data); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (m *Matrix) GobDecode(buf []byte) error {
	r := bytes.NewBuffer(buf)
	decoder := gob.NewDecoder(r)
	if err := decoder.Decode(&m.rows); err != nil {
		return err
	}
	if err := decoder.Decode(&m.cols); err != nil {
		return err
	}
	if err := decoder.Decode(&m.data); err != nil {
		return err
	}
	if len(m.data) != m.rows*m.cols {
		return fmt.Errorf("matrix payload has %d values, want %d", len(m.data), m.rows*m.cols)
	}

	// Re-create the wrapper after loading data
	m.dense = mat.NewDense(m.rows, m.cols, m.data)

	return nil
}

func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

// Dense exposes the gonum view sharing m's storage.
func (m *Matrix) Dense() *mat.Dense { return m.dense }

// Row returns channel i as a slice aliasing m's storage.
func (m *Matrix) Row(i int) []float64 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

func (m *Matrix) At(i, j int) float64 { return m.data[i*m.cols+j] }

func (m *Matrix) Clone() *Matrix {
	data := make([]float64, len(m.data))
	copy(data, m.data)
	return NewMatrixFromSlice(m.rows, m.cols, data)
}

// Randomize draws He-normal weights scaled by fanIn.
func (m *Matrix) Randomize(rng *rand.Rand, fanIn int) {
	scale := math.Sqrt(2.0 / float64(fanIn))
	for i := range m.data {
		m.data[i] = rng.NormFloat64() * scale
	}
}

func (m *Matrix) RandomizeXavier(rng *rand.Rand, fanIn, fanOut int) {
	// limit = sqrt(6 / (fan_in + fan_out))
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range m.data {
		// Uniform distribution between -limit and limit
		m.data[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (m *Matrix) Reset() {
	for i := range m.data {
		m.data[i] = 0.0
	}
}

func (m *Matrix) CopyFrom(b *Matrix) {
	if m.rows != b.rows || m.cols != b.cols {
		panic(fmt.Sprintf("Shape mismatch: [%d, %d] <- [%d, %d]", m.rows, m.cols, b.rows, b.cols))
	}
	copy(m.data, b.data)
}

func (m *Matrix) Add(b *Matrix) {
	floats.Add(m.data, b.data)
}

func (m *Matrix) AddScaled(alpha float64, b *Matrix) {
	floats.AddScaled(m.data, alpha, b.data)
}

func (m *Matrix) ApplyRelu() {
	for i, v := range m.data {
		if v < 0 {
			m.data[i] = 0
		}
	}
}

func (m *Matrix) ApplySigmoid() {
	for i, v := range m.data {
		m.data[i] = Sigmoid(v)
	}
}

func (m *Matrix) ApplyTanh() {
	for i, v := range m.data {
		m.data[i] = math.Tanh(v)
	}
}

func (m *Matrix) ApplyFunc(fn func(float64) float64) {
	for i := range m.data {
		m.data[i] = fn(m.data[i])
	}
}

// ------ UTILITY FUNCTIONS ------
func MatMul(a, b mat.Matrix, out *Matrix) {
	out.dense.Mul(a, b)
}

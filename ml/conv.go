package ml

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Conv is a causal dilated 1-D convolution over channel-major signals.
//
// Taps[j] is the (Out x In) weight applied to input sample
// t-(Kernel-1-j)*Dilation, so the last tap always sees sample t. This is
// the same result as left-padding the input by (Kernel-1)*Dilation zeros,
// running a plain dilated convolution, and dropping the trailing
// (Kernel-1)*Dilation outputs.
type Conv struct {
	In, Out  int
	Kernel   int
	Dilation int
	Taps     []*Matrix
	Bias     *Matrix // Out x 1
}

// convGrad aliases the slots of a gradient set belonging to one Conv.
type convGrad struct {
	taps []*Matrix
	bias *Matrix
}

type scratchKey struct {
	tag        byte
	rows, cols int
}

// scratch hands out reusable buffers keyed by purpose and shape.
type scratch map[scratchKey]*Matrix

func (s scratch) get(tag byte, rows, cols int) *Matrix {
	k := scratchKey{tag, rows, cols}
	m, ok := s[k]
	if !ok {
		m = NewMatrix(rows, cols)
		s[k] = m
	}
	return m
}

func NewConv(in, out, kernel, dilation int, init InitType, rng *rand.Rand) *Conv {
	if in <= 0 || out <= 0 || kernel <= 0 || dilation <= 0 {
		panic(fmt.Sprintf("Invalid conv shape: in=%d out=%d kernel=%d dilation=%d", in, out, kernel, dilation))
	}
	c := &Conv{
		In:       in,
		Out:      out,
		Kernel:   kernel,
		Dilation: dilation,
		Taps:     make([]*Matrix, kernel),
		Bias:     NewMatrix(out, 1),
	}
	fanIn := in * kernel
	for j := range c.Taps {
		c.Taps[j] = NewMatrix(out, in)
		initialize(c.Taps[j], init, rng, fanIn, out*kernel)
	}
	initialize(c.Bias, InitDefault, rng, fanIn, out)
	return c
}

// Pointwise builds a 1-tap convolution (a per-sample linear map).
func Pointwise(in, out int, init InitType, rng *rand.Rand) *Conv {
	return NewConv(in, out, 1, 1, init, rng)
}

// Padding is the number of zeros implicitly prepended to the input.
func (c *Conv) Padding() int { return (c.Kernel - 1) * c.Dilation }

func (c *Conv) shift(j int) int { return (c.Kernel - 1 - j) * c.Dilation }

func (c *Conv) params() []*Matrix {
	return append(append([]*Matrix{}, c.Taps...), c.Bias)
}

// Forward writes the causal convolution of x (In x L) into out (Out x L).
func (c *Conv) Forward(x, out *Matrix, buf scratch) {
	if x.rows != c.In || out.rows != c.Out || out.cols != x.cols {
		panic(fmt.Sprintf("Conv shape mismatch: x [%d, %d], out [%d, %d], conv %d->%d",
			x.rows, x.cols, out.rows, out.cols, c.In, c.Out))
	}
	L := x.cols
	out.Reset()
	prod := buf.get('f', c.Out, L)

	for j, w := range c.Taps {
		s := c.shift(j)
		if s >= L {
			// The tap only ever reads left padding.
			continue
		}
		MatMul(w.dense, x.dense, prod)
		for r := 0; r < c.Out; r++ {
			floats.Add(out.Row(r)[s:], prod.Row(r)[:L-s])
		}
	}
	for r := 0; r < c.Out; r++ {
		floats.AddConst(c.Bias.data[r], out.Row(r))
	}
}

// Backward accumulates dLoss/dParams into g given the forward input x and
// the output gradient dOut. When dx is non-nil the input gradient is added
// into it.
func (c *Conv) Backward(x, dOut *Matrix, g convGrad, dx *Matrix, buf scratch) {
	L := x.cols
	wGrad := buf.get('w', c.Out, c.In)
	var inGrad *Matrix
	if dx != nil {
		inGrad = buf.get('i', c.In, L)
	}

	for j, w := range c.Taps {
		s := c.shift(j)
		if s >= L {
			continue
		}
		// dW_j += dOut[:, s:] * x[:, :L-s]^T
		dOutV := dOut.dense.Slice(0, c.Out, s, L)
		xV := x.dense.Slice(0, c.In, 0, L-s)
		wGrad.dense.Mul(dOutV, xV.T())
		g.taps[j].Add(wGrad)

		if dx != nil {
			// dx[:, :L-s] += W_j^T * dOut[:, s:]
			MatMul(w.dense.T(), dOut.dense, inGrad)
			for r := 0; r < c.In; r++ {
				floats.Add(dx.Row(r)[:L-s], inGrad.Row(r)[s:])
			}
		}
	}
	for r := 0; r < c.Out; r++ {
		g.bias.data[r] += floats.Sum(dOut.Row(r))
	}
}

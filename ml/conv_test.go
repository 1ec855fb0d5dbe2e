package ml

import (
	"testing"
)

// naiveCausalConv left-pads x with (K-1)*d zeros and runs a plain dilated
// convolution, keeping the first L outputs.
func naiveCausalConv(c *Conv, x *Matrix) *Matrix {
	L := x.cols
	pad := c.Padding()
	out := NewMatrix(c.Out, L)
	for o := 0; o < c.Out; o++ {
		for t := 0; t < L; t++ {
			sum := c.Bias.data[o]
			for j, w := range c.Taps {
				src := t + j*c.Dilation - pad
				if src < 0 {
					continue
				}
				for i := 0; i < c.In; i++ {
					sum += w.At(o, i) * x.At(i, src)
				}
			}
			out.data[o*L+t] = sum
		}
	}
	return out
}

func TestConvMatchesPaddedConvolution(t *testing.T) {
	rng := testRand(1)
	tests := []struct {
		kernel, dilation, length int
	}{
		{1, 1, 7},
		{2, 1, 7},
		{2, 4, 9},
		{3, 2, 12},
		{2, 16, 8}, // every shifted tap reads padding only
	}
	for _, tt := range tests {
		c := NewConv(3, 4, tt.kernel, tt.dilation, InitDefault, rng)
		x := randomMatrix(rng, 3, tt.length)
		got := NewMatrix(4, tt.length)
		c.Forward(x, got, scratch{})
		want := naiveCausalConv(c, x)
		for k := range want.data {
			if d := got.data[k] - want.data[k]; d > 1e-12 || d < -1e-12 {
				t.Fatalf("k=%d d=%d: element %d got %v want %v", tt.kernel, tt.dilation, k, got.data[k], want.data[k])
			}
		}
	}
}

func TestConvIsCausal(t *testing.T) {
	rng := testRand(2)
	c := NewConv(2, 2, 3, 2, InitDefault, rng)
	x := randomMatrix(rng, 2, 16)
	base := NewMatrix(2, 16)
	c.Forward(x, base, scratch{})

	for tp := 0; tp < 16; tp++ {
		xp := x.Clone()
		xp.data[tp] += 10 // channel 0, time tp
		out := NewMatrix(2, 16)
		c.Forward(xp, out, scratch{})
		for r := 0; r < 2; r++ {
			for col := 0; col < tp; col++ {
				if out.At(r, col) != base.At(r, col) {
					t.Fatalf("output t=%d changed after perturbing input t=%d", col, tp)
				}
			}
		}
	}
}

func TestConvBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := testRand(3)
	c := NewConv(3, 2, 3, 2, InitDefault, rng)
	x := randomMatrix(rng, 3, 10)
	r := randomMatrix(rng, 2, 10)

	// loss = sum(conv(x) .* r), so dLoss/dOut = r.
	loss := func() float64 {
		out := NewMatrix(2, 10)
		c.Forward(x, out, scratch{})
		sum := 0.0
		for k := range out.data {
			sum += out.data[k] * r.data[k]
		}
		return sum
	}

	g := convGrad{bias: NewMatrix(2, 1)}
	for range c.Taps {
		g.taps = append(g.taps, NewMatrix(2, 3))
	}
	dx := NewMatrix(3, 10)
	c.Backward(x, r, g, dx, scratch{})

	for j, w := range c.Taps {
		checkGradient(t, "tap", w.data, loss, g.taps[j].data)
	}
	checkGradient(t, "bias", c.Bias.data, loss, g.bias.data)
	checkGradient(t, "input", x.data, loss, dx.data)
}

func BenchmarkConvForward(b *testing.B) {
	rng := testRand(4)
	c := NewConv(32, 32, 2, 8, InitDefault, rng)
	x := randomMatrix(rng, 32, 1000)
	out := NewMatrix(32, 1000)
	buf := scratch{}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		c.Forward(x, out, buf)
	}
	resultMat = out
}

package ml

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Block is one gated, dilated residual unit.
type Block struct {
	Filter   *Conv // tanh branch
	Gate     *Conv // sigmoid branch
	Residual *Conv // 1x1, added back to the block input
	Skip     *Conv // 1x1, summed into the skip stream
}

// Forecaster maps a past window (channels x L) to a same-shaped forecast.
type Forecaster struct {
	Config NetworkConfig
	Input  *Conv
	Blocks []*Block
	Head1  *Conv
	Head2  *Conv
}

// Param is one learnable tensor of the forecaster.
type Param struct {
	Name  string
	Value *Matrix
}

// Neural Network Builder
func NewForecaster(cfg NetworkConfig, rng *rand.Rand) *Forecaster {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if cfg.Init == "" {
		cfg.Init = InitDefault
	}

	nw := &Forecaster{
		Config: cfg,
		Input:  Pointwise(cfg.Channels, cfg.ResidualChannels, cfg.Init, rng),
	}
	for i := 0; i < cfg.Layers; i++ {
		dilation := 1 << i
		nw.Blocks = append(nw.Blocks, &Block{
			Filter:   NewConv(cfg.ResidualChannels, cfg.ResidualChannels, cfg.KernelSize, dilation, cfg.Init, rng),
			Gate:     NewConv(cfg.ResidualChannels, cfg.ResidualChannels, cfg.KernelSize, dilation, cfg.Init, rng),
			Residual: Pointwise(cfg.ResidualChannels, cfg.ResidualChannels, cfg.Init, rng),
			Skip:     Pointwise(cfg.ResidualChannels, cfg.SkipChannels, cfg.Init, rng),
		})
	}
	nw.Head1 = Pointwise(cfg.SkipChannels, cfg.EndChannels, cfg.Init, rng)
	nw.Head2 = Pointwise(cfg.EndChannels, cfg.Channels, cfg.Init, rng)
	return nw
}

// convs lists every convolution in a fixed order shared by Params,
// gradients and checkpoints.
func (nw *Forecaster) convs() []*Conv {
	out := []*Conv{nw.Input}
	for _, b := range nw.Blocks {
		out = append(out, b.Filter, b.Gate, b.Residual, b.Skip)
	}
	return append(out, nw.Head1, nw.Head2)
}

func (nw *Forecaster) convNames() []string {
	names := []string{"input"}
	for i := range nw.Blocks {
		for _, part := range []string{"filter", "gate", "residual", "skip"} {
			names = append(names, fmt.Sprintf("block%d.%s", i, part))
		}
	}
	return append(names, "head1", "head2")
}

func (nw *Forecaster) Params() []Param {
	var params []Param
	names := nw.convNames()
	for i, c := range nw.convs() {
		for j, t := range c.Taps {
			params = append(params, Param{Name: fmt.Sprintf("%s.tap%d", names[i], j), Value: t})
		}
		params = append(params, Param{Name: names[i] + ".bias", Value: c.Bias})
	}
	return params
}

// NumParams counts scalar weights.
func (nw *Forecaster) NumParams() int {
	n := 0
	for _, p := range nw.Params() {
		n += len(p.Value.data)
	}
	return n
}

// NewGradients allocates zeroed buffers matching Params.
func (nw *Forecaster) NewGradients() []*Matrix {
	params := nw.Params()
	grads := make([]*Matrix, len(params))
	for i, p := range params {
		grads[i] = NewMatrix(p.Value.rows, p.Value.cols)
	}
	return grads
}

// Forward runs the network on one window and returns a new matrix. It is
// safe for concurrent use; training goes through a Workspace instead.
func (nw *Forecaster) Forward(x *Matrix) *Matrix {
	ws := nw.NewWorkspace()
	return ws.Forward(x).Clone()
}

// Workspace holds the activations, gradients and scratch buffers of one
// worker. Weights stay shared with the parent Forecaster.
type Workspace struct {
	nw     *Forecaster
	length int

	Grads     []*Matrix
	convGrads []convGrad

	// Forward state
	x       *Matrix
	h       []*Matrix // residual stream, Layers+1 entries
	f, g, z []*Matrix
	skip    *Matrix // accumulated skip stream (pre-relu)
	skipTmp *Matrix
	a       *Matrix // relu(skip)
	e       *Matrix // relu(head1)
	out     *Matrix

	// Backward state
	dh, dz, df, dg *Matrix
	dSkip, da, de  *Matrix

	buf scratch
}

func (nw *Forecaster) NewWorkspace() *Workspace {
	ws := &Workspace{
		nw:    nw,
		Grads: nw.NewGradients(),
		buf:   scratch{},
	}
	off := 0
	for _, c := range nw.convs() {
		ws.convGrads = append(ws.convGrads, convGrad{
			taps: ws.Grads[off : off+c.Kernel],
			bias: ws.Grads[off+c.Kernel],
		})
		off += c.Kernel + 1
	}
	return ws
}

// InitializeBuffers sizes the activation buffers for windows of length L.
func (ws *Workspace) InitializeBuffers(L int) {
	if ws.length == L {
		return
	}
	cfg := ws.nw.Config
	R, S, E, C := cfg.ResidualChannels, cfg.SkipChannels, cfg.EndChannels, cfg.Channels

	ws.length = L
	ws.x = NewMatrix(C, L)
	ws.h = make([]*Matrix, cfg.Layers+1)
	for i := range ws.h {
		ws.h[i] = NewMatrix(R, L)
	}
	ws.f = make([]*Matrix, cfg.Layers)
	ws.g = make([]*Matrix, cfg.Layers)
	ws.z = make([]*Matrix, cfg.Layers)
	for i := 0; i < cfg.Layers; i++ {
		ws.f[i] = NewMatrix(R, L)
		ws.g[i] = NewMatrix(R, L)
		ws.z[i] = NewMatrix(R, L)
	}
	ws.skip = NewMatrix(S, L)
	ws.skipTmp = NewMatrix(S, L)
	ws.a = NewMatrix(S, L)
	ws.e = NewMatrix(E, L)
	ws.out = NewMatrix(C, L)

	ws.dh = NewMatrix(R, L)
	ws.dz = NewMatrix(R, L)
	ws.df = NewMatrix(R, L)
	ws.dg = NewMatrix(R, L)
	ws.dSkip = NewMatrix(S, L)
	ws.da = NewMatrix(S, L)
	ws.de = NewMatrix(E, L)
	ws.buf = scratch{}
}

// Load copies a window into the workspace input buffer.
func (ws *Workspace) Load(past mat.Matrix) *Matrix {
	r, c := past.Dims()
	if r != ws.nw.Config.Channels {
		panic(fmt.Sprintf("Input has %d channels, network expects %d", r, ws.nw.Config.Channels))
	}
	ws.InitializeBuffers(c)
	ws.x.dense.Copy(past)
	return ws.x
}

// ZeroGrad clears the accumulated gradients.
func (ws *Workspace) ZeroGrad() {
	for _, g := range ws.Grads {
		g.Reset()
	}
}

// Forward computes the forecast for x and caches what Backward needs. The
// returned matrix is owned by the workspace.
func (ws *Workspace) Forward(x *Matrix) *Matrix {
	nw := ws.nw
	if x != ws.x {
		ws.Load(x.dense)
		x = ws.x
	}

	nw.Input.Forward(x, ws.h[0], ws.buf)
	ws.skip.Reset()

	for i, b := range nw.Blocks {
		h := ws.h[i]
		b.Filter.Forward(h, ws.f[i], ws.buf)
		ws.f[i].ApplyTanh()
		b.Gate.Forward(h, ws.g[i], ws.buf)
		ws.g[i].ApplySigmoid()

		z := ws.z[i]
		for k := range z.data {
			z.data[k] = ws.f[i].data[k] * ws.g[i].data[k]
		}

		next := ws.h[i+1]
		b.Residual.Forward(z, next, ws.buf)
		next.Add(h)

		b.Skip.Forward(z, ws.skipTmp, ws.buf)
		ws.skip.Add(ws.skipTmp)
	}

	ws.a.CopyFrom(ws.skip)
	ws.a.ApplyRelu()
	nw.Head1.Forward(ws.a, ws.e, ws.buf)
	ws.e.ApplyRelu()
	nw.Head2.Forward(ws.e, ws.out, ws.buf)
	return ws.out
}

// Backward accumulates parameter gradients for the last Forward call given
// dOut = dLoss/dForecast.
func (ws *Workspace) Backward(dOut *Matrix) {
	nw := ws.nw
	convs := ws.convGrads
	last := len(convs) - 1

	// Head
	ws.de.Reset()
	nw.Head2.Backward(ws.e, dOut, convs[last], ws.de, ws.buf)
	for k, v := range ws.e.data {
		ws.de.data[k] *= ReluDerivative(v)
	}
	ws.da.Reset()
	nw.Head1.Backward(ws.a, ws.de, convs[last-1], ws.da, ws.buf)
	for k, v := range ws.skip.data {
		ws.dSkip.data[k] = ws.da.data[k] * ReluDerivative(v)
	}

	// The final residual output feeds nothing.
	ws.dh.Reset()
	for i := len(nw.Blocks) - 1; i >= 0; i-- {
		b := nw.Blocks[i]
		g := convs[1+4*i : 5+4*i]
		f, gate, z := ws.f[i], ws.g[i], ws.z[i]

		ws.dz.Reset()
		b.Skip.Backward(z, ws.dSkip, g[3], ws.dz, ws.buf)
		b.Residual.Backward(z, ws.dh, g[2], ws.dz, ws.buf)

		for k, dz := range ws.dz.data {
			fv, gv := f.data[k], gate.data[k]
			ws.df.data[k] = dz * gv * (1 - fv*fv)
			ws.dg.data[k] = dz * fv * gv * (1 - gv)
		}

		// dh already carries the identity path of h[i+1] = h[i] + res.
		b.Filter.Backward(ws.h[i], ws.df, g[0], ws.dh, ws.buf)
		b.Gate.Backward(ws.h[i], ws.dg, g[1], ws.dh, ws.buf)
	}

	nw.Input.Backward(ws.x, ws.dh, convs[0], nil, ws.buf)
}

package data

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	NormNone Normalization = ""
	// NormUnit scales every channel of the past window to unit L2 norm.
	NormUnit Normalization = "unit"
)

// normEps guards the division for silent channels.
const normEps = 1e-12

type Normalization string

func ParseNormalization(s string) (Normalization, error) {
	switch Normalization(s) {
	case NormNone, "none":
		return NormNone, nil
	case NormUnit:
		return NormUnit, nil
	default:
		return "", fmt.Errorf("unknown normalization %q", s)
	}
}

// Dataset is an indexable view over window pairs. Normalization is applied
// on retrieval; the stored pairs are never modified.
type Dataset struct {
	pairs []WindowPair
	norm  Normalization

	channels, pastLen, futureLen int
}

// NewDataset checks that every pair shares the shape of the first one.
func NewDataset(pairs []WindowPair, norm Normalization) (*Dataset, error) {
	ds := &Dataset{pairs: pairs, norm: norm}
	for i, p := range pairs {
		pc, pl := p.Past.Dims()
		fc, fl := p.Future.Dims()
		if i == 0 {
			ds.channels, ds.pastLen, ds.futureLen = pc, pl, fl
		}
		if pc != ds.channels || fc != ds.channels || pl != ds.pastLen || fl != ds.futureLen {
			return nil, fmt.Errorf("%w: pair %d (subject %d run %d): past %dx%d future %dx%d, want %dx%d / %dx%d",
				ErrShapeMismatch, i, p.Subject, p.Run, pc, pl, fc, fl,
				ds.channels, ds.pastLen, ds.channels, ds.futureLen)
		}
	}
	return ds, nil
}

func (ds *Dataset) Len() int { return len(ds.pairs) }

// Shape returns (channels, past length, future length).
func (ds *Dataset) Shape() (int, int, int) { return ds.channels, ds.pastLen, ds.futureLen }

// Pair returns the stored pair with its provenance.
func (ds *Dataset) Pair(i int) WindowPair {
	ds.check(i)
	return ds.pairs[i]
}

// Get returns the (past, future) windows of sample i. The future window is
// the stored matrix and must not be modified.
func (ds *Dataset) Get(i int) (*mat.Dense, *mat.Dense) {
	ds.check(i)
	p := ds.pairs[i]
	past := p.Past
	if ds.norm == NormUnit {
		past = unitNormRows(past)
	}
	return past, p.Future
}

// Subjects lists the distinct subjects in first-seen order.
func (ds *Dataset) Subjects() []int {
	seen := map[int]bool{}
	var out []int
	for _, p := range ds.pairs {
		if !seen[p.Subject] {
			seen[p.Subject] = true
			out = append(out, p.Subject)
		}
	}
	return out
}

func (ds *Dataset) check(i int) {
	if i < 0 || i >= len(ds.pairs) {
		panic(fmt.Sprintf("Dataset index %d out of range [0, %d)", i, len(ds.pairs)))
	}
}

func unitNormRows(m *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(m)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		n := floats.Norm(row, 2)
		if n < normEps {
			n = normEps
		}
		floats.Scale(1/n, row)
	}
	return out
}

package data

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mu is the mu-law companding constant.
const Mu = 255.0

var logOnePlusMu = math.Log1p(Mu)

// MuLawCompress maps x (nominally in [-1, 1]) through
// sign(x) * ln(1 + mu*|x|) / ln(1 + mu).
func MuLawCompress(x float64) float64 {
	if x == 0 {
		return 0
	}
	y := math.Log1p(Mu*math.Abs(x)) / logOnePlusMu
	if x < 0 {
		return -y
	}
	return y
}

// MuLawExpand inverts MuLawCompress.
func MuLawExpand(y float64) float64 {
	if y == 0 {
		return 0
	}
	x := math.Expm1(math.Abs(y)*logOnePlusMu) / Mu
	if y < 0 {
		return -x
	}
	return x
}

// CompressInPlace companding-transforms every element of m.
func CompressInPlace(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 { return MuLawCompress(v) }, m)
}

// ExpandInPlace undoes CompressInPlace, e.g. on a forecast.
func ExpandInPlace(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 { return MuLawExpand(v) }, m)
}

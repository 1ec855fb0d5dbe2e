package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/b0tShaman/neuro-cast/ml"
	"gonum.org/v1/gonum/stat/combin"
)

const (
	ParamLearningRate = "learning_rate"
	ParamWeightDecay  = "weight_decay"
)

var ErrEmptyGrid = errors.New("empty hyperparameter grid")

// Param is one axis of the grid. Values are tried in the listed order.
type Param struct {
	Name   string    `yaml:"name"`
	Values []float64 `yaml:"values"`
}

// Grid is an ordered list of axes. Order matters: the first axis varies
// slowest in Combine.
type Grid []Param

// Combination assigns one value to every axis of a grid.
type Combination struct {
	names  []string
	values []float64
}

func NewCombination(names []string, values []float64) Combination {
	if len(names) != len(values) {
		panic("Combination names and values differ in length")
	}
	return Combination{
		names:  append([]string(nil), names...),
		values: append([]float64(nil), values...),
	}
}

func (c Combination) Len() int { return len(c.names) }

func (c Combination) Names() []string { return append([]string(nil), c.names...) }

func (c Combination) Values() []float64 { return append([]float64(nil), c.values...) }

// Value looks up the setting of one axis.
func (c Combination) Value(name string) (float64, bool) {
	for i, n := range c.names {
		if n == name {
			return c.values[i], true
		}
	}
	return 0, false
}

func (c Combination) String() string {
	parts := make([]string, len(c.names))
	for i := range c.names {
		parts[i] = fmt.Sprintf("%s=%g", c.names[i], c.values[i])
	}
	return strings.Join(parts, " ")
}

// Combine returns the Cartesian product of the grid in lexicographic order
// of value indices, so the last axis varies fastest.
func Combine(grid Grid) ([]Combination, error) {
	if len(grid) == 0 {
		return nil, ErrEmptyGrid
	}
	names := make([]string, len(grid))
	lens := make([]int, len(grid))
	seen := map[string]bool{}
	for i, p := range grid {
		if p.Name == "" {
			return nil, fmt.Errorf("grid axis %d has no name", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate grid axis %q", p.Name)
		}
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("%w: axis %q has no values", ErrEmptyGrid, p.Name)
		}
		seen[p.Name] = true
		names[i] = p.Name
		lens[i] = len(p.Values)
	}

	product := combin.Cartesian(lens)
	combos := make([]Combination, len(product))
	for k, idx := range product {
		values := make([]float64, len(idx))
		for i, j := range idx {
			values[i] = grid[i].Values[j]
		}
		combos[k] = Combination{names: names, values: values}
	}
	return combos, nil
}

// HyperParamsOf maps a combination onto the training hyperparameters.
// Unknown axes are rejected rather than silently ignored.
func HyperParamsOf(c Combination) (ml.HyperParams, error) {
	var hp ml.HyperParams
	var haveLR bool
	for i, name := range c.names {
		v := c.values[i]
		switch name {
		case ParamLearningRate, "lr":
			hp.LearningRate = v
			haveLR = true
		case ParamWeightDecay:
			hp.WeightDecay = v
		default:
			return ml.HyperParams{}, fmt.Errorf("unknown hyperparameter %q", name)
		}
	}
	if !haveLR {
		return ml.HyperParams{}, fmt.Errorf("combination %s has no learning rate", c)
	}
	if hp.LearningRate <= 0 {
		return ml.HyperParams{}, fmt.Errorf("learning rate must be positive, got %g", hp.LearningRate)
	}
	if hp.WeightDecay < 0 {
		return ml.HyperParams{}, fmt.Errorf("weight decay must be non-negative, got %g", hp.WeightDecay)
	}
	return hp, nil
}

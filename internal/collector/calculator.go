package collector

import (
	"math"

	"github.com/Roxbili/snip/internal/tensor"
)

// StraightCalculator scores every element by its absolute value. The metric
// keeps the weight's full shape (element-wise level pruning).
type StraightCalculator struct{}

func (StraightCalculator) Calculate(data map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, len(data))
	for name, t := range data {
		m := t.Clone()
		d := m.Data()
		for i, v := range d {
			d[i] = float32(math.Abs(float64(v)))
		}
		out[name] = m
	}
	return out, nil
}

// NormCalculator scores each slice along the kept dims by its Lp norm over
// all other axes. P is the norm order (1 or 2 in practice); Dims nil falls
// back to element-wise absolute values.
type NormCalculator struct {
	P    int
	Dims []int
}

func (c NormCalculator) Calculate(data map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if len(c.Dims) == 0 {
		return StraightCalculator{}.Calculate(data)
	}
	out := make(map[string]*tensor.Tensor, len(data))
	for name, t := range data {
		powered := t.Clone()
		d := powered.Data()
		for i, v := range d {
			d[i] = float32(math.Pow(math.Abs(float64(v)), float64(c.P)))
		}
		reduced, err := tensor.SumAxes(powered, c.Dims)
		if err != nil {
			return nil, err
		}
		r := reduced.Data()
		for i, v := range r {
			r[i] = float32(math.Pow(float64(v), 1/float64(c.P)))
		}
		out[name] = reduced
	}
	return out, nil
}

// BlockMeanCalculator scores each non-overlapping block by the mean absolute
// value of its elements, after an optional reduction to the kept dims.
type BlockMeanCalculator struct {
	Dims      []int
	BlockSize []int
}

func (c BlockMeanCalculator) Calculate(data map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	abs, err := StraightCalculator{}.Calculate(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*tensor.Tensor, len(abs))
	for name, t := range abs {
		m := t
		if len(c.Dims) > 0 && len(c.Dims) < t.Rank() {
			m, err = tensor.SumAxes(t, c.Dims)
			if err != nil {
				return nil, err
			}
		}
		if c.BlockSize != nil {
			m, err = tensor.AvgPoolBlocks(m, c.BlockSize)
			if err != nil {
				return nil, err
			}
		}
		out[name] = m
	}
	return out, nil
}

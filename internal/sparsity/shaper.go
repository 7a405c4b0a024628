package sparsity

import (
	"slices"

	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/tensor"
)

// Shaper carries the metric granularity of an allocator: the pruned axes
// (Dims, ascending; nil for element-wise) and the block each metric cell
// represents (BlockSize, nil for single cells). It converts between
// full-resolution masks and metric-granularity decisions.
type Shaper struct {
	Dims      []int
	BlockSize []int
}

// Compress reduces a full-resolution mask to metric granularity. A reduced
// cell is alive (1) iff any covered element is alive. Used to feed the
// previous round's decisions back into re-ranking under continuous mode.
func (s *Shaper) Compress(mask *tensor.Tensor) (*tensor.Tensor, error) {
	m := mask
	if len(s.Dims) == 0 || mask.Rank() == 1 || len(s.Dims) == mask.Rank() {
		m = mask.Clone()
	} else {
		var err error
		m, err = tensor.SumAxes(mask, s.Dims)
		if err != nil {
			return nil, err
		}
	}
	if s.BlockSize != nil {
		var err error
		m, err = tensor.AvgPoolBlocks(m, s.BlockSize)
		if err != nil {
			return nil, err
		}
	}
	return m.Binarize(), nil
}

// Expand inflates a metric-granularity decision back to the layer's full
// tensor shapes. Blocks are tiled (repeated, not interpolated), trailing
// partial blocks are cropped to fit, and when Dims is set every weight
// element of a pruned slice receives that slice's decision.
func (s *Shaper) Expand(st *LayerState, decision *tensor.Tensor) (Mask, error) {
	wm := decision.Clone()
	if s.BlockSize != nil {
		var err error
		wm, err = tensor.TileBlocks(wm, s.BlockSize)
		if err != nil {
			return Mask{}, err
		}
	}

	target := st.WeightShape
	if len(s.Dims) > 0 {
		target = make([]int, len(s.Dims))
		for i, ax := range s.Dims {
			target[i] = st.WeightShape[ax]
		}
	}
	wm, err := tensor.CropTo(wm, target)
	if err != nil {
		return Mask{}, config.Errorf("layer %q: decision shape %v does not cover weight shape %v: %v",
			st.Name, decision.Dims(), st.WeightShape, err)
	}

	if len(s.Dims) == 0 {
		if !slices.Equal(wm.Dims(), st.WeightShape) {
			return Mask{}, config.Errorf("layer %q: expanded mask shape %v != weight shape %v",
				st.Name, wm.Dims(), st.WeightShape)
		}
		return Mask{Weight: wm}, nil
	}

	weight, err := tensor.BroadcastAxes(wm, s.Dims, st.WeightShape)
	if err != nil {
		return Mask{}, config.Errorf("layer %q: %v", st.Name, err)
	}
	out := Mask{Weight: weight}

	// Bias masking is an explicit opt-in and only defined for output-axis
	// pruning with a 1:1 slice/bias correspondence.
	if st.MaskBias && len(s.Dims) == 1 && s.Dims[0] == 0 && st.BiasShape != nil {
		if biasNumel(st.BiasShape) == wm.NumElements() {
			b, err := tensor.FromSlice(slices.Clone(wm.Data()), st.BiasShape...)
			if err != nil {
				return Mask{}, err
			}
			out.Bias = b
		}
	}
	return out, nil
}

func biasNumel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

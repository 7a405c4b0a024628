package sparsity

import (
	"fmt"

	"github.com/Roxbili/snip/internal/tensor"
)

// Mask is one layer's keep/prune decision expanded to full tensor shape.
// Values are exactly {0,1}; 1 means kept. Bias is nil unless bias masking
// was explicitly enabled for the layer.
type Mask struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// Sparsity returns the pruned fraction of the weight mask.
func (m Mask) Sparsity() float64 {
	n := m.Weight.NumElements()
	return 1 - float64(m.Weight.Sum())/float64(n)
}

// LayerState is the allocator-side view of one prunable layer: its shapes,
// resolved budget, and the mask carried over from the previous round.
type LayerState struct {
	Name        string
	WeightShape []int
	BiasShape   []int // nil when the layer has no bias

	TotalSparsity float64 // [0,1)
	MaxSparsity   float64 // (0,1]; 0 means unset
	Group         int
	MaskBias      bool

	// Previous-round masks; all-ones before the first round. Continuous
	// mode reads these to keep sparsity monotonic.
	WeightMask *tensor.Tensor
	BiasMask   *tensor.Tensor
}

// NewLayerState builds a fresh state with all-ones masks.
func NewLayerState(name string, weightShape, biasShape []int) *LayerState {
	st := &LayerState{
		Name:        name,
		WeightShape: weightShape,
		BiasShape:   biasShape,
		WeightMask:  tensor.Ones(weightShape...),
	}
	if biasShape != nil {
		st.BiasMask = tensor.Ones(biasShape...)
	}
	return st
}

func (s *LayerState) WeightNumel() int {
	n := 1
	for _, d := range s.WeightShape {
		n *= d
	}
	return n
}

func (s *LayerState) validate() error {
	if s.TotalSparsity < 0 || s.TotalSparsity >= 1 {
		return fmt.Errorf("layer %q: total sparsity %v out of range [0,1)", s.Name, s.TotalSparsity)
	}
	if s.MaxSparsity != 0 && (s.MaxSparsity < 0 || s.MaxSparsity > 1) {
		return fmt.Errorf("layer %q: max sparsity %v out of range (0,1]", s.Name, s.MaxSparsity)
	}
	if len(s.WeightShape) == 0 {
		return fmt.Errorf("layer %q: empty weight shape", s.Name)
	}
	return nil
}

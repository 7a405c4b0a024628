package sparsity

import (
	"github.com/Roxbili/snip/internal/tensor"
)

// NormalAllocator prunes the smallest-metric elements of each layer
// independently. With a Shaper carrying dims or a block size it is the block
// allocator: one metric cell decides a whole slice or rectangular block.
type NormalAllocator struct {
	base
}

func (a *NormalAllocator) GenerateSparsity(metrics map[string]*tensor.Tensor) (map[string]Mask, error) {
	masks := make(map[string]Mask, len(a.names))
	for _, name := range a.names {
		st := a.layers[name]
		metric, err := a.metricFor(st, metrics)
		if err != nil {
			return nil, err
		}
		k := pruneCount(st.TotalSparsity, metric.NumElements())
		thr := SelectThreshold(metric.Data(), k)
		mask, err := a.finish(st, metric.GreaterThan(thr))
		if err != nil {
			return nil, err
		}
		masks[name] = mask
	}
	return masks, nil
}

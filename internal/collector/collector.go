// Package collector supplies the two stages ahead of mask allocation: raw
// signal collection per layer and reduction of those signals into a single
// non-negative importance score per prunable element.
package collector

import (
	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/tensor"
)

// WeightSource exposes the model snapshot the weight collector reads.
type WeightSource interface {
	LayerNames() []string
	Weight(name string) *tensor.Tensor
}

// DataCollector produces the raw per-layer signal an importance metric is
// computed from.
type DataCollector interface {
	Collect() (map[string]*tensor.Tensor, error)
}

// MetricsCalculator reduces raw signals to importance metrics. Outputs are
// non-negative and match the configured pruning granularity.
type MetricsCalculator interface {
	Calculate(data map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error)
}

// WeightCollector snapshots the current weight tensors of the scheduled
// layers. The cheapest collector: no training loop, no hooks.
type WeightCollector struct {
	src   WeightSource
	names []string
}

// NewWeightCollector collects the named layers from src. A name without a
// weight tensor is a contract violation surfaced at Collect time.
func NewWeightCollector(src WeightSource, names []string) *WeightCollector {
	return &WeightCollector{src: src, names: names}
}

func (c *WeightCollector) Collect() (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, len(c.names))
	for _, name := range c.names {
		w := c.src.Weight(name)
		if w == nil {
			return nil, config.Errorf("layer %q has no weight tensor to collect", name)
		}
		out[name] = w.Clone()
	}
	return out, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// Mode names accepted in a pruning plan.
const (
	ModeNormal          = "normal"
	ModeBalance         = "balance"
	ModeGlobal          = "global"
	ModeDependencyAware = "dependency_aware"
)

// Metric names accepted in a pruning plan.
const (
	MetricLevel = "level"
	MetricL1    = "l1"
	MetricL2    = "l2"
	MetricBlock = "block"
)

// LayerPlan selects one prunable layer and its budget parameters. Sparsity
// values at the layer level override the plan-level defaults.
type LayerPlan struct {
	Name          string   `json:"name"`
	Group         int      `json:"group"`
	TotalSparsity *float64 `json:"total_sparsity,omitempty"`
	MaxSparsity   *float64 `json:"max_sparsity,omitempty"`
	MaskBias      bool     `json:"mask_bias,omitempty"`
}

// GraphNode describes one node of the layer topology used by the
// dependency-aware mode. Op is a prunable layer kind ("conv2d", "linear"),
// a channel-joining op ("add"), or a channel-preserving op (anything else).
type GraphNode struct {
	Name   string   `json:"name"`
	Op     string   `json:"op"`
	Inputs []string `json:"inputs,omitempty"`
	Groups int      `json:"groups,omitempty"`
}

// Plan is one compress round's resolved configuration: which layers to
// prune, how aggressively, and under which allocator mode.
type Plan struct {
	Mode            string      `json:"mode"`
	Metric          string      `json:"metric"`
	TotalSparsity   float64     `json:"total_sparsity"`
	Dims            []int       `json:"dims,omitempty"`
	BlockSparseSize []int       `json:"block_sparse_size,omitempty"`
	BalanceGran     []int       `json:"balance_gran,omitempty"`
	ContinuousMask  *bool       `json:"continuous_mask,omitempty"`
	Layers          []LayerPlan `json:"layers"`
	Graph           []GraphNode `json:"graph,omitempty"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if p.Mode == "" {
		p.Mode = ModeNormal
	}
	if p.Metric == "" {
		p.Metric = MetricLevel
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Continuous reports whether continuous-mask mode is on. It defaults to on:
// a repeated round must never un-prune an element.
func (p *Plan) Continuous() bool {
	if p.ContinuousMask == nil {
		return true
	}
	return *p.ContinuousMask
}

// LayerSparsity resolves the effective total sparsity for one layer plan.
func (p *Plan) LayerSparsity(lp LayerPlan) float64 {
	if lp.TotalSparsity != nil {
		return *lp.TotalSparsity
	}
	return p.TotalSparsity
}

func (p *Plan) Validate() error {
	switch p.Mode {
	case ModeNormal, ModeBalance, ModeGlobal, ModeDependencyAware:
	default:
		return Errorf("unknown mode %q", p.Mode)
	}
	switch p.Metric {
	case MetricLevel, MetricL1, MetricL2, MetricBlock:
	default:
		return Errorf("unknown metric %q", p.Metric)
	}
	if p.TotalSparsity < 0 || p.TotalSparsity >= 1 {
		return Errorf("total_sparsity %v out of range [0,1)", p.TotalSparsity)
	}
	if len(p.Layers) == 0 {
		return Errorf("plan selects no layers")
	}
	if !slices.IsSorted(p.Dims) {
		return Errorf("dims %v must be ascending", p.Dims)
	}
	for _, d := range p.Dims {
		if d < 0 {
			return Errorf("invalid pruning dim %d", d)
		}
	}
	for _, b := range p.BlockSparseSize {
		if b <= 0 {
			return Errorf("invalid block_sparse_size %v", p.BlockSparseSize)
		}
	}
	for _, g := range p.BalanceGran {
		if g <= 0 {
			return Errorf("invalid balance_gran %v", p.BalanceGran)
		}
	}
	if p.Mode == ModeBalance && len(p.BalanceGran) == 0 {
		return Errorf("mode %q requires balance_gran", ModeBalance)
	}
	if p.Mode == ModeDependencyAware && len(p.Graph) == 0 {
		return Errorf("mode %q requires a layer graph", ModeDependencyAware)
	}

	seen := make(map[string]bool, len(p.Layers))
	for _, lp := range p.Layers {
		if lp.Name == "" {
			return Errorf("layer plan with empty name")
		}
		if seen[lp.Name] {
			return Errorf("duplicate layer %q in plan", lp.Name)
		}
		seen[lp.Name] = true
		if lp.TotalSparsity != nil && (*lp.TotalSparsity < 0 || *lp.TotalSparsity >= 1) {
			return Errorf("layer %q: total_sparsity %v out of range [0,1)", lp.Name, *lp.TotalSparsity)
		}
		if lp.MaxSparsity != nil && (*lp.MaxSparsity <= 0 || *lp.MaxSparsity > 1) {
			return Errorf("layer %q: max_sparsity %v out of range (0,1]", lp.Name, *lp.MaxSparsity)
		}
	}
	return nil
}

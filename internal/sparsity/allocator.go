package sparsity

import (
	"sort"

	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/tensor"
)

// Allocator turns a per-layer importance metric mapping into a per-layer
// mask mapping. Implementations are deterministic and side-effect free given
// (metrics, layer states); the only cross-round state is the previous masks
// carried inside the layer states for continuous mode.
type Allocator interface {
	GenerateSparsity(metrics map[string]*tensor.Tensor) (map[string]Mask, error)
}

// Mode selects one allocator variant. Resolved once at construction, not per
// call.
type Mode int

const (
	// ModeNormal prunes each layer independently against its own budget.
	// Block granularity is an orthogonal Shaper concern, so this mode also
	// covers block pruning.
	ModeNormal Mode = iota
	// ModeBank prunes every weight bank evenly (balanced sparsity).
	ModeBank
	// ModeGlobal shares one budget across each layer group, bounded by
	// per-layer caps.
	ModeGlobal
	// ModeDependencyAware forces structurally coupled layers to agree on a
	// shared channel mask before honoring per-layer budgets.
	ModeDependencyAware
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return config.ModeNormal
	case ModeBank:
		return config.ModeBalance
	case ModeGlobal:
		return config.ModeGlobal
	case ModeDependencyAware:
		return config.ModeDependencyAware
	}
	return "unknown"
}

// ParseMode maps a plan mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case config.ModeNormal:
		return ModeNormal, nil
	case config.ModeBalance:
		return ModeBank, nil
	case config.ModeGlobal:
		return ModeGlobal, nil
	case config.ModeDependencyAware:
		return ModeDependencyAware, nil
	}
	return 0, config.Errorf("unknown allocator mode %q", s)
}

// DependencyResolver supplies the structural groupings consumed by
// ModeDependencyAware. It is an external capability; resolving may trace the
// whole model topology and is invoked at most once per round.
type DependencyResolver interface {
	// ChannelDependencySets returns sets of layer names that must share an
	// identical channel mask. Every prunable layer appears in exactly one
	// set (singletons included).
	ChannelDependencySets() [][]string
	// GroupFactors returns, per layer, the divisor its channel count must
	// keep honoring (e.g. from grouped convolutions). Absent layers default
	// to 1.
	GroupFactors() map[string]int
}

// Option configures allocator construction.
type Option func(*options)

type options struct {
	dims       []int
	blockSize  []int
	continuous bool
	gran       []int
	resolver   DependencyResolver
}

// WithDims sets the pruned axes (ascending). Nil means element-wise.
func WithDims(dims []int) Option {
	return func(o *options) { o.dims = dims }
}

// WithBlockSparseSize sets the block a single metric cell represents.
func WithBlockSparseSize(block []int) Option {
	return func(o *options) { o.blockSize = block }
}

// WithContinuousMask toggles carrying previously pruned positions forward.
func WithContinuousMask(on bool) Option {
	return func(o *options) { o.continuous = on }
}

// WithBalanceGran sets the bank shape for ModeBank, right-aligned to the
// weight shape.
func WithBalanceGran(gran []int) Option {
	return func(o *options) { o.gran = gran }
}

// WithResolver supplies the dependency resolver for ModeDependencyAware.
func WithResolver(r DependencyResolver) Option {
	return func(o *options) { o.resolver = r }
}

// New builds the allocator for mode over the given layer states.
func New(mode Mode, layers map[string]*LayerState, opts ...Option) (Allocator, error) {
	o := options{continuous: true}
	for _, opt := range opts {
		opt(&o)
	}
	if len(layers) == 0 {
		return nil, config.Errorf("no layers to allocate sparsity for")
	}
	for _, st := range layers {
		if err := st.validate(); err != nil {
			return nil, config.Errorf("%v", err)
		}
	}

	b := base{
		layers:     layers,
		names:      sortedNames(layers),
		shaper:     &Shaper{Dims: o.dims, BlockSize: o.blockSize},
		continuous: o.continuous,
	}
	switch mode {
	case ModeNormal:
		return &NormalAllocator{base: b}, nil
	case ModeBank:
		if len(o.gran) == 0 {
			return nil, config.Errorf("bank mode requires a balance granularity")
		}
		return &BankAllocator{base: b, gran: o.gran}, nil
	case ModeGlobal:
		return &GlobalAllocator{base: b}, nil
	case ModeDependencyAware:
		if o.resolver == nil {
			return nil, config.Errorf("dependency-aware mode requires a layer graph to trace")
		}
		return &DependencyAwareAllocator{base: b, resolver: o.resolver}, nil
	}
	return nil, config.Errorf("unknown allocator mode %d", mode)
}

// base carries the state shared by every allocator variant.
type base struct {
	layers     map[string]*LayerState
	names      []string // sorted for deterministic ordering
	shaper     *Shaper
	continuous bool
}

// metricFor fetches and, under continuous mode, history-masks the metric for
// one layer. A missing entry is a caller-contract violation: the metric
// stage did not process a layer the allocator was told to prune.
func (b *base) metricFor(st *LayerState, metrics map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	metric, ok := metrics[st.Name]
	if !ok {
		return nil, config.Errorf("metric for layer %q was not calculated", st.Name)
	}
	if !b.continuous {
		return metric, nil
	}
	prev, err := b.shaper.Compress(st.WeightMask)
	if err != nil {
		return nil, config.Errorf("layer %q: compress previous mask: %v", st.Name, err)
	}
	masked, err := metric.Mul(prev)
	if err != nil {
		return nil, config.Errorf("layer %q: metric shape %v does not match mask granularity %v",
			st.Name, metric.Dims(), prev.Dims())
	}
	return masked, nil
}

// finish expands a metric-granularity decision and re-applies the previous
// round's masks under continuous mode.
func (b *base) finish(st *LayerState, decision *tensor.Tensor) (Mask, error) {
	mask, err := b.shaper.Expand(st, decision)
	if err != nil {
		return Mask{}, err
	}
	if b.continuous {
		if err := mask.Weight.MulInPlace(st.WeightMask); err != nil {
			return Mask{}, config.Errorf("layer %q: %v", st.Name, err)
		}
		if mask.Bias != nil && st.BiasMask != nil {
			if err := mask.Bias.MulInPlace(st.BiasMask); err != nil {
				return Mask{}, config.Errorf("layer %q: %v", st.Name, err)
			}
		}
	}
	return mask, nil
}

func sortedNames(layers map[string]*LayerState) []string {
	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

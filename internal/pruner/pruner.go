// Package pruner wires collection, metric calculation, and mask allocation
// into one compress round over a model snapshot, and owns applying the
// resulting masks to the weights.
package pruner

import (
	"sort"
	"time"

	"github.com/Roxbili/snip/internal/collector"
	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/graph"
	"github.com/Roxbili/snip/internal/logger"
	"github.com/Roxbili/snip/internal/metrics"
	"github.com/Roxbili/snip/internal/sparsity"
	"github.com/Roxbili/snip/internal/tensor"
)

type Pruner struct {
	model      *Model
	plan       *config.Plan
	states     map[string]*sparsity.LayerState
	collector  collector.DataCollector
	calculator collector.MetricsCalculator
	allocator  sparsity.Allocator
	log        *logger.Logger
	round      int

	importance map[string]*tensor.Tensor // last successful round's metrics
}

// New resolves the plan against the model: layer states, metric calculator,
// allocator mode, and (for dependency-aware mode) the topology resolver.
func New(model *Model, plan *config.Plan) (*Pruner, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	states := make(map[string]*sparsity.LayerState, len(plan.Layers))
	names := make([]string, 0, len(plan.Layers))
	for _, lp := range plan.Layers {
		l := model.Layer(lp.Name)
		if l == nil {
			return nil, config.Errorf("plan layer %q not found in model", lp.Name)
		}
		var biasShape []int
		if l.Bias != nil {
			biasShape = l.Bias.Dims()
		}
		st := sparsity.NewLayerState(lp.Name, l.Weight.Dims(), biasShape)
		st.TotalSparsity = plan.LayerSparsity(lp)
		if lp.MaxSparsity != nil {
			st.MaxSparsity = *lp.MaxSparsity
		}
		st.Group = lp.Group
		st.MaskBias = lp.MaskBias
		states[lp.Name] = st
		names = append(names, lp.Name)
		metrics.RecordTarget(lp.Name, st.TotalSparsity)
	}

	mode, err := sparsity.ParseMode(plan.Mode)
	if err != nil {
		return nil, err
	}
	opts := []sparsity.Option{
		sparsity.WithDims(plan.Dims),
		sparsity.WithBlockSparseSize(plan.BlockSparseSize),
		sparsity.WithContinuousMask(plan.Continuous()),
	}
	if mode == sparsity.ModeBank {
		opts = append(opts, sparsity.WithBalanceGran(plan.BalanceGran))
	}
	if mode == sparsity.ModeDependencyAware {
		resolver, err := graph.NewResolver(plan.Graph)
		if err != nil {
			return nil, err
		}
		// A plan layer outside every dependency set would never receive a
		// mask; reject the plan instead of silently skipping the layer.
		covered := make(map[string]bool)
		for _, set := range resolver.ChannelDependencySets() {
			for _, member := range set {
				covered[member] = true
			}
		}
		for _, lp := range plan.Layers {
			if !covered[lp.Name] {
				return nil, config.Errorf("layer %q is not a prunable node of the layer graph", lp.Name)
			}
		}
		opts = append(opts, sparsity.WithResolver(resolver))
	}
	alloc, err := sparsity.New(mode, states, opts...)
	if err != nil {
		return nil, err
	}

	return &Pruner{
		model:      model,
		plan:       plan,
		states:     states,
		collector:  collector.NewWeightCollector(model, names),
		calculator: newCalculator(plan),
		allocator:  alloc,
		log:        logger.Log.Named("pruner"),
	}, nil
}

func newCalculator(plan *config.Plan) collector.MetricsCalculator {
	switch plan.Metric {
	case config.MetricL1:
		return collector.NormCalculator{P: 1, Dims: plan.Dims}
	case config.MetricL2:
		return collector.NormCalculator{P: 2, Dims: plan.Dims}
	case config.MetricBlock:
		return collector.BlockMeanCalculator{Dims: plan.Dims, BlockSize: plan.BlockSparseSize}
	default:
		return collector.StraightCalculator{}
	}
}

// States exposes the layer states for inspection and reporting.
func (p *Pruner) States() map[string]*sparsity.LayerState {
	return p.states
}

// Round returns the number of completed compress rounds.
func (p *Pruner) Round() int {
	return p.round
}

// Metrics returns the importance metrics of the last successful round, nil
// before the first. Callers persist them alongside the masks.
func (p *Pruner) Metrics() map[string]*tensor.Tensor {
	return p.importance
}

// SetTotalSparsity raises (or lowers) every layer's target before the next
// round. Callers driving progressive schedules use this between rounds.
func (p *Pruner) SetTotalSparsity(s float64) error {
	if s < 0 || s >= 1 {
		return config.Errorf("total sparsity %v out of range [0,1)", s)
	}
	for _, st := range p.states {
		st.TotalSparsity = s
		metrics.RecordTarget(st.Name, s)
	}
	return nil
}

// Compress runs one round: collect signals, reduce to importance metrics,
// allocate masks, apply them to the model, and roll the continuous-mask
// state forward. On error no partial mask set is returned and the model is
// untouched.
func (p *Pruner) Compress() (map[string]sparsity.Mask, error) {
	collectStart := time.Now()
	data, err := p.collector.Collect()
	if err != nil {
		return nil, p.abort(err)
	}
	importance, err := p.calculator.Calculate(data)
	if err != nil {
		return nil, p.abort(err)
	}
	metrics.RecordCollect(time.Since(collectStart))

	allocStart := time.Now()
	masks, err := p.allocator.GenerateSparsity(importance)
	if err != nil {
		return nil, p.abort(err)
	}
	metrics.RecordRound(time.Since(allocStart), len(masks))

	if err := p.apply(masks); err != nil {
		return nil, p.abort(err)
	}
	p.importance = importance
	p.round++
	return masks, nil
}

func (p *Pruner) apply(masks map[string]sparsity.Mask) error {
	names := make([]string, 0, len(masks))
	for name := range masks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mask := masks[name]
		st := p.states[name]
		l := p.model.Layer(name)

		if err := l.Weight.MulInPlace(mask.Weight); err != nil {
			return config.Errorf("layer %q: apply weight mask: %v", name, err)
		}
		if mask.Bias != nil && l.Bias != nil {
			if err := l.Bias.MulInPlace(mask.Bias); err != nil {
				return config.Errorf("layer %q: apply bias mask: %v", name, err)
			}
		}

		total := st.WeightNumel()
		prevKept := int(st.WeightMask.Sum())
		kept := int(mask.Weight.Sum())
		metrics.RecordLayerMask(name, total, kept, prevKept-kept)
		p.log.Info("layer pruned",
			"layer", name,
			"remain", kept,
			"total", total,
			"sparsity", 1-float64(kept)/float64(total))

		st.WeightMask = mask.Weight.Clone()
		if mask.Bias != nil {
			st.BiasMask = mask.Bias.Clone()
		}
	}
	return nil
}

func (p *Pruner) abort(err error) error {
	if config.IsConfigError(err) {
		metrics.RecordConfigError()
	}
	p.log.Error("compress round aborted", "round", p.round, "error", err)
	return err
}

package sparsity

import (
	"sort"

	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/tensor"
)

// DependencyAwareAllocator prunes structurally coupled layers in lockstep.
// Per dependency set it first builds one shared structural mask — honoring
// the lcm of every member's channel-group divisor — from the summed member
// metrics at the least aggressive member's sparsity, then re-thresholds each
// member at its own sparsity inside the positions the shared mask allows.
type DependencyAwareAllocator struct {
	base
	resolver DependencyResolver
}

func (a *DependencyAwareAllocator) GenerateSparsity(metrics map[string]*tensor.Tensor) (map[string]Mask, error) {
	sets := a.resolver.ChannelDependencySets()
	factors := a.resolver.GroupFactors()

	masks := make(map[string]Mask, len(a.names))
	for _, set := range sets {
		members := a.knownMembers(set)
		if len(members) == 0 {
			continue
		}
		if err := a.allocateSet(members, factors, metrics, masks); err != nil {
			return nil, err
		}
	}
	return masks, nil
}

// knownMembers filters a dependency set down to the layers this allocator
// manages, in deterministic order. Layers outside the pruning scope may
// legitimately appear in a traced set.
func (a *DependencyAwareAllocator) knownMembers(set []string) []string {
	var members []string
	for _, name := range set {
		if _, ok := a.layers[name]; ok {
			members = append(members, name)
		}
	}
	sort.Strings(members)
	return members
}

func (a *DependencyAwareAllocator) allocateSet(members []string, factors map[string]int, metrics map[string]*tensor.Tensor, masks map[string]Mask) error {
	compressed := make(map[string]*tensor.Tensor, len(members))
	for _, name := range members {
		metric, err := a.metricFor(a.layers[name], metrics)
		if err != nil {
			return err
		}
		compressed[name] = metric
	}

	first := compressed[members[0]]
	for _, name := range members[1:] {
		if !compressed[name].SameShape(first) {
			return config.Errorf("dependency set %v: metric shape %v of %q does not match %v of %q",
				members, compressed[name].Dims(), name, first.Dims(), members[0])
		}
	}

	// Combined importance: elementwise sum across members.
	groupMetric := first.Clone()
	for _, name := range members[1:] {
		if err := groupMetric.AddInPlace(compressed[name]); err != nil {
			return err
		}
	}

	minSparsity := a.layers[members[0]].TotalSparsity
	maxGroup := 1
	for _, name := range members {
		if s := a.layers[name].TotalSparsity; s < minSparsity {
			minSparsity = s
		}
		if f, ok := factors[name]; ok && f > 1 {
			maxGroup = lcm(maxGroup, f)
		}
	}

	n := groupMetric.NumElements()
	if n%maxGroup != 0 {
		return config.Errorf("dependency set %v: %d channels not divisible by group factor %d",
			members, n, maxGroup)
	}
	step := n / maxGroup
	prunedPerGroup := pruneCount(minSparsity, step)

	// Shared structural mask: each of the maxGroup contiguous segments is
	// thresholded independently so every member's divisibility constraint
	// holds on the common skeleton.
	shared := tensor.New(groupMetric.Dims()...)
	data := groupMetric.Data()
	for g := 0; g < maxGroup; g++ {
		seg := data[g*step : (g+1)*step]
		thr := SelectThreshold(seg, prunedPerGroup)
		out := shared.Data()[g*step : (g+1)*step]
		for i, v := range seg {
			if v > thr {
				out[i] = 1
			}
		}
	}

	// Per-member pass: members with a higher individual target prune further
	// within the positions the shared mask still allows, never re-admitting
	// a position the shared step removed.
	for _, name := range members {
		st := a.layers[name]
		metric, err := compressed[name].Mul(shared)
		if err != nil {
			return config.Errorf("layer %q: %v", name, err)
		}
		k := pruneCount(st.TotalSparsity, metric.NumElements())
		thr := SelectThreshold(metric.Data(), k)
		mask, err := a.finish(st, metric.GreaterThan(thr))
		if err != nil {
			return err
		}
		masks[name] = mask
	}
	return nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

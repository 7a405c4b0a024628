package sparsity

import (
	"math"
	"sort"

	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/tensor"
)

// GlobalAllocator shares one sparsity budget across each layer group: the
// aggregate prune ratio of the group hits the target while individual layers
// redistribute freely, except where a per-layer cap protects a retention
// floor. Two thresholds govern every layer: the shared pool threshold and
// the layer's own cap threshold, and the stricter one wins.
type GlobalAllocator struct {
	base
}

func (a *GlobalAllocator) GenerateSparsity(metrics map[string]*tensor.Tensor) (map[string]Mask, error) {
	masks := make(map[string]Mask, len(a.names))
	for _, gid := range a.groupIDs() {
		if err := a.allocateGroup(gid, a.groupMembers(gid), metrics, masks); err != nil {
			return nil, err
		}
	}
	return masks, nil
}

func (a *GlobalAllocator) groupIDs() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, name := range a.names {
		g := a.layers[name].Group
		if !seen[g] {
			seen[g] = true
			ids = append(ids, g)
		}
	}
	sort.Ints(ids)
	return ids
}

func (a *GlobalAllocator) groupMembers(gid int) []string {
	var members []string
	for _, name := range a.names {
		if a.layers[name].Group == gid {
			members = append(members, name)
		}
	}
	return members
}

func (a *GlobalAllocator) allocateGroup(gid int, members []string, metrics map[string]*tensor.Tensor, masks map[string]Mask) error {
	totalSparsity := a.layers[members[0]].TotalSparsity
	for _, name := range members[1:] {
		if a.layers[name].TotalSparsity != totalSparsity {
			return config.Errorf("group %d: layers %q and %q disagree on total sparsity (%v vs %v)",
				gid, members[0], name, totalSparsity, a.layers[name].TotalSparsity)
		}
	}

	// Pass one: per-layer cap thresholds and the shared candidate pool.
	// Candidates are replicated by the weight/metric expansion ratio so pool
	// values rank in weight-element units.
	compressed := make(map[string]*tensor.Tensor, len(members))
	capThr := make(map[string]float32, len(members))
	var pool []float32
	totalWeight := 0
	for _, name := range members {
		st := a.layers[name]
		metric, err := a.metricFor(st, metrics)
		if err != nil {
			return err
		}
		compressed[name] = metric

		weightNumel := st.WeightNumel()
		totalWeight += weightNumel
		metricNumel := metric.NumElements()
		expandTimes := weightNumel / metricNumel

		maxSparsity := st.MaxSparsity
		if maxSparsity == 0 {
			maxSparsity = 1
		}
		retention := int(math.Ceil((1 - maxSparsity) * float64(weightNumel)))
		protected := int(math.Ceil(float64(retention) * float64(metricNumel) / float64(weightNumel)))
		stay := metricNumel - protected
		if stay <= 0 {
			// Retention floor covers the whole layer: nothing is a prune
			// candidate, the cap sentinel keeps everything. The sentinel sits
			// below any finite metric; min-1 would collapse back to min for
			// values at float32 granularity.
			capThr[name] = -math.MaxFloat32
			continue
		}
		candidates := smallest(metric.Data(), stay)
		capThr[name] = candidates[stay-1]
		for i := 0; i < expandTimes; i++ {
			pool = append(pool, candidates...)
		}
	}

	globalThr := float32(-math.MaxFloat32)
	if len(pool) > 0 {
		totalPrune := pruneCount(totalSparsity, totalWeight)
		globalThr = SelectThreshold(pool, totalPrune)
	}

	// Pass two: final decision per layer; the cap threshold wins whenever it
	// is the stricter (lower) one.
	for _, name := range members {
		st := a.layers[name]
		thr := globalThr
		if capThr[name] < thr {
			thr = capThr[name]
		}
		mask, err := a.finish(st, compressed[name].GreaterThan(thr))
		if err != nil {
			return err
		}
		masks[name] = mask
	}
	return nil
}

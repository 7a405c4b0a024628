package sparsity

import (
	"math"
	"slices"
)

// SelectThreshold returns the prune/keep boundary for removing k elements
// from values: the largest value among the k smallest entries. The decision
// rule everywhere is keep iff metric > threshold (strict), so elements tied
// with the boundary are pruned along with everything smaller and the realized
// prune count is at least k when boundary ties exist.
//
// k <= 0 returns a sentinel strictly below any finite metric so every
// element classifies as kept. Subtracting from the minimum instead would be
// wrong at float32 granularity: min-1 rounds back to min once values reach
// 2^24 and the boundary tie would prune.
func SelectThreshold(values []float32, k int) float32 {
	if len(values) == 0 || k <= 0 {
		return -math.MaxFloat32
	}
	if k >= len(values) {
		k = len(values)
	}
	cp := slices.Clone(values)
	slices.Sort(cp)
	return cp[k-1]
}

// smallest returns the k smallest entries of values in ascending order.
func smallest(values []float32, k int) []float32 {
	cp := slices.Clone(values)
	slices.Sort(cp)
	if k > len(cp) {
		k = len(cp)
	}
	return cp[:k]
}

// pruneCount converts a sparsity fraction to an element count, truncating.
func pruneCount(sparsity float64, numel int) int {
	return int(math.Floor(sparsity * float64(numel)))
}

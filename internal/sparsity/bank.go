package sparsity

import (
	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/tensor"
)

// BankAllocator implements balanced sparsity: the weight tensor is split
// into banks aligned to the configured granularity (right-aligned, leading
// axes get bank extent 1) and every bank is pruned to the same count. Each
// bank keeps an even share of survivors, which hardware sparse kernels can
// exploit. Element granularity only.
type BankAllocator struct {
	base
	gran []int
}

func (a *BankAllocator) GenerateSparsity(metrics map[string]*tensor.Tensor) (map[string]Mask, error) {
	masks := make(map[string]Mask, len(a.names))
	for _, name := range a.names {
		st := a.layers[name]
		metric, err := a.metricFor(st, metrics)
		if err != nil {
			return nil, err
		}
		bank, err := a.bankShape(st)
		if err != nil {
			return nil, err
		}
		decision, err := a.pruneBanks(st, metric, bank)
		if err != nil {
			return nil, err
		}
		mask, err := a.finish(st, decision)
		if err != nil {
			return nil, err
		}
		masks[name] = mask
	}
	return masks, nil
}

// bankShape right-aligns the granularity to the weight rank and checks it
// divides the weight shape evenly.
func (a *BankAllocator) bankShape(st *LayerState) ([]int, error) {
	rank := len(st.WeightShape)
	if len(a.gran) > rank {
		return nil, config.Errorf("layer %q: balance granularity %v exceeds weight rank %d",
			st.Name, a.gran, rank)
	}
	bank := make([]int, rank)
	for i := range bank {
		bank[i] = 1
	}
	copy(bank[rank-len(a.gran):], a.gran)
	for i, b := range bank {
		if st.WeightShape[i]%b != 0 {
			return nil, config.Errorf("layer %q: bank shape %v does not divide weight shape %v",
				st.Name, bank, st.WeightShape)
		}
	}
	return bank, nil
}

func (a *BankAllocator) pruneBanks(st *LayerState, metric *tensor.Tensor, bank []int) (*tensor.Tensor, error) {
	shape := st.WeightShape
	rank := len(shape)
	if metric.NumElements() != st.WeightNumel() {
		return nil, config.Errorf("layer %q: bank mode needs an element-wise metric, got shape %v for weight %v",
			st.Name, metric.Dims(), shape)
	}

	grid := make([]int, rank)
	banks := 1
	bankNumel := 1
	for i := range shape {
		grid[i] = shape[i] / bank[i]
		banks *= grid[i]
		bankNumel *= bank[i]
	}
	perBank := pruneCount(st.TotalSparsity, bankNumel)

	decision := tensor.New(shape...)
	bankIdx := make([]int, rank)
	inner := make([]int, rank)
	idx := make([]int, rank)
	vals := make([]float32, bankNumel)
	flat := make([]int, bankNumel)

	for b := 0; b < banks; b++ {
		decompose(b, grid, bankIdx)
		for j := 0; j < bankNumel; j++ {
			decompose(j, bank, inner)
			for i := 0; i < rank; i++ {
				idx[i] = bankIdx[i]*bank[i] + inner[i]
			}
			off := flatOffset(idx, shape)
			flat[j] = off
			vals[j] = metric.Data()[off]
		}
		thr := SelectThreshold(vals, perBank)
		for j, off := range flat {
			if vals[j] > thr {
				decision.Data()[off] = 1
			}
		}
	}
	return decision, nil
}

func decompose(off int, dims, out []int) {
	for i := len(dims) - 1; i >= 0; i-- {
		out[i] = off % dims[i]
		off /= dims[i]
	}
}

func flatOffset(idx, dims []int) int {
	off := 0
	for i, d := range dims {
		off = off*d + idx[i]
	}
	return off
}

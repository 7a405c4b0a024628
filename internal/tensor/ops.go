package tensor

import (
	"fmt"
	"slices"
)

// SumAxes sums t over every axis not listed in keep, producing a tensor whose
// shape is t's shape restricted to the kept axes (in ascending axis order).
func SumAxes(t *Tensor, keep []int) (*Tensor, error) {
	if err := checkAxes(keep, t.Rank()); err != nil {
		return nil, err
	}
	outDims := make([]int, len(keep))
	for i, ax := range keep {
		outDims[i] = t.dims[ax]
	}
	out := New(outDims...)

	idx := make([]int, t.Rank())
	outIdx := make([]int, len(keep))
	for off := 0; off < len(t.data); off++ {
		coords(off, t.dims, idx)
		for i, ax := range keep {
			outIdx[i] = idx[ax]
		}
		out.data[out.offset(outIdx)] += t.data[off]
	}
	return out, nil
}

// AvgPoolBlocks reduces t by non-overlapping blocks of the given size, one
// block size per axis. Edge blocks that run past the tensor boundary average
// only the in-range cells; output extents round up.
func AvgPoolBlocks(t *Tensor, block []int) (*Tensor, error) {
	if len(block) != t.Rank() {
		return nil, fmt.Errorf("block rank %d does not match tensor rank %d", len(block), t.Rank())
	}
	outDims := make([]int, t.Rank())
	for i, b := range block {
		if b <= 0 {
			return nil, fmt.Errorf("invalid block size %v", block)
		}
		outDims[i] = (t.dims[i] + b - 1) / b
	}
	out := New(outDims...)

	idx := make([]int, t.Rank())
	outIdx := make([]int, t.Rank())
	counts := make([]int, out.NumElements())
	for off := 0; off < len(t.data); off++ {
		coords(off, t.dims, idx)
		for i := range idx {
			outIdx[i] = idx[i] / block[i]
		}
		o := out.offset(outIdx)
		out.data[o] += t.data[off]
		counts[o]++
	}
	for i := range out.data {
		out.data[i] /= float32(counts[i])
	}
	return out, nil
}

// TileBlocks expands t by repeating every cell into a block of the given
// size, one block size per axis. The inverse of AvgPoolBlocks up to edge
// truncation.
func TileBlocks(t *Tensor, block []int) (*Tensor, error) {
	if len(block) != t.Rank() {
		return nil, fmt.Errorf("block rank %d does not match tensor rank %d", len(block), t.Rank())
	}
	outDims := make([]int, t.Rank())
	for i, b := range block {
		if b <= 0 {
			return nil, fmt.Errorf("invalid block size %v", block)
		}
		outDims[i] = t.dims[i] * b
	}
	out := New(outDims...)

	idx := make([]int, t.Rank())
	srcIdx := make([]int, t.Rank())
	for off := 0; off < len(out.data); off++ {
		coords(off, out.dims, idx)
		for i := range idx {
			srcIdx[i] = idx[i] / block[i]
		}
		out.data[off] = t.data[t.offset(srcIdx)]
	}
	return out, nil
}

// CropTo truncates t to the target shape, dropping trailing elements along
// each axis. The target may not exceed t on any axis.
func CropTo(t *Tensor, target []int) (*Tensor, error) {
	if len(target) != t.Rank() {
		return nil, fmt.Errorf("crop rank %d does not match tensor rank %d", len(target), t.Rank())
	}
	for i, d := range target {
		if d > t.dims[i] || d <= 0 {
			return nil, fmt.Errorf("cannot crop shape %v to %v", t.dims, target)
		}
	}
	if slices.Equal(target, t.dims) {
		return t.Clone(), nil
	}
	out := New(target...)
	idx := make([]int, len(target))
	for off := 0; off < len(out.data); off++ {
		coords(off, out.dims, idx)
		out.data[off] = t.data[t.offset(idx)]
	}
	return out, nil
}

// BroadcastAxes expands t to the full shape by treating t's axes as sitting
// at the positions listed in keep and broadcasting along every other axis.
// t's shape must equal full restricted to keep.
func BroadcastAxes(t *Tensor, keep []int, full []int) (*Tensor, error) {
	if err := checkAxes(keep, len(full)); err != nil {
		return nil, err
	}
	if len(keep) != t.Rank() {
		return nil, fmt.Errorf("keep axes %v do not match tensor rank %d", keep, t.Rank())
	}
	for i, ax := range keep {
		if t.dims[i] != full[ax] {
			return nil, fmt.Errorf("axis %d: size %d does not match target %d", ax, t.dims[i], full[ax])
		}
	}
	out := New(full...)
	idx := make([]int, len(full))
	srcIdx := make([]int, len(keep))
	for off := 0; off < len(out.data); off++ {
		coords(off, out.dims, idx)
		for i, ax := range keep {
			srcIdx[i] = idx[ax]
		}
		out.data[off] = t.data[t.offset(srcIdx)]
	}
	return out, nil
}

func checkAxes(axes []int, rank int) error {
	if !slices.IsSorted(axes) {
		return fmt.Errorf("axes %v must be ascending", axes)
	}
	for i, ax := range axes {
		if ax < 0 || ax >= rank {
			return fmt.Errorf("axis %d out of range for rank %d", ax, rank)
		}
		if i > 0 && axes[i-1] == ax {
			return fmt.Errorf("duplicate axis %d", ax)
		}
	}
	return nil
}

package tensor

import (
	"fmt"
	"slices"
)

// Tensor is a dense float32 tensor in row-major layout. Importance metrics
// and masks are small compared to activations, so everything lives on the
// host and is computed with plain loops.
type Tensor struct {
	data []float32
	dims []int
}

// New allocates a zero-filled tensor.
func New(dims ...int) *Tensor {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return &Tensor{
		data: make([]float32, n),
		dims: slices.Clone(dims),
	}
}

// Ones allocates a tensor filled with 1.
func Ones(dims ...int) *Tensor {
	t := New(dims...)
	for i := range t.data {
		t.data[i] = 1
	}
	return t
}

// FromSlice wraps data in a tensor of the given shape. The slice is not
// copied.
func FromSlice(data []float32, dims ...int) (*Tensor, error) {
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("invalid dim %d in shape %v", d, dims)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", dims, n, len(data))
	}
	return &Tensor{data: data, dims: slices.Clone(dims)}, nil
}

func (t *Tensor) Dims() []int {
	return t.dims
}

func (t *Tensor) Rank() int {
	return len(t.dims)
}

func (t *Tensor) Data() []float32 {
	return t.data
}

func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		data: slices.Clone(t.data),
		dims: slices.Clone(t.dims),
	}
}

// SameShape reports whether t and o have identical dims.
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.dims, o.dims)
}

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

// Set writes the element at the given multi-index.
func (t *Tensor) Set(v float32, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Tensor) offset(idx []int) int {
	off := 0
	for i, d := range t.dims {
		off = off*d + idx[i]
	}
	return off
}

// Min returns the smallest element. Panics on empty tensors; callers always
// operate on non-empty metrics.
func (t *Tensor) Min() float32 {
	m := t.data[0]
	for _, v := range t.data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest element.
func (t *Tensor) Max() float32 {
	m := t.data[0]
	for _, v := range t.data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float32 {
	var s float32
	for _, v := range t.data {
		s += v
	}
	return s
}

// Mul returns the elementwise product of t and o.
func (t *Tensor) Mul(o *Tensor) (*Tensor, error) {
	if !t.SameShape(o) {
		return nil, fmt.Errorf("shape mismatch %v vs %v", t.dims, o.dims)
	}
	out := t.Clone()
	for i, v := range o.data {
		out.data[i] *= v
	}
	return out, nil
}

// MulInPlace multiplies t by o elementwise.
func (t *Tensor) MulInPlace(o *Tensor) error {
	if !t.SameShape(o) {
		return fmt.Errorf("shape mismatch %v vs %v", t.dims, o.dims)
	}
	for i, v := range o.data {
		t.data[i] *= v
	}
	return nil
}

// AddInPlace adds o to t elementwise.
func (t *Tensor) AddInPlace(o *Tensor) error {
	if !t.SameShape(o) {
		return fmt.Errorf("shape mismatch %v vs %v", t.dims, o.dims)
	}
	for i, v := range o.data {
		t.data[i] += v
	}
	return nil
}

// Binarize returns a tensor with 1 where the element is non-zero and 0
// elsewhere.
func (t *Tensor) Binarize() *Tensor {
	out := New(t.dims...)
	for i, v := range t.data {
		if v != 0 {
			out.data[i] = 1
		}
	}
	return out
}

// GreaterThan returns a binary tensor with 1 where the element is strictly
// greater than thr.
func (t *Tensor) GreaterThan(thr float32) *Tensor {
	out := New(t.dims...)
	for i, v := range t.data {
		if v > thr {
			out.data[i] = 1
		}
	}
	return out
}

// coords decomposes a flat row-major offset into a multi-index.
func coords(off int, dims, out []int) []int {
	for i := len(dims) - 1; i >= 0; i-- {
		out[i] = off % dims[i]
		off /= dims[i]
	}
	return out
}

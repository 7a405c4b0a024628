package sparsity

import (
	"slices"
	"testing"

	"github.com/Roxbili/snip/internal/tensor"
)

func TestShaperElementwiseRoundTrip(t *testing.T) {
	s := &Shaper{}
	st := NewLayerState("fc.weight", []int{2, 3}, nil)

	mask, _ := tensor.FromSlice([]float32{1, 0, 1, 0, 1, 0}, 2, 3)
	got, err := s.Compress(mask)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !slices.Equal(got.Data(), mask.Data()) {
		t.Errorf("elementwise compress changed mask: %v", got.Data())
	}

	out, err := s.Expand(st, got)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if !slices.Equal(out.Weight.Data(), mask.Data()) {
		t.Errorf("round trip mask = %v, want %v", out.Weight.Data(), mask.Data())
	}
	if out.Bias != nil {
		t.Error("expected nil bias mask")
	}
}

func TestShaperChannelCompress(t *testing.T) {
	s := &Shaper{Dims: []int{0}}
	// Row 1 fully dead, rows 0 and 2 have at least one live element.
	mask, _ := tensor.FromSlice([]float32{1, 0, 0, 0, 0, 1}, 3, 2)
	got, err := s.Compress(mask)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	want := []float32{1, 0, 1}
	if !slices.Equal(got.Data(), want) {
		t.Errorf("channel compress = %v, want %v", got.Data(), want)
	}
}

func TestShaperChannelExpand(t *testing.T) {
	s := &Shaper{Dims: []int{0}}
	st := NewLayerState("conv.weight", []int{3, 2}, nil)

	decision, _ := tensor.FromSlice([]float32{1, 0, 1}, 3)
	out, err := s.Expand(st, decision)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	want := []float32{1, 1, 0, 0, 1, 1}
	if !slices.Equal(out.Weight.Data(), want) {
		t.Errorf("channel expand = %v, want %v", out.Weight.Data(), want)
	}
}

func TestShaperBlockRoundTrip(t *testing.T) {
	s := &Shaper{BlockSize: []int{2, 2}}
	st := NewLayerState("fc.weight", []int{4, 4}, nil)

	mask := tensor.Ones(4, 4)
	compressed, err := s.Compress(mask)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !slices.Equal(compressed.Dims(), []int{2, 2}) {
		t.Fatalf("compressed shape = %v, want [2 2]", compressed.Dims())
	}

	decision, _ := tensor.FromSlice([]float32{1, 0, 0, 1}, 2, 2)
	out, err := s.Expand(st, decision)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	want := []float32{
		1, 1, 0, 0,
		1, 1, 0, 0,
		0, 0, 1, 1,
		0, 0, 1, 1,
	}
	if !slices.Equal(out.Weight.Data(), want) {
		t.Errorf("block expand = %v, want %v", out.Weight.Data(), want)
	}
}

func TestShaperBlockPartialEdge(t *testing.T) {
	// 3 elements with block size 2: the trailing block covers one element and
	// the expanded mask is cropped back to the weight shape.
	s := &Shaper{BlockSize: []int{2}}
	st := NewLayerState("fc.weight", []int{3}, nil)

	mask, _ := tensor.FromSlice([]float32{1, 1, 0}, 3)
	compressed, err := s.Compress(mask)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if compressed.NumElements() != 2 {
		t.Fatalf("compressed length = %d, want 2", compressed.NumElements())
	}
	if !slices.Equal(compressed.Data(), []float32{1, 0}) {
		t.Errorf("compressed = %v, want [1 0]", compressed.Data())
	}

	out, err := s.Expand(st, compressed)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if !slices.Equal(out.Weight.Data(), []float32{1, 1, 0}) {
		t.Errorf("expanded = %v, want [1 1 0]", out.Weight.Data())
	}
}

func TestShaperBiasOptIn(t *testing.T) {
	decision, _ := tensor.FromSlice([]float32{1, 0, 1}, 3)

	s := &Shaper{Dims: []int{0}}
	st := NewLayerState("conv.weight", []int{3, 2}, []int{3})
	st.MaskBias = true

	out, err := s.Expand(st, decision)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if out.Bias == nil {
		t.Fatal("expected a bias mask when bias masking is enabled")
	}
	if !slices.Equal(out.Bias.Data(), []float32{1, 0, 1}) {
		t.Errorf("bias mask = %v, want [1 0 1]", out.Bias.Data())
	}

	// Not requested: no bias mask even though the layer has a bias.
	st2 := NewLayerState("conv.weight", []int{3, 2}, []int{3})
	out2, err := s.Expand(st2, decision)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if out2.Bias != nil {
		t.Error("expected nil bias mask without the opt-in")
	}

	// Input-axis pruning never masks the bias.
	s3 := &Shaper{Dims: []int{1}}
	st3 := NewLayerState("conv.weight", []int{3, 2}, []int{3})
	st3.MaskBias = true
	d3, _ := tensor.FromSlice([]float32{1, 0}, 2)
	out3, err := s3.Expand(st3, d3)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if out3.Bias != nil {
		t.Error("expected nil bias mask for input-axis pruning")
	}
}

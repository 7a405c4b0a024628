package sparsity

import (
	"slices"
	"testing"

	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/tensor"
)

func rangeMetric(dims ...int) *tensor.Tensor {
	tr := tensor.New(dims...)
	for i := range tr.Data() {
		tr.Data()[i] = float32(i + 1)
	}
	return tr
}

func TestNormalAllocatorHalf(t *testing.T) {
	st := NewLayerState("fc.weight", []int{4, 4}, nil)
	st.TotalSparsity = 0.5
	alloc, err := New(ModeNormal, map[string]*LayerState{st.Name: st})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	masks, err := alloc.GenerateSparsity(map[string]*tensor.Tensor{
		st.Name: rangeMetric(4, 4),
	})
	if err != nil {
		t.Fatalf("GenerateSparsity failed: %v", err)
	}

	mask := masks[st.Name]
	if got := mask.Weight.Sum(); got != 8 {
		t.Errorf("kept %v elements, want 8", got)
	}
	// The eight smallest metrics (1..8) are pruned.
	for i, v := range mask.Weight.Data() {
		want := float32(0)
		if i >= 8 {
			want = 1
		}
		if v != want {
			t.Errorf("mask[%d] = %v, want %v", i, v, want)
		}
	}
	if got := mask.Sparsity(); got != 0.5 {
		t.Errorf("sparsity = %v, want 0.5", got)
	}
}

func TestNormalAllocatorZeroSparsity(t *testing.T) {
	st := NewLayerState("fc.weight", []int{2, 3}, nil)
	st.TotalSparsity = 0
	alloc, err := New(ModeNormal, map[string]*LayerState{st.Name: st})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	masks, err := alloc.GenerateSparsity(map[string]*tensor.Tensor{
		st.Name: rangeMetric(2, 3),
	})
	if err != nil {
		t.Fatalf("GenerateSparsity failed: %v", err)
	}
	if got := masks[st.Name].Weight.Sum(); got != 6 {
		t.Errorf("kept %v elements, want all 6", got)
	}
}

func TestNormalAllocatorZeroSparsityLargeMetric(t *testing.T) {
	// L1 norms over big layers reach magnitudes where float32 cannot step
	// below the minimum by subtraction; a zero budget must still keep every
	// element, ties at the minimum included.
	st := NewLayerState("fc.weight", []int{4}, nil)
	st.TotalSparsity = 0
	alloc, err := New(ModeNormal, map[string]*LayerState{st.Name: st})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	metric, _ := tensor.FromSlice([]float32{1e8, 1e8, 2e8, 3e8}, 4)
	masks, err := alloc.GenerateSparsity(map[string]*tensor.Tensor{st.Name: metric})
	if err != nil {
		t.Fatalf("GenerateSparsity failed: %v", err)
	}
	if got := masks[st.Name].Weight.Sum(); got != 4 {
		t.Errorf("kept %v elements, want all 4", got)
	}
}

func TestNormalAllocatorMissingMetric(t *testing.T) {
	st := NewLayerState("fc.weight", []int{2, 2}, nil)
	st.TotalSparsity = 0.5
	alloc, err := New(ModeNormal, map[string]*LayerState{st.Name: st})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = alloc.GenerateSparsity(map[string]*tensor.Tensor{})
	if err == nil {
		t.Fatal("expected an error for a missing metric")
	}
	if !config.IsConfigError(err) {
		t.Errorf("expected a config error, got %v", err)
	}
}

func TestNormalAllocatorChannelDims(t *testing.T) {
	st := NewLayerState("conv.weight", []int{4, 4}, nil)
	st.TotalSparsity = 0.5
	alloc, err := New(ModeNormal, map[string]*LayerState{st.Name: st}, WithDims([]int{0}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	metric, _ := tensor.FromSlice([]float32{4, 1, 3, 2}, 4)
	masks, err := alloc.GenerateSparsity(map[string]*tensor.Tensor{st.Name: metric})
	if err != nil {
		t.Fatalf("GenerateSparsity failed: %v", err)
	}

	// Rows 1 and 3 carry the two smallest channel metrics.
	want := []float32{
		1, 1, 1, 1,
		0, 0, 0, 0,
		1, 1, 1, 1,
		0, 0, 0, 0,
	}
	if !slices.Equal(masks[st.Name].Weight.Data(), want) {
		t.Errorf("channel mask = %v, want %v", masks[st.Name].Weight.Data(), want)
	}
}

func TestNormalAllocatorContinuousMonotonic(t *testing.T) {
	st := NewLayerState("fc.weight", []int{4, 4}, nil)
	st.TotalSparsity = 0.5
	alloc, err := New(ModeNormal, map[string]*LayerState{st.Name: st})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	metric := rangeMetric(4, 4)
	first, err := alloc.GenerateSparsity(map[string]*tensor.Tensor{st.Name: metric})
	if err != nil {
		t.Fatalf("round 1 failed: %v", err)
	}
	st.WeightMask = first[st.Name].Weight

	st.TotalSparsity = 0.75
	second, err := alloc.GenerateSparsity(map[string]*tensor.Tensor{st.Name: metric})
	if err != nil {
		t.Fatalf("round 2 failed: %v", err)
	}

	if got := second[st.Name].Weight.Sum(); got != 4 {
		t.Errorf("round 2 kept %v elements, want 4", got)
	}
	for i := range metric.Data() {
		if first[st.Name].Weight.Data()[i] == 0 && second[st.Name].Weight.Data()[i] != 0 {
			t.Errorf("element %d was re-admitted after being pruned", i)
		}
	}
}

func TestNormalAllocatorNonContinuous(t *testing.T) {
	st := NewLayerState("fc.weight", []int{4}, nil)
	st.TotalSparsity = 0.5
	// Pretend elements 2 and 3 were pruned last round.
	st.WeightMask, _ = tensor.FromSlice([]float32{1, 1, 0, 0}, 4)

	alloc, err := New(ModeNormal, map[string]*LayerState{st.Name: st}, WithContinuousMask(false))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	metric, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, 4)
	masks, err := alloc.GenerateSparsity(map[string]*tensor.Tensor{st.Name: metric})
	if err != nil {
		t.Fatalf("GenerateSparsity failed: %v", err)
	}
	// History is ignored: ranking is on the raw metric alone.
	want := []float32{0, 0, 1, 1}
	if !slices.Equal(masks[st.Name].Weight.Data(), want) {
		t.Errorf("mask = %v, want %v", masks[st.Name].Weight.Data(), want)
	}
}

func TestNewAllocatorValidation(t *testing.T) {
	if _, err := New(ModeNormal, map[string]*LayerState{}); err == nil {
		t.Error("expected an error for an empty layer set")
	}

	bad := NewLayerState("fc.weight", []int{2, 2}, nil)
	bad.TotalSparsity = 1.5
	if _, err := New(ModeNormal, map[string]*LayerState{bad.Name: bad}); err == nil {
		t.Error("expected an error for out-of-range sparsity")
	}

	ok := NewLayerState("fc.weight", []int{2, 2}, nil)
	if _, err := New(ModeBank, map[string]*LayerState{ok.Name: ok}); err == nil {
		t.Error("expected an error for bank mode without a granularity")
	}
	if _, err := New(ModeDependencyAware, map[string]*LayerState{ok.Name: ok}); err == nil {
		t.Error("expected an error for dependency mode without a resolver")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{config.ModeNormal, ModeNormal},
		{config.ModeBalance, ModeBank},
		{config.ModeGlobal, ModeGlobal},
		{config.ModeDependencyAware, ModeDependencyAware},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if err != nil {
			t.Errorf("ParseMode(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("Mode.String() = %q, want %q", got.String(), tt.in)
		}
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

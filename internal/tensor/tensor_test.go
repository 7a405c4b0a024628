package tensor

import (
	"slices"
	"testing"
)

func TestFromSlice(t *testing.T) {
	tr, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	if tr.NumElements() != 6 {
		t.Errorf("expected 6 elements, got %d", tr.NumElements())
	}
	if got := tr.At(1, 2); got != 6 {
		t.Errorf("At(1,2) = %v, want 6", got)
	}

	if _, err := FromSlice([]float32{1, 2, 3}, 2, 2); err == nil {
		t.Error("expected error for mismatched shape")
	}
}

func TestOnesAndBinarize(t *testing.T) {
	o := Ones(2, 2)
	if o.Sum() != 4 {
		t.Errorf("Ones sum = %v, want 4", o.Sum())
	}
	tr, _ := FromSlice([]float32{0, 0.5, -2, 0}, 4)
	b := tr.Binarize()
	want := []float32{0, 1, 1, 0}
	if !slices.Equal(b.Data(), want) {
		t.Errorf("Binarize = %v, want %v", b.Data(), want)
	}
}

func TestGreaterThan(t *testing.T) {
	tr, _ := FromSlice([]float32{1, 2, 3, 4}, 4)
	g := tr.GreaterThan(2)
	want := []float32{0, 0, 1, 1}
	if !slices.Equal(g.Data(), want) {
		t.Errorf("GreaterThan(2) = %v, want %v", g.Data(), want)
	}
}

func TestMulShapeMismatch(t *testing.T) {
	a := Ones(2, 2)
	b := Ones(4)
	if _, err := a.Mul(b); err == nil {
		t.Error("expected shape mismatch error")
	}
	if err := a.MulInPlace(b); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestSumAxes(t *testing.T) {
	// [[1,2,3],[4,5,6]]: keep axis 0 sums rows, keep axis 1 sums columns.
	tr, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)

	rows, err := SumAxes(tr, []int{0})
	if err != nil {
		t.Fatalf("SumAxes failed: %v", err)
	}
	if !slices.Equal(rows.Data(), []float32{6, 15}) {
		t.Errorf("row sums = %v, want [6 15]", rows.Data())
	}

	cols, err := SumAxes(tr, []int{1})
	if err != nil {
		t.Fatalf("SumAxes failed: %v", err)
	}
	if !slices.Equal(cols.Data(), []float32{5, 7, 9}) {
		t.Errorf("col sums = %v, want [5 7 9]", cols.Data())
	}

	if _, err := SumAxes(tr, []int{1, 0}); err == nil {
		t.Error("expected error for unsorted axes")
	}
	if _, err := SumAxes(tr, []int{2}); err == nil {
		t.Error("expected error for out-of-range axis")
	}
}

func TestAvgPoolBlocks(t *testing.T) {
	tests := []struct {
		name  string
		data  []float32
		dims  []int
		block []int
		want  []float32
	}{
		{
			name:  "even 1d",
			data:  []float32{1, 3, 5, 7},
			dims:  []int{4},
			block: []int{2},
			want:  []float32{2, 6},
		},
		{
			name: "edge block excludes padding",
			// Trailing block holds a single cell; its average is that cell.
			data:  []float32{2, 4, 6},
			dims:  []int{3},
			block: []int{2},
			want:  []float32{3, 6},
		},
		{
			name:  "2d blocks",
			data:  []float32{1, 1, 2, 2, 1, 1, 2, 2, 3, 3, 4, 4, 3, 3, 4, 4},
			dims:  []int{4, 4},
			block: []int{2, 2},
			want:  []float32{1, 2, 3, 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := FromSlice(tt.data, tt.dims...)
			got, err := AvgPoolBlocks(tr, tt.block)
			if err != nil {
				t.Fatalf("AvgPoolBlocks failed: %v", err)
			}
			if !slices.Equal(got.Data(), tt.want) {
				t.Errorf("AvgPoolBlocks = %v, want %v", got.Data(), tt.want)
			}
		})
	}
}

func TestTileBlocks(t *testing.T) {
	tr, _ := FromSlice([]float32{1, 2}, 2)
	got, err := TileBlocks(tr, []int{3})
	if err != nil {
		t.Fatalf("TileBlocks failed: %v", err)
	}
	want := []float32{1, 1, 1, 2, 2, 2}
	if !slices.Equal(got.Data(), want) {
		t.Errorf("TileBlocks = %v, want %v", got.Data(), want)
	}

	tr2, _ := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	got2, err := TileBlocks(tr2, []int{1, 2})
	if err != nil {
		t.Fatalf("TileBlocks failed: %v", err)
	}
	want2 := []float32{1, 1, 2, 2, 3, 3, 4, 4}
	if !slices.Equal(got2.Data(), want2) {
		t.Errorf("TileBlocks 2d = %v, want %v", got2.Data(), want2)
	}
}

func TestCropTo(t *testing.T) {
	tr, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	got, err := CropTo(tr, []int{2, 2})
	if err != nil {
		t.Fatalf("CropTo failed: %v", err)
	}
	want := []float32{1, 2, 4, 5}
	if !slices.Equal(got.Data(), want) {
		t.Errorf("CropTo = %v, want %v", got.Data(), want)
	}

	if _, err := CropTo(tr, []int{3, 3}); err == nil {
		t.Error("expected error when target exceeds shape")
	}
}

func TestBroadcastAxes(t *testing.T) {
	// A per-row decision broadcast across columns.
	tr, _ := FromSlice([]float32{1, 0}, 2)
	got, err := BroadcastAxes(tr, []int{0}, []int{2, 3})
	if err != nil {
		t.Fatalf("BroadcastAxes failed: %v", err)
	}
	want := []float32{1, 1, 1, 0, 0, 0}
	if !slices.Equal(got.Data(), want) {
		t.Errorf("BroadcastAxes = %v, want %v", got.Data(), want)
	}

	// A per-column decision broadcast across rows.
	got2, err := BroadcastAxes(tr, []int{1}, []int{3, 2})
	if err != nil {
		t.Fatalf("BroadcastAxes failed: %v", err)
	}
	want2 := []float32{1, 0, 1, 0, 1, 0}
	if !slices.Equal(got2.Data(), want2) {
		t.Errorf("BroadcastAxes = %v, want %v", got2.Data(), want2)
	}

	if _, err := BroadcastAxes(tr, []int{0}, []int{3, 2}); err == nil {
		t.Error("expected error for size mismatch on kept axis")
	}
}

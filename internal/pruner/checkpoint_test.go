package pruner

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Roxbili/snip/internal/gguf"
)

type ckptTensor struct {
	name string
	dims []int
	typ  gguf.Type
	data []float32
}

func writeCheckpoint(t *testing.T, tensors []ckptTensor) string {
	t.Helper()
	var buf bytes.Buffer
	u32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	u64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }
	str := func(s string) {
		u64(uint64(len(s)))
		buf.WriteString(s)
	}

	u32(gguf.Magic)
	u32(3)
	u64(uint64(len(tensors)))
	u64(0)

	offset := uint64(0)
	for _, tr := range tensors {
		str(tr.name)
		u32(uint32(len(tr.dims)))
		for i := len(tr.dims) - 1; i >= 0; i-- {
			u64(uint64(tr.dims[i]))
		}
		u32(uint32(tr.typ))
		u64(offset)
		size := uint64(len(tr.data) * 4)
		offset = (offset + size + gguf.DefaultAlignment - 1) /
			gguf.DefaultAlignment * gguf.DefaultAlignment
	}
	for buf.Len()%gguf.DefaultAlignment != 0 {
		buf.WriteByte(0)
	}
	for _, tr := range tensors {
		for _, v := range tr.data {
			u32(math.Float32bits(v))
		}
		for buf.Len()%gguf.DefaultAlignment != 0 {
			buf.WriteByte(0)
		}
	}

	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadModel(t *testing.T) {
	path := writeCheckpoint(t, []ckptTensor{
		{"fc1.weight", []int{2, 2}, gguf.TypeF32, []float32{1, 2, 3, 4}},
		{"fc1.bias", []int{2}, gguf.TypeF32, []float32{5, 6}},
		{"norm", []int{2}, gguf.TypeF32, []float32{7, 8}},
	})

	m, err := LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	if got := m.LayerNames(); !slices.Equal(got, []string{"fc1", "norm"}) {
		t.Fatalf("layers = %v, want [fc1 norm]", got)
	}

	fc1 := m.Layer("fc1")
	if !slices.Equal(fc1.Weight.Data(), []float32{1, 2, 3, 4}) {
		t.Errorf("fc1 weight = %v", fc1.Weight.Data())
	}
	if fc1.Bias == nil || !slices.Equal(fc1.Bias.Data(), []float32{5, 6}) {
		t.Errorf("fc1 bias = %v, want [5 6]", fc1.Bias)
	}

	// A suffix-less tensor stands alone without a bias.
	norm := m.Layer("norm")
	if norm == nil || norm.Bias != nil {
		t.Errorf("norm layer = %+v, want bias-less", norm)
	}
}

func TestLoadModelSkipsQuantized(t *testing.T) {
	path := writeCheckpoint(t, []ckptTensor{
		{"fc1.weight", []int{2}, gguf.TypeF32, []float32{1, 2}},
		{"q.weight", []int{2}, gguf.Type(2), []float32{0, 0}},
	})

	m, err := LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if got := m.LayerNames(); !slices.Equal(got, []string{"fc1"}) {
		t.Errorf("layers = %v, want [fc1] with the quantized tensor skipped", got)
	}
}

func TestLoadModelEmpty(t *testing.T) {
	path := writeCheckpoint(t, []ckptTensor{
		{"q.weight", []int{2}, gguf.Type(2), []float32{0, 0}},
	})
	if _, err := LoadModel(path); err == nil {
		t.Error("expected an error for a checkpoint with no prunable tensors")
	}
}

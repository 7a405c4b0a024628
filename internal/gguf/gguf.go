// Package gguf reads the subset of the GGUF checkpoint format a pruning
// round needs: metadata, tensor directory, and F32/F16 tensor data.
// Quantized tensor types are listed but not dequantized; pruning operates on
// unquantized checkpoints.
package gguf

import (
	"fmt"
	"math"
	"os"

	"github.com/Roxbili/snip/internal/tensor"
)

const (
	Magic = 0x46554747 // "GGUF" little-endian

	DefaultAlignment = 32
)

// Type is the GGML tensor element type.
type Type uint32

const (
	TypeF32 Type = 0
	TypeF16 Type = 1
)

func (t Type) elemSize() (int, bool) {
	switch t {
	case TypeF32:
		return 4, true
	case TypeF16:
		return 2, true
	}
	return 0, false
}

// Metadata value types.
type valueType uint32

const (
	typeUint8 valueType = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// TensorInfo is one entry of the tensor directory. Dims are row-major
// (GGUF stores them fastest-varying first; the reader reverses).
type TensorInfo struct {
	Name   string
	Dims   []int
	Type   Type
	Offset uint64
}

func (t *TensorInfo) NumElements() int {
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// File is a parsed checkpoint.
type File struct {
	Version uint32
	KV      map[string]any

	order   []string
	tensors map[string]*TensorInfo
	data    []byte // tensor data region
}

// Load reads and parses a checkpoint file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return Decode(raw)
}

// TensorNames returns the directory order of the file.
func (f *File) TensorNames() []string {
	return f.order
}

// Info returns the directory entry for name, or nil.
func (f *File) Info(name string) *TensorInfo {
	return f.tensors[name]
}

// Float32 materializes the named tensor as float32, converting F16 on the
// fly.
func (f *File) Float32(name string) (*tensor.Tensor, error) {
	info := f.tensors[name]
	if info == nil {
		return nil, fmt.Errorf("tensor %q not in checkpoint", name)
	}
	size, ok := info.Type.elemSize()
	if !ok {
		return nil, fmt.Errorf("tensor %q: unsupported type %d (prune an unquantized checkpoint)", name, info.Type)
	}
	n := info.NumElements()
	end := info.Offset + uint64(n*size)
	if end > uint64(len(f.data)) {
		return nil, fmt.Errorf("tensor %q: data out of range", name)
	}
	raw := f.data[info.Offset:end]

	out := make([]float32, n)
	switch info.Type {
	case TypeF32:
		for i := range out {
			bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
			out[i] = math.Float32frombits(bits)
		}
	case TypeF16:
		for i := range out {
			out[i] = halfToFloat(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		}
	}
	return tensor.FromSlice(out, info.Dims...)
}

// halfToFloat converts an IEEE 754 half-precision value.
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign << 31)
		}
		// Subnormal half: mant * 2^-24
		f := float32(mant) / (1 << 24)
		if sign == 1 {
			return -f
		}
		return f
	case 31:
		if mant == 0 {
			return math.Float32frombits(sign<<31 | 0x7f800000)
		}
		return math.Float32frombits(sign<<31 | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign<<31 | (exp-15+127)<<23 | mant<<13)
}

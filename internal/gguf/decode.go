package gguf

import (
	"encoding/binary"
	"fmt"
	"math"
)

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) u32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("truncated at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, fmt.Errorf("truncated at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) str() (string, error) {
	n, err := d.u64()
	if err != nil {
		return "", err
	}
	if uint64(d.remaining()) < n {
		return "", fmt.Errorf("truncated string at offset %d", d.off)
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	return s, nil
}

func (d *decoder) value(vt valueType) (any, error) {
	switch vt {
	case typeUint8, typeInt8, typeBool:
		if d.remaining() < 1 {
			return nil, fmt.Errorf("truncated at offset %d", d.off)
		}
		b := d.buf[d.off]
		d.off++
		if vt == typeBool {
			return b != 0, nil
		}
		return uint64(b), nil
	case typeUint16, typeInt16:
		if d.remaining() < 2 {
			return nil, fmt.Errorf("truncated at offset %d", d.off)
		}
		v := binary.LittleEndian.Uint16(d.buf[d.off:])
		d.off += 2
		return uint64(v), nil
	case typeUint32, typeInt32:
		v, err := d.u32()
		return uint64(v), err
	case typeFloat32:
		v, err := d.u32()
		return float64(math.Float32frombits(v)), err
	case typeUint64, typeInt64:
		return d.u64()
	case typeFloat64:
		v, err := d.u64()
		return math.Float64frombits(v), err
	case typeString:
		return d.str()
	case typeArray:
		et, err := d.u32()
		if err != nil {
			return nil, err
		}
		n, err := d.u64()
		if err != nil {
			return nil, err
		}
		vals := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := d.value(valueType(et))
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	}
	return nil, fmt.Errorf("unknown metadata value type %d", vt)
}

// Decode parses a GGUF byte image. Versions 2 and 3 are supported.
func Decode(raw []byte) (*File, error) {
	d := &decoder{buf: raw}

	magic, err := d.u32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("not a GGUF file (magic %#x)", magic)
	}
	version, err := d.u32()
	if err != nil {
		return nil, err
	}
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("unsupported GGUF version %d", version)
	}
	tensorCount, err := d.u64()
	if err != nil {
		return nil, err
	}
	kvCount, err := d.u64()
	if err != nil {
		return nil, err
	}

	f := &File{
		Version: version,
		KV:      make(map[string]any, kvCount),
		tensors: make(map[string]*TensorInfo, tensorCount),
	}

	for i := uint64(0); i < kvCount; i++ {
		key, err := d.str()
		if err != nil {
			return nil, fmt.Errorf("metadata key %d: %w", i, err)
		}
		vt, err := d.u32()
		if err != nil {
			return nil, err
		}
		val, err := d.value(valueType(vt))
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", key, err)
		}
		f.KV[key] = val
	}

	for i := uint64(0); i < tensorCount; i++ {
		name, err := d.str()
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		nDims, err := d.u32()
		if err != nil {
			return nil, err
		}
		// GGUF writes extents fastest-varying first; reverse to row-major.
		dims := make([]int, nDims)
		for j := int(nDims) - 1; j >= 0; j-- {
			v, err := d.u64()
			if err != nil {
				return nil, err
			}
			dims[j] = int(v)
		}
		typ, err := d.u32()
		if err != nil {
			return nil, err
		}
		offset, err := d.u64()
		if err != nil {
			return nil, err
		}
		info := &TensorInfo{Name: name, Dims: dims, Type: Type(typ), Offset: offset}
		if _, dup := f.tensors[name]; dup {
			return nil, fmt.Errorf("duplicate tensor %q", name)
		}
		f.tensors[name] = info
		f.order = append(f.order, name)
	}

	alignment := DefaultAlignment
	if v, ok := f.KV["general.alignment"].(uint64); ok && v > 0 {
		alignment = int(v)
	}
	dataStart := (d.off + alignment - 1) / alignment * alignment
	if dataStart > len(raw) {
		dataStart = len(raw)
	}
	f.data = raw[dataStart:]
	return f, nil
}

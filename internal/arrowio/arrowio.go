// Package arrowio serializes mask and metric sets as Arrow record batches:
// IPC streams on disk for the CLI, and Flight DoPut for shipping a round's
// masks to a downstream store.
package arrowio

import (
	"fmt"
	"io"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/Roxbili/snip/internal/sparsity"
	"github.com/Roxbili/snip/internal/tensor"
)

// Sub-tensor roles in a mask batch.
const (
	RoleWeight = "weight"
	RoleBias   = "bias"
)

// MaskSchema lays out one row per (layer, role) pair.
var MaskSchema = arrow.NewSchema([]arrow.Field{
	{Name: "layer", Type: arrow.BinaryTypes.String},
	{Name: "role", Type: arrow.BinaryTypes.String},
	{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
}, nil)

// MetricSchema lays out one row per layer.
var MetricSchema = arrow.NewSchema([]arrow.Field{
	{Name: "layer", Type: arrow.BinaryTypes.String},
	{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
}, nil)

// NewMaskRecord builds one record batch holding a full mask set, rows in
// sorted (layer, role) order. The caller releases the record.
func NewMaskRecord(mem memory.Allocator, masks map[string]sparsity.Mask) arrow.Record {
	b := array.NewRecordBuilder(mem, MaskSchema)
	defer b.Release()

	layerB := b.Field(0).(*array.StringBuilder)
	roleB := b.Field(1).(*array.StringBuilder)
	shapeB := b.Field(2).(*array.ListBuilder)
	shapeV := shapeB.ValueBuilder().(*array.Int64Builder)
	valB := b.Field(3).(*array.ListBuilder)
	valV := valB.ValueBuilder().(*array.Float32Builder)

	appendRow := func(layer, role string, t *tensor.Tensor) {
		layerB.Append(layer)
		roleB.Append(role)
		shapeB.Append(true)
		for _, d := range t.Dims() {
			shapeV.Append(int64(d))
		}
		valB.Append(true)
		valV.AppendValues(t.Data(), nil)
	}

	for _, name := range sortedKeys(masks) {
		m := masks[name]
		appendRow(name, RoleWeight, m.Weight)
		if m.Bias != nil {
			appendRow(name, RoleBias, m.Bias)
		}
	}
	return b.NewRecord()
}

// WriteMasks streams a mask set as Arrow IPC.
func WriteMasks(w io.Writer, masks map[string]sparsity.Mask) error {
	mem := memory.NewGoAllocator()
	rec := NewMaskRecord(mem, masks)
	defer rec.Release()

	sw := ipc.NewWriter(w, ipc.WithSchema(MaskSchema), ipc.WithAllocator(mem))
	if err := sw.Write(rec); err != nil {
		sw.Close()
		return fmt.Errorf("write mask batch: %w", err)
	}
	return sw.Close()
}

// ReadMasks parses a mask set written by WriteMasks.
func ReadMasks(r io.Reader) (map[string]sparsity.Mask, error) {
	mem := memory.NewGoAllocator()
	sr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("open mask stream: %w", err)
	}
	defer sr.Release()

	masks := make(map[string]sparsity.Mask)
	for sr.Next() {
		rec := sr.Record()
		layers := rec.Column(0).(*array.String)
		roles := rec.Column(1).(*array.String)
		for i := 0; i < int(rec.NumRows()); i++ {
			t, err := tensorAt(rec, 2, 3, i)
			if err != nil {
				return nil, err
			}
			m := masks[layers.Value(i)]
			switch roles.Value(i) {
			case RoleWeight:
				m.Weight = t
			case RoleBias:
				m.Bias = t
			default:
				return nil, fmt.Errorf("unknown mask role %q", roles.Value(i))
			}
			masks[layers.Value(i)] = m
		}
	}
	if err := sr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read mask stream: %w", err)
	}
	return masks, nil
}

// WriteMetrics streams an importance metric set as Arrow IPC.
func WriteMetrics(w io.Writer, metrics map[string]*tensor.Tensor) error {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, MetricSchema)
	defer b.Release()

	layerB := b.Field(0).(*array.StringBuilder)
	shapeB := b.Field(1).(*array.ListBuilder)
	shapeV := shapeB.ValueBuilder().(*array.Int64Builder)
	valB := b.Field(2).(*array.ListBuilder)
	valV := valB.ValueBuilder().(*array.Float32Builder)

	for _, name := range sortedKeys(metrics) {
		t := metrics[name]
		layerB.Append(name)
		shapeB.Append(true)
		for _, d := range t.Dims() {
			shapeV.Append(int64(d))
		}
		valB.Append(true)
		valV.AppendValues(t.Data(), nil)
	}
	rec := b.NewRecord()
	defer rec.Release()

	sw := ipc.NewWriter(w, ipc.WithSchema(MetricSchema), ipc.WithAllocator(mem))
	if err := sw.Write(rec); err != nil {
		sw.Close()
		return fmt.Errorf("write metric batch: %w", err)
	}
	return sw.Close()
}

// ReadMetrics parses a metric set written by WriteMetrics.
func ReadMetrics(r io.Reader) (map[string]*tensor.Tensor, error) {
	mem := memory.NewGoAllocator()
	sr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("open metric stream: %w", err)
	}
	defer sr.Release()

	metrics := make(map[string]*tensor.Tensor)
	for sr.Next() {
		rec := sr.Record()
		layers := rec.Column(0).(*array.String)
		for i := 0; i < int(rec.NumRows()); i++ {
			t, err := tensorAt(rec, 1, 2, i)
			if err != nil {
				return nil, err
			}
			metrics[layers.Value(i)] = t
		}
	}
	if err := sr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read metric stream: %w", err)
	}
	return metrics, nil
}

// tensorAt reconstructs the tensor stored at row i from a shape column and a
// values column.
func tensorAt(rec arrow.Record, shapeCol, valCol, i int) (*tensor.Tensor, error) {
	shapes := rec.Column(shapeCol).(*array.List)
	shapeV := shapes.ListValues().(*array.Int64)
	vals := rec.Column(valCol).(*array.List)
	valV := vals.ListValues().(*array.Float32)

	ss, se := shapes.ValueOffsets(i)
	dims := make([]int, 0, se-ss)
	for j := ss; j < se; j++ {
		dims = append(dims, int(shapeV.Value(int(j))))
	}
	vs, ve := vals.ValueOffsets(i)
	data := make([]float32, ve-vs)
	copy(data, valV.Float32Values()[vs:ve])
	return tensor.FromSlice(data, dims...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

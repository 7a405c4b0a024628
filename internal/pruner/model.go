package pruner

import (
	"fmt"

	"github.com/Roxbili/snip/internal/tensor"
)

// Layer is one named parameter bundle of the model snapshot.
type Layer struct {
	Name   string
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// Model is the in-memory snapshot the pruner works on: weights to score and
// to zero. Insertion order is preserved for reporting.
type Model struct {
	order  []string
	layers map[string]*Layer
}

func NewModel() *Model {
	return &Model{layers: make(map[string]*Layer)}
}

func (m *Model) Add(l *Layer) error {
	if l.Name == "" || l.Weight == nil {
		return fmt.Errorf("layer needs a name and a weight tensor")
	}
	if _, dup := m.layers[l.Name]; dup {
		return fmt.Errorf("duplicate layer %q", l.Name)
	}
	m.order = append(m.order, l.Name)
	m.layers[l.Name] = l
	return nil
}

func (m *Model) Layer(name string) *Layer {
	return m.layers[name]
}

// LayerNames returns the layer names in insertion order.
func (m *Model) LayerNames() []string {
	return m.order
}

// Weight implements collector.WeightSource.
func (m *Model) Weight(name string) *tensor.Tensor {
	l := m.layers[name]
	if l == nil {
		return nil
	}
	return l.Weight
}

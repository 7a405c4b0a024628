package pruner

import (
	"strings"

	"github.com/Roxbili/snip/internal/config"
	"github.com/Roxbili/snip/internal/gguf"
	"github.com/Roxbili/snip/internal/logger"
)

// LoadModel builds a model snapshot from a GGUF checkpoint. Layer names
// follow the ".weight"/".bias" tensor suffix convention; a tensor without a
// suffix stands alone as a bias-less layer.
func LoadModel(path string) (*Model, error) {
	f, err := gguf.Load(path)
	if err != nil {
		return nil, err
	}
	return ModelFromCheckpoint(f)
}

// ModelFromCheckpoint converts a parsed checkpoint into a model snapshot.
// Quantized tensors are skipped with a warning; pruning needs F32/F16 data.
func ModelFromCheckpoint(f *gguf.File) (*Model, error) {
	m := NewModel()
	for _, name := range f.TensorNames() {
		base, isWeight := strings.CutSuffix(name, ".weight")
		if !isWeight {
			if strings.HasSuffix(name, ".bias") {
				continue // picked up with its weight below
			}
			base = name
		}
		w, err := f.Float32(name)
		if err != nil {
			if f.Info(name) != nil {
				logger.Log.Warn("skipping tensor", "tensor", name, "error", err)
				continue
			}
			return nil, err
		}
		l := &Layer{Name: base, Weight: w}
		if isWeight {
			if bias := f.Info(base + ".bias"); bias != nil {
				b, err := f.Float32(base + ".bias")
				if err != nil {
					logger.Log.Warn("skipping bias", "tensor", base+".bias", "error", err)
				} else {
					l.Bias = b
				}
			}
		}
		if err := m.Add(l); err != nil {
			return nil, config.Errorf("checkpoint: %v", err)
		}
	}
	if len(m.LayerNames()) == 0 {
		return nil, config.Errorf("checkpoint holds no prunable tensors")
	}
	return m, nil
}

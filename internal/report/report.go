// Package report summarizes a compress round: achieved sparsity and the
// importance metric's distribution per layer.
package report

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Roxbili/snip/internal/logger"
	"github.com/Roxbili/snip/internal/sparsity"
	"github.com/Roxbili/snip/internal/tensor"
)

// LayerSummary is one layer's round outcome.
type LayerSummary struct {
	Name     string
	Total    int
	Kept     int
	Sparsity float64

	MetricMean   float64
	MetricStd    float64
	MetricMin    float64
	MetricMedian float64
	MetricMax    float64
}

// Summarize builds per-layer summaries from a round's metrics and masks,
// sorted by layer name.
func Summarize(metrics map[string]*tensor.Tensor, masks map[string]sparsity.Mask) []LayerSummary {
	names := make([]string, 0, len(masks))
	for name := range masks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]LayerSummary, 0, len(names))
	for _, name := range names {
		mask := masks[name]
		total := mask.Weight.NumElements()
		kept := int(mask.Weight.Sum())
		s := LayerSummary{
			Name:     name,
			Total:    total,
			Kept:     kept,
			Sparsity: 1 - float64(kept)/float64(total),
		}
		if metric, ok := metrics[name]; ok {
			vals := toFloat64(metric.Data())
			s.MetricMean = stat.Mean(vals, nil)
			s.MetricStd = stat.StdDev(vals, nil)
			s.MetricMin = floats.Min(vals)
			s.MetricMax = floats.Max(vals)
			sort.Float64s(vals)
			s.MetricMedian = stat.Quantile(0.5, stat.Empirical, vals, nil)
		}
		out = append(out, s)
	}
	return out
}

// Log writes the summaries plus the aggregate ratio through the structured
// logger.
func Log(summaries []LayerSummary) {
	log := logger.Log.Named("report")
	totalKept, total := 0, 0
	for _, s := range summaries {
		totalKept += s.Kept
		total += s.Total
		log.Info("layer summary",
			"layer", s.Name,
			"sparsity", s.Sparsity,
			"remain", s.Kept,
			"total", s.Total,
			"metric_mean", s.MetricMean,
			"metric_std", s.MetricStd,
			"metric_median", s.MetricMedian)
	}
	if total > 0 {
		log.Info("round summary",
			"layers", len(summaries),
			"sparsity", 1-float64(totalKept)/float64(total),
			"remain", totalKept,
			"total", total)
	}
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

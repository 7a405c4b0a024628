package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CompressRoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snip_compress_rounds_total",
		Help: "The total number of completed compress rounds",
	})

	AllocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snip_allocation_duration_seconds",
		Help:    "Duration of sparsity mask allocation per round",
		Buckets: prometheus.DefBuckets,
	})

	CollectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snip_collect_duration_seconds",
		Help:    "Duration of signal collection and metric calculation per round",
		Buckets: prometheus.DefBuckets,
	})

	LayerSparsity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snip_layer_sparsity",
		Help: "Achieved sparsity fraction per layer after the last round",
	}, []string{"layer"})

	PrunedElementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snip_pruned_elements_total",
		Help: "Newly pruned weight elements per layer",
	}, []string{"layer"})

	LayersMasked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snip_layers_masked",
		Help: "Number of layers masked in the last round",
	})

	ConfigErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snip_config_errors_total",
		Help: "Rounds aborted by configuration or contract violations",
	})

	SparsityTarget = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snip_sparsity_target",
		Help: "Configured total sparsity per layer",
	}, []string{"layer"})

	MaskPublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snip_mask_publish_duration_seconds",
		Help:    "Duration of shipping a round's masks over Arrow Flight",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordRound records one completed compress round.
func RecordRound(allocation time.Duration, layers int) {
	CompressRoundsTotal.Inc()
	AllocationDuration.Observe(allocation.Seconds())
	LayersMasked.Set(float64(layers))
}

// RecordCollect records the collection + metric calculation stage.
func RecordCollect(duration time.Duration) {
	CollectDuration.Observe(duration.Seconds())
}

// RecordLayerMask records the outcome for one layer: total element count,
// surviving elements, and how many were newly removed this round.
func RecordLayerMask(layer string, total, kept, newlyPruned int) {
	if total > 0 {
		LayerSparsity.WithLabelValues(layer).Set(1 - float64(kept)/float64(total))
	}
	if newlyPruned > 0 {
		PrunedElementsTotal.WithLabelValues(layer).Add(float64(newlyPruned))
	}
}

// RecordTarget records the configured budget for one layer.
func RecordTarget(layer string, sparsity float64) {
	SparsityTarget.WithLabelValues(layer).Set(sparsity)
}

// RecordConfigError counts an aborted round.
func RecordConfigError() {
	ConfigErrorsTotal.Inc()
}

// RecordPublish records a Flight publish.
func RecordPublish(duration time.Duration) {
	MaskPublishDuration.Observe(duration.Seconds())
}

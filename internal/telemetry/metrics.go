// Package telemetry provides pipeline metrics for observability.
//
// A single invocation registers PipelineMetrics on a private registry and,
// when asked to, dumps it in the Prometheus text format for node_exporter's
// textfile collector.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for one pipeline invocation.
// All Record methods are safe on a nil receiver.
type PipelineMetrics struct {
	registry *prometheus.Registry

	// Tile cache metrics
	tileResolutionsTotal *prometheus.CounterVec
	tileTierErrorsTotal  *prometheus.CounterVec
	tileFetchDuration    prometheus.Histogram

	// Zonal statistics metrics
	zonalDuration    prometheus.Histogram
	zonalPixelsTotal *prometheus.CounterVec

	// Bundle and staging metrics
	bundlesTotal     *prometheus.CounterVec
	runsEvictedTotal prometheus.Counter
	stagedRuns       prometheus.Gauge
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.tileResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aoievidence_tile_resolutions_total",
			Help: "Tile resolutions partitioned by the tier that served them",
		},
		[]string{"tier"}, // memory, disk, object, upstream
	)

	m.tileTierErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aoievidence_tile_tier_errors_total",
			Help: "Tile cache tier read or write failures",
		},
		[]string{"tier", "operation"},
	)

	m.tileFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "aoievidence_tile_fetch_duration_seconds",
			Help: "Time taken to fetch a tile from upstream",
			// 50ms to ~100s
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	m.zonalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aoievidence_zonal_duration_seconds",
			Help:    "Time taken to compute zonal statistics for an AOI",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	m.zonalPixelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aoievidence_zonal_pixels_total",
			Help: "Pixels classified inside AOIs",
		},
		[]string{"class"}, // aoi, forest, post_cutoff_loss
	)

	m.bundlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aoievidence_bundles_total",
			Help: "Bundle builds partitioned by outcome",
		},
		[]string{"outcome"}, // created, reused, collision
	)

	m.runsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aoievidence_staging_runs_evicted_total",
			Help: "Staged runs removed by retention",
		},
	)

	m.stagedRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aoievidence_staging_runs",
			Help: "Run directories present after the last publish",
		},
	)
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.tileResolutionsTotal.Describe(ch)
	m.tileTierErrorsTotal.Describe(ch)
	m.tileFetchDuration.Describe(ch)
	m.zonalDuration.Describe(ch)
	m.zonalPixelsTotal.Describe(ch)
	m.bundlesTotal.Describe(ch)
	m.runsEvictedTotal.Describe(ch)
	m.stagedRuns.Describe(ch)
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.tileResolutionsTotal.Collect(ch)
	m.tileTierErrorsTotal.Collect(ch)
	m.tileFetchDuration.Collect(ch)
	m.zonalDuration.Collect(ch)
	m.zonalPixelsTotal.Collect(ch)
	m.bundlesTotal.Collect(ch)
	m.runsEvictedTotal.Collect(ch)
	m.stagedRuns.Collect(ch)
}

// RecordTileResolution counts a tile served by tier.
func (m *PipelineMetrics) RecordTileResolution(tier string) {
	if m == nil {
		return
	}
	m.tileResolutionsTotal.WithLabelValues(tier).Inc()
}

// RecordTierError counts a failed tier read ("get") or write ("put").
func (m *PipelineMetrics) RecordTierError(tier, operation string) {
	if m == nil {
		return
	}
	m.tileTierErrorsTotal.WithLabelValues(tier, operation).Inc()
}

// RecordTileFetchDuration observes an upstream fetch in seconds.
func (m *PipelineMetrics) RecordTileFetchDuration(seconds float64) {
	if m == nil {
		return
	}
	m.tileFetchDuration.Observe(seconds)
}

// RecordZonal observes one zonal computation.
func (m *PipelineMetrics) RecordZonal(seconds float64, aoiPixels, forestPixels, lossPixels int64) {
	if m == nil {
		return
	}
	m.zonalDuration.Observe(seconds)
	m.zonalPixelsTotal.WithLabelValues("aoi").Add(float64(aoiPixels))
	m.zonalPixelsTotal.WithLabelValues("forest").Add(float64(forestPixels))
	m.zonalPixelsTotal.WithLabelValues("post_cutoff_loss").Add(float64(lossPixels))
}

// RecordBundle counts a bundle build outcome.
func (m *PipelineMetrics) RecordBundle(outcome string) {
	if m == nil {
		return
	}
	m.bundlesTotal.WithLabelValues(outcome).Inc()
}

// RecordPublish records the retention outcome of a publish.
func (m *PipelineMetrics) RecordPublish(evicted, remaining int) {
	if m == nil {
		return
	}
	m.runsEvictedTotal.Add(float64(evicted))
	m.stagedRuns.Set(float64(remaining))
}

// WriteTextfile writes every metric in the registry to path atomically.
func (m *PipelineMetrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

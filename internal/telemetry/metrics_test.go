package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTileResolution(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	m.RecordTileResolution("disk")
	m.RecordTileResolution("disk")
	m.RecordTileResolution("upstream")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.tileResolutionsTotal.WithLabelValues("disk")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tileResolutionsTotal.WithLabelValues("upstream")))
}

func TestRecordZonalAndBundle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	m.RecordZonal(0.5, 1024, 559, 60)
	m.RecordBundle("created")
	m.RecordPublish(3, 2)

	assert.Equal(t, float64(1024), testutil.ToFloat64(m.zonalPixelsTotal.WithLabelValues("aoi")))
	assert.Equal(t, float64(60), testutil.ToFloat64(m.zonalPixelsTotal.WithLabelValues("post_cutoff_loss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.bundlesTotal.WithLabelValues("created")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.runsEvictedTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.stagedRuns))
}

func TestDoubleRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPipelineMetrics(registry)
	require.NoError(t, err)
	_, err = NewPipelineMetrics(registry)
	assert.Error(t, err)
}

func TestNilReceiverIsNoop(t *testing.T) {
	var m *PipelineMetrics
	m.RecordTileResolution("disk")
	m.RecordTierError("disk", "put")
	m.RecordTileFetchDuration(1)
	m.RecordZonal(1, 1, 1, 1)
	m.RecordBundle("created")
	m.RecordPublish(1, 1)
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteTextfile(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry)
	require.NoError(t, err)
	m.RecordBundle("reused")

	path := filepath.Join(t.TempDir(), "aoievidence.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `aoievidence_bundles_total{outcome="reused"} 1`))
}

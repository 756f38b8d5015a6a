package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "evidence", cfg.EvidenceRoot)
	assert.Equal(t, SourceSynthetic, cfg.TileSource)
	assert.Equal(t, 30, cfg.CanopyThreshold)
	assert.Equal(t, 2020, cfg.CutoffYear)
	assert.Equal(t, "EPSG:6933", cfg.ProjectedCRS)
	assert.True(t, cfg.Reproject)
	assert.Equal(t, 10, cfg.GridDeg)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 10, cfg.KeepN)
	assert.Equal(t, []string{"example"}, cfg.Permanent)
	assert.Equal(t, "report.json", cfg.ReportJSONName)
	assert.Equal(t, time.Minute, cfg.FetchTimeout)
	assert.Zero(t, cfg.MemoryTTL)
	assert.Nil(t, cfg.SyntheticBounds)
	assert.False(t, cfg.ObjectStore.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
zonal:
  canopy-threshold: 25
  cutoff-year: 2018
tiles:
  memory-ttl: 5m
synthetic:
  bounds: "24,59,24.1,59.1"
staging:
  keep-n: 2
  permanent: [example, baseline]
`), 0o644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v, "build")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.CanopyThreshold)
	assert.Equal(t, 2018, cfg.CutoffYear)
	assert.Equal(t, 5*time.Minute, cfg.MemoryTTL)
	require.NotNil(t, cfg.SyntheticBounds)
	assert.Equal(t, 24.1, cfg.SyntheticBounds.Max[0])
	assert.Equal(t, 2, cfg.KeepN)
	assert.Equal(t, []string{"example", "baseline"}, cfg.Permanent)
}

func TestCommandFlagOverridesConfig(t *testing.T) {
	v := newViper()
	v.Set("zonal.canopy-threshold", 25)
	v.Set(FlagKey("build", "canopy-threshold"), 50)

	cfg, err := Load(v, "build")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.CanopyThreshold)

	// Another command does not see build's flags.
	cfg, err = Load(v, "tiles")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.CanopyThreshold)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("AOIEVIDENCE_OBJECTSTORE_SECRET_KEY", "s3cr3t")
	t.Setenv("AOIEVIDENCE_OBJECTSTORE_ENDPOINT", "minio.local:9000")
	t.Setenv("AOIEVIDENCE_OBJECTSTORE_BUCKET", "tiles")

	cfg, err := Load(newViper(), "")
	require.NoError(t, err)
	assert.True(t, cfg.ObjectStore.Enabled())
	assert.Equal(t, "s3cr3t", cfg.ObjectStore.SecretKey)
	assert.Equal(t, "tiles", cfg.ObjectStore.Bucket)
	assert.NotContains(t, cfg.String(), "s3cr3t")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"unknown source", "tiles.source", "ftp"},
		{"http without template", "tiles.source", "http"},
		{"threshold above 100", "zonal.canopy-threshold", 101},
		{"negative threshold", "zonal.canopy-threshold", -1},
		{"grid not dividing 180", "tiles.grid-deg", 7},
		{"zero workers", "zonal.workers", 0},
		{"negative keep", "staging.keep-n", -1},
		{"unknown crs", "zonal.projected-crs", "EPSG:9999999"},
		{"bad duration", "tiles.fetch-timeout", "soon"},
		{"bad bounds", "synthetic.bounds", "1,2,3"},
		{"empty bounds", "synthetic.bounds", "1,2,1,3"},
		{"object store without bucket", "objectstore.endpoint", "minio.local:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.val)
			_, err := Load(v, "")
			require.Error(t, err)
			assert.True(t, apperr.IsUser(err), "want a user error, got %v", err)
		})
	}
}

func TestHTTPSourceNeedsPlaceholders(t *testing.T) {
	v := newViper()
	v.Set("tiles.source", "http")
	v.Set("upstream.template", "https://example.org/tiles.tif")
	_, err := Load(v, "")
	require.Error(t, err)

	v.Set("upstream.template", "https://example.org/{layer}_{tile_id}.tif")
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, SourceHTTP, cfg.TileSource)
}

func TestDurationAcceptsSeconds(t *testing.T) {
	d, err := duration("k", "30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

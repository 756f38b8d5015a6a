package zonal

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/idlab-discover/aoievidence-cli/internal/aoi"
	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/fetcher"
	"github.com/idlab-discover/aoievidence-cli/internal/projection"
	"github.com/idlab-discover/aoievidence-cli/internal/raster"
	"github.com/idlab-discover/aoievidence-cli/internal/telemetry"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const squareWKT = "POLYGON((24 59, 24.02 59, 24.02 59.02, 24 59.02, 24 59))"

var squareBound = orb.Bound{Min: orb.Point{24, 59}, Max: orb.Point{24.02, 59.02}}

func mustAOI(t *testing.T, wkt string) *aoi.AOI {
	t.Helper()
	a, err := aoi.Normalize("parcel", []byte(wkt))
	require.NoError(t, err)
	return a
}

// syntheticCache serves 32x32 synthetic tiles stretched over the square AOI.
func syntheticCache() *tilecache.Cache {
	b := squareBound
	return tilecache.New(&fetcher.SyntheticSource{Size: 32, Bounds: &b}, tilecache.Options{})
}

// mapResolver serves rasters from memory, optionally delaying each key.
type mapResolver struct {
	rasters map[tiles.Key]*raster.Raster
	delay   func(tiles.Key) time.Duration
	err     error

	mu    sync.Mutex
	order []tiles.Key
}

func (m *mapResolver) Resolve(ctx context.Context, key tiles.Key) (*tilecache.Tile, error) {
	if m.delay != nil {
		select {
		case <-time.After(m.delay(key)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	m.order = append(m.order, key)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.rasters[key]
	if !ok {
		return nil, apperr.Wrap(apperr.TileUnavailable, "test", key.String(),
			&fetcher.StatusError{StatusCode: http.StatusNotFound, URL: key.String()})
	}
	return &tilecache.Tile{Key: key, Raster: r, SHA256: fmt.Sprintf("sha-%s", key), Tier: tilecache.TierMemory}, nil
}

func syntheticRaster(t *testing.T, layer string, size int, b orb.Bound) *raster.Raster {
	t.Helper()
	r, err := (&fetcher.SyntheticSource{Size: size, Bounds: &b}).Raster(tiles.Key{Layer: layer, TileID: "60N_020E"})
	require.NoError(t, err)
	return r
}

func TestSyntheticSquareScenario(t *testing.T) {
	e := New(syntheticCache(), Options{})
	p := DefaultParams()
	p.CanopyThreshold = 10

	res, err := e.Compute(context.Background(), mustAOI(t, squareWKT), p)
	require.NoError(t, err)

	assert.EqualValues(t, 1024, res.PixelCount)
	assert.EqualValues(t, 969, res.ForestPixelCount)
	assert.EqualValues(t, 60, res.LossPixelCount)
	assert.InDelta(t, 969.0/1024, res.ForestCoverFraction, 1e-12)
	assert.InDelta(t, 60.0/1024, res.PostCutoffLossFraction, 1e-12)
	assert.Equal(t, 10, res.CanopyThreshold)
	assert.Equal(t, projection.EASEGrid2Global, res.ProjectedCRS)
	assert.Equal(t, AreaReprojected, res.AreaMethod)
	assert.True(t, res.Reprojected)

	// about 1.15 km x 2.23 km at 59°N
	assert.InDelta(t, 256, res.AreaHa, 5)
	assert.InEpsilon(t, res.GeometryAreaHa, res.AreaHa, 0.01)
	assert.InDelta(t, res.AreaHa*969/1024, res.ForestCoverHa, 0.5)

	require.Len(t, res.Tiles, 2)
	// sorted by (tile_id, layer)
	assert.Equal(t, tiles.LayerLossYear, res.Tiles[0].Layer)
	assert.Equal(t, tiles.LayerTreecover, res.Tiles[1].Layer)
	assert.Equal(t, "60N_020E", res.Tiles[0].TileID)
	assert.Equal(t, "60N_020E", res.Tiles[1].TileID)
}

func TestCanopyThresholdTieIsForested(t *testing.T) {
	e := New(syntheticCache(), Options{})
	a := mustAOI(t, squareWKT)

	// r+c reaches 62 only at the bottom-right pixel
	p := DefaultParams()
	p.CanopyThreshold = 62
	res, err := e.Compute(context.Background(), a, p)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.ForestPixelCount)

	p.CanopyThreshold = 63
	res, err = e.Compute(context.Background(), a, p)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.ForestPixelCount)
	assert.Zero(t, res.ForestCoverFraction)

	p.CanopyThreshold = 30
	res, err = e.Compute(context.Background(), a, p)
	require.NoError(t, err)
	assert.EqualValues(t, 559, res.ForestPixelCount)
}

func TestFractionBounds(t *testing.T) {
	e := New(syntheticCache(), Options{})
	a := mustAOI(t, "POLYGON((24.003 59.001, 24.017 59.004, 24.012 59.019, 24.001 59.011, 24.003 59.001))")
	for _, threshold := range []int{0, 1, 25, 50, 99, 100} {
		for _, cutoff := range []int{2000, 2020, 2021, 2024} {
			p := DefaultParams()
			p.CanopyThreshold = threshold
			p.CutoffYear = cutoff
			res, err := e.Compute(context.Background(), a, p)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.ForestCoverFraction, 0.0)
			assert.LessOrEqual(t, res.ForestCoverFraction, 1.0)
			assert.GreaterOrEqual(t, res.PostCutoffLossFraction, 0.0)
			assert.LessOrEqual(t, res.PostCutoffLossFraction, 1.0)
			if cutoff >= 2021 {
				assert.Zero(t, res.LossPixelCount, "loss year 21 is not after %d", cutoff)
			}
		}
	}
}

func TestTileOrderIndependence(t *testing.T) {
	// Two cells side by side on the 10 degree grid.
	west := orb.Bound{Min: orb.Point{10, 50}, Max: orb.Point{20, 60}}
	east := orb.Bound{Min: orb.Point{20, 50}, Max: orb.Point{30, 60}}
	rasters := map[tiles.Key]*raster.Raster{
		{Layer: tiles.LayerTreecover, TileID: "60N_010E"}: syntheticRaster(t, tiles.LayerTreecover, 64, west),
		{Layer: tiles.LayerLossYear, TileID: "60N_010E"}:   syntheticRaster(t, tiles.LayerLossYear, 64, west),
		{Layer: tiles.LayerTreecover, TileID: "60N_020E"}: syntheticRaster(t, tiles.LayerTreecover, 64, east),
		{Layer: tiles.LayerLossYear, TileID: "60N_020E"}:   syntheticRaster(t, tiles.LayerLossYear, 64, east),
	}
	a := mustAOI(t, "POLYGON((17 52, 24 52, 24 57, 17 57, 17 52))")

	forward := &mapResolver{rasters: rasters, delay: func(k tiles.Key) time.Duration {
		if k.TileID == "60N_010E" {
			return 0
		}
		return 20 * time.Millisecond
	}}
	reverse := &mapResolver{rasters: rasters, delay: func(k tiles.Key) time.Duration {
		if k.TileID == "60N_010E" {
			return 20 * time.Millisecond
		}
		return 0
	}}

	r1, err := New(forward, Options{Workers: 4}).Compute(context.Background(), a, DefaultParams())
	require.NoError(t, err)
	r2, err := New(reverse, Options{Workers: 4}).Compute(context.Background(), a, DefaultParams())
	require.NoError(t, err)
	r3, err := New(forward, Options{Workers: 1}).Compute(context.Background(), a, DefaultParams())
	require.NoError(t, err)

	assert.NotEqual(t, forward.order[0].TileID, reverse.order[0].TileID, "completion order differs")
	assert.Equal(t, r1, r2)
	assert.Equal(t, r1, r3)
	assert.Len(t, r1.Tiles, 4)
	assert.Positive(t, r1.PixelCount)
}

func TestCellBoundaryPixelsCountOnce(t *testing.T) {
	// Synthetic tiles stretched over an AOI that straddles lon 20 give both
	// cells the same extent; each must keep only its own half.
	b := orb.Bound{Min: orb.Point{19.99, 59}, Max: orb.Point{20.01, 59.02}}
	cache := tilecache.New(&fetcher.SyntheticSource{Size: 32, Bounds: &b}, tilecache.Options{})
	a := mustAOI(t, "POLYGON((19.99 59, 20.01 59, 20.01 59.02, 19.99 59.02, 19.99 59))")

	res, err := New(cache, Options{}).Compute(context.Background(), a, DefaultParams())
	require.NoError(t, err)

	assert.Len(t, res.Tiles, 4)
	assert.EqualValues(t, 32*32, res.PixelCount)
	assert.InEpsilon(t, res.GeometryAreaHa, res.AreaHa, 0.01)
}

func TestAreaScalesWithSquareOfFactor(t *testing.T) {
	b := orb.Bound{Min: orb.Point{24, 59}, Max: orb.Point{25, 60}}
	cache := tilecache.New(&fetcher.SyntheticSource{Size: 512, Bounds: &b}, tilecache.Options{})
	e := New(cache, Options{})
	base := mustAOI(t, "POLYGON((24.4 59.4, 24.6 59.42, 24.58 59.6, 24.41 59.57, 24.4 59.4))")

	ref, err := e.Compute(context.Background(), base, DefaultParams())
	require.NoError(t, err)
	for _, k := range []float64{0.5, 1.5, 2} {
		res, err := e.Compute(context.Background(), base.Scale(k), DefaultParams())
		require.NoError(t, err)
		assert.InEpsilon(t, k*k, res.AreaHa/ref.AreaHa, 0.05, "k=%g", k)
	}
}

func TestAreaMethods(t *testing.T) {
	a := mustAOI(t, squareWKT)

	p := DefaultParams()
	p.Reproject = false
	geodesic, err := New(syntheticCache(), Options{}).Compute(context.Background(), a, p)
	require.NoError(t, err)
	assert.Equal(t, AreaGeodesic, geodesic.AreaMethod)
	assert.Empty(t, geodesic.ProjectedCRS)

	p = DefaultParams()
	p.ProjectedCRS = projection.ETRS89LAEAEurope
	laea, err := New(syntheticCache(), Options{}).Compute(context.Background(), a, p)
	require.NoError(t, err)
	assert.Equal(t, projection.ETRS89LAEAEurope, laea.ProjectedCRS)

	cea, err := New(syntheticCache(), Options{}).Compute(context.Background(), a, DefaultParams())
	require.NoError(t, err)

	assert.InEpsilon(t, cea.AreaHa, laea.AreaHa, 1e-3)
	assert.InEpsilon(t, cea.AreaHa, geodesic.AreaHa, 0.01)
	assert.Equal(t, cea.PixelCount, geodesic.PixelCount)
}

func TestEqualAreaRasterUsesPixelSize(t *testing.T) {
	proj, err := projection.Lookup(projection.EASEGrid2Global)
	require.NoError(t, err)
	x0, y1 := proj.Forward(24, 59.02)
	x1, y0 := proj.Forward(24.02, 59)

	tr := raster.Transform{OriginX: x0, OriginY: y1, PixelWidth: (x1 - x0) / 16, PixelHeight: (y1 - y0) / 16}
	cover := raster.New(16, 16, tr, 6933)
	loss := raster.New(16, 16, tr, 6933)
	for i := range cover.Pix {
		cover.Pix[i] = 80
	}
	loss.Set(0, 0, 22)

	r := &mapResolver{rasters: map[tiles.Key]*raster.Raster{
		{Layer: tiles.LayerTreecover, TileID: "60N_020E"}: cover,
		{Layer: tiles.LayerLossYear, TileID: "60N_020E"}:   loss,
	}}
	p := DefaultParams()
	p.Reproject = false
	res, err := New(r, Options{}).Compute(context.Background(), mustAOI(t, squareWKT), p)
	require.NoError(t, err)

	assert.Equal(t, AreaRasterCRS, res.AreaMethod)
	assert.Equal(t, projection.EASEGrid2Global, res.ProjectedCRS)
	assert.EqualValues(t, 256, res.PixelCount)
	assert.InDelta(t, 256*tr.PixelArea()/10000, res.AreaHa, 1e-6)
	assert.Equal(t, 1.0, res.ForestCoverFraction)
	assert.EqualValues(t, 1, res.LossPixelCount)
	assert.InDelta(t, res.PostCutoffLossHa, res.ForestLossPostCutoffHa, 1e-12)
}

func TestNoDataCoverIsExcluded(t *testing.T) {
	cover := syntheticRaster(t, tiles.LayerTreecover, 32, squareBound)
	loss := syntheticRaster(t, tiles.LayerLossYear, 32, squareBound)
	for c := 0; c < 32; c++ {
		cover.Set(0, c, fetcher.SyntheticNoData)
	}
	loss.Set(1, 16, fetcher.SyntheticNoData)

	r := &mapResolver{rasters: map[tiles.Key]*raster.Raster{
		{Layer: tiles.LayerTreecover, TileID: "60N_020E"}: cover,
		{Layer: tiles.LayerLossYear, TileID: "60N_020E"}:   loss,
	}}
	res, err := New(r, Options{}).Compute(context.Background(), mustAOI(t, squareWKT), DefaultParams())
	require.NoError(t, err)
	assert.EqualValues(t, 1024-32, res.PixelCount)
	// row 0 held the loss pixels at c=0 and c=17; nodata loss counts as no loss
	assert.EqualValues(t, 57, res.LossPixelCount)
}

func TestMissingCoverage(t *testing.T) {
	a := mustAOI(t, squareWKT)

	t.Run("no tile upstream", func(t *testing.T) {
		_, err := New(&mapResolver{}, Options{}).Compute(context.Background(), a, DefaultParams())
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrMissingCoverage)
	})

	t.Run("tiles do not reach the AOI", func(t *testing.T) {
		away := orb.Bound{Min: orb.Point{25, 55}, Max: orb.Point{26, 56}}
		r := &mapResolver{rasters: map[tiles.Key]*raster.Raster{
			{Layer: tiles.LayerTreecover, TileID: "60N_020E"}: syntheticRaster(t, tiles.LayerTreecover, 8, away),
			{Layer: tiles.LayerLossYear, TileID: "60N_020E"}:   syntheticRaster(t, tiles.LayerLossYear, 8, away),
		}}
		_, err := New(r, Options{}).Compute(context.Background(), a, DefaultParams())
		assert.ErrorIs(t, err, apperr.ErrMissingCoverage)
	})

	t.Run("all cover is nodata", func(t *testing.T) {
		cover := syntheticRaster(t, tiles.LayerTreecover, 8, squareBound)
		for i := range cover.Pix {
			cover.Pix[i] = fetcher.SyntheticNoData
		}
		r := &mapResolver{rasters: map[tiles.Key]*raster.Raster{
			{Layer: tiles.LayerTreecover, TileID: "60N_020E"}: cover,
			{Layer: tiles.LayerLossYear, TileID: "60N_020E"}:   syntheticRaster(t, tiles.LayerLossYear, 8, squareBound),
		}}
		_, err := New(r, Options{}).Compute(context.Background(), a, DefaultParams())
		assert.ErrorIs(t, err, apperr.ErrMissingCoverage)
	})
}

func TestRasterMismatch(t *testing.T) {
	a := mustAOI(t, squareWKT)
	cover := syntheticRaster(t, tiles.LayerTreecover, 32, squareBound)

	t.Run("missing layer", func(t *testing.T) {
		r := &mapResolver{rasters: map[tiles.Key]*raster.Raster{
			{Layer: tiles.LayerTreecover, TileID: "60N_020E"}: cover,
		}}
		_, err := New(r, Options{}).Compute(context.Background(), a, DefaultParams())
		assert.ErrorIs(t, err, apperr.ErrRasterMismatch)

		// without the loss layer requested the cell is complete
		p := DefaultParams()
		p.Layers = []string{tiles.LayerTreecover}
		res, err := New(r, Options{}).Compute(context.Background(), a, p)
		require.NoError(t, err)
		assert.Zero(t, res.LossPixelCount)
	})

	coarse := syntheticRaster(t, tiles.LayerLossYear, 16, squareBound)
	r := &mapResolver{rasters: map[tiles.Key]*raster.Raster{
		{Layer: tiles.LayerTreecover, TileID: "60N_020E"}: cover,
		{Layer: tiles.LayerLossYear, TileID: "60N_020E"}:   coarse,
	}}

	t.Run("grid mismatch without reprojection", func(t *testing.T) {
		p := DefaultParams()
		p.Reproject = false
		_, err := New(r, Options{}).Compute(context.Background(), a, p)
		assert.ErrorIs(t, err, apperr.ErrRasterMismatch)
	})

	t.Run("grid mismatch with reprojection samples nearest", func(t *testing.T) {
		res, err := New(r, Options{}).Compute(context.Background(), a, DefaultParams())
		require.NoError(t, err)
		assert.EqualValues(t, 1024, res.PixelCount)
		// 15 coarse loss pixels in a 16x16 grid, each covering 4 fine pixels
		assert.EqualValues(t, 60, res.LossPixelCount)
	})

	t.Run("unknown CRS", func(t *testing.T) {
		odd := syntheticRaster(t, tiles.LayerTreecover, 32, squareBound)
		odd.EPSG = 32633
		oddLoss := syntheticRaster(t, tiles.LayerLossYear, 32, squareBound)
		oddLoss.EPSG = 32633
		r := &mapResolver{rasters: map[tiles.Key]*raster.Raster{
			{Layer: tiles.LayerTreecover, TileID: "60N_020E"}: odd,
			{Layer: tiles.LayerLossYear, TileID: "60N_020E"}:   oddLoss,
		}}
		_, err := New(r, Options{}).Compute(context.Background(), a, DefaultParams())
		assert.ErrorIs(t, err, apperr.ErrRasterMismatch)
	})
}

func TestInvalidParams(t *testing.T) {
	a := mustAOI(t, squareWKT)
	e := New(syntheticCache(), Options{})

	cases := map[string]func(*Params){
		"threshold above 100":     func(p *Params) { p.CanopyThreshold = 101 },
		"negative threshold":      func(p *Params) { p.CanopyThreshold = -1 },
		"cutoff before 2000":      func(p *Params) { p.CutoffYear = 1999 },
		"geographic target crs":   func(p *Params) { p.ProjectedCRS = projection.WGS84 },
		"unsupported target crs":  func(p *Params) { p.ProjectedCRS = "EPSG:3857" },
		"cover layer not present": func(p *Params) { p.Layers = []string{tiles.LayerLossYear} },
		"unknown layer":           func(p *Params) { p.Layers = []string{tiles.LayerTreecover, "gain"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			_, err := e.Compute(context.Background(), a, p)
			assert.ErrorIs(t, err, apperr.ErrInvalidConfig)
		})
	}
}

func TestUpstreamFailurePropagates(t *testing.T) {
	r := &mapResolver{err: apperr.Wrap(apperr.TileUnavailable, "tilecache", "treecover2000/60N_020E",
		&fetcher.StatusError{StatusCode: http.StatusBadGateway, URL: "x"})}
	_, err := New(r, Options{}).Compute(context.Background(), mustAOI(t, squareWKT), DefaultParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTileUnavailable)
	assert.NotErrorIs(t, err, apperr.ErrMissingCoverage)
}

func TestComputeHonoursCancellation(t *testing.T) {
	r := &mapResolver{
		rasters: map[tiles.Key]*raster.Raster{},
		delay:   func(tiles.Key) time.Duration { return time.Minute },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(r, Options{Workers: 2}).Compute(ctx, mustAOI(t, squareWKT), DefaultParams())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestComputeRecordsMetrics(t *testing.T) {
	m, err := telemetry.NewPipelineMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	p := DefaultParams()
	p.CanopyThreshold = 10
	_, err = New(syntheticCache(), Options{Metrics: m}).Compute(context.Background(), mustAOI(t, squareWKT), p)
	require.NoError(t, err)

	assert.Equal(t, 3, testutil.CollectAndCount(m, "aoievidence_zonal_pixels_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m, "aoievidence_zonal_duration_seconds"))
}

func TestResultIsDeterministic(t *testing.T) {
	a := mustAOI(t, squareWKT)
	var prev *Result
	for i := 0; i < 3; i++ {
		res, err := New(syntheticCache(), Options{Workers: i + 1}).Compute(context.Background(), a, DefaultParams())
		require.NoError(t, err)
		if prev != nil {
			assert.Equal(t, prev, res)
			assert.False(t, math.IsNaN(res.AreaHa))
		}
		prev = res
	}
}

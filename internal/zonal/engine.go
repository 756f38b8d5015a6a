// Package zonal computes forest cover, area and post-cutoff loss statistics
// for an AOI over the Hansen treecover2000 and lossyear layers.
package zonal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	"github.com/idlab-discover/aoievidence-cli/internal/aoi"
	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/fetcher"
	"github.com/idlab-discover/aoievidence-cli/internal/projection"
	"github.com/idlab-discover/aoievidence-cli/internal/raster"
	"github.com/idlab-discover/aoievidence-cli/internal/telemetry"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

const component = "zonal"

// Area methods recorded in a Result.
const (
	// AreaRasterCRS: the raster grid is already equal-area.
	AreaRasterCRS = "raster_equal_area"
	// AreaReprojected: geographic pixels projected into the equal-area CRS.
	AreaReprojected = "reprojected_equal_area"
	// AreaGeodesic: geographic pixels measured on the sphere.
	AreaGeodesic = "geodesic"
)

const m2PerHa = 10000

// Resolver hands out tiles. *tilecache.Cache implements it.
type Resolver interface {
	Resolve(ctx context.Context, key tiles.Key) (*tilecache.Tile, error)
}

// Options configures an Engine.
type Options struct {
	// Workers bounds concurrent tile resolutions and tile scans.
	Workers int
	// GridDeg is the tile grid size in degrees.
	GridDeg int
	Metrics *telemetry.PipelineMetrics
}

// Engine computes zonal statistics. It is safe for concurrent use.
type Engine struct {
	tiles Resolver
	opts  Options
}

// New creates an engine reading tiles from r.
func New(r Resolver, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.GridDeg <= 0 {
		opts.GridDeg = tiles.DefaultGridDeg
	}
	return &Engine{tiles: r, opts: opts}
}

// Result holds the statistics for one AOI. Fractions are pixel-count ratios
// over the AOI pixels; areas are in hectares.
type Result struct {
	AOIID                  string          `json:"aoi_id"`
	AreaHa                 float64         `json:"area_ha"`
	ForestCoverFraction    float64         `json:"forest_cover_fraction"`
	PostCutoffLossFraction float64         `json:"post_cutoff_loss_fraction"`
	CanopyThreshold        int             `json:"canopy_threshold"`
	ProjectedCRS           string          `json:"projected_crs"`
	CutoffYear             int             `json:"cutoff_year"`
	AreaMethod             string          `json:"area_method"`
	Reprojected            bool            `json:"reprojected"`
	PixelCount             int64           `json:"pixel_count"`
	ForestPixelCount       int64           `json:"forest_pixel_count"`
	LossPixelCount         int64           `json:"post_cutoff_loss_pixel_count"`
	ForestCoverHa          float64         `json:"forest_cover_ha"`
	PostCutoffLossHa       float64         `json:"post_cutoff_loss_ha"`
	ForestLossPostCutoffHa float64         `json:"forest_loss_post_cutoff_ha"`
	GeometryAreaHa         float64         `json:"geometry_area_ha"`
	Tiles                  []tilecache.Ref `json:"tiles"`
}

// tilePair is one grid cell with its layers.
type tilePair struct {
	id    string
	cell  orb.Bound // lon/lat; pixels outside it belong to a neighbour
	cover *raster.Raster
	loss  *raster.Raster
	// set when loss does not share the cover grid
	lossFrom, lossTo projection.Projection
}

type tileStats struct {
	pixels, forest, loss     int64
	areaM2, forestM2, lossM2 float64
	forestLossM2             float64
}

func (s *tileStats) add(o tileStats) {
	s.pixels += o.pixels
	s.forest += o.forest
	s.loss += o.loss
	s.areaM2 += o.areaM2
	s.forestM2 += o.forestM2
	s.lossM2 += o.lossM2
	s.forestLossM2 += o.forestLossM2
}

// Compute resolves the tiles covering a and returns its statistics.
func (e *Engine) Compute(ctx context.Context, a *aoi.AOI, p Params) (*Result, error) {
	start := time.Now()
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}

	ids := a.TileIDs(e.opts.GridDeg)
	keys := tiles.KeysFor(ids, p.Layers)
	logf(a.ID, "resolving %d tile(s) over %d cell(s)", len(keys), len(ids))

	resolved, err := e.resolveAll(ctx, a.ID, keys)
	if err != nil {
		return nil, err
	}

	pairs, refs, err := pairLayers(a.ID, ids, keys, resolved, p, e.opts.GridDeg)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, apperr.New(apperr.MissingCoverage, component, a.ID, "no tile resolved for bbox %v", boundString(a.Bound))
	}

	area, err := newAreaModel(a.ID, pairs, p)
	if err != nil {
		return nil, err
	}
	geom := projection.MultiPolygon(a.Geometry, area.src)

	stats := make([]tileStats, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, pr := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := scan(pr, geom, area, p)
			if err != nil {
				return err
			}
			stats[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total tileStats
	for _, s := range stats {
		total.add(s)
	}
	if total.pixels == 0 {
		return nil, apperr.New(apperr.MissingCoverage, component, a.ID, "no valid raster pixel inside the AOI")
	}

	res := &Result{
		AOIID:                  a.ID,
		AreaHa:                 total.areaM2 / m2PerHa,
		ForestCoverFraction:    float64(total.forest) / float64(total.pixels),
		PostCutoffLossFraction: float64(total.loss) / float64(total.pixels),
		CanopyThreshold:        p.CanopyThreshold,
		ProjectedCRS:           area.crs,
		CutoffYear:             p.CutoffYear,
		AreaMethod:             area.method,
		Reprojected:            area.method == AreaReprojected,
		PixelCount:             total.pixels,
		ForestPixelCount:       total.forest,
		LossPixelCount:         total.loss,
		ForestCoverHa:          total.forestM2 / m2PerHa,
		PostCutoffLossHa:       total.lossM2 / m2PerHa,
		ForestLossPostCutoffHa: total.forestLossM2 / m2PerHa,
		GeometryAreaHa:         a.GeodesicAreaM2() / m2PerHa,
		Tiles:                  refs,
	}
	elapsed := time.Since(start)
	e.opts.Metrics.RecordZonal(elapsed.Seconds(), total.pixels, total.forest, total.loss)
	logf(a.ID, "%d pixels, forest %.4f, loss %.4f, %.2f ha (%s) in %s",
		res.PixelCount, res.ForestCoverFraction, res.PostCutoffLossFraction, res.AreaHa, res.AreaMethod, elapsed.Round(time.Millisecond))
	return res, nil
}

// resolveAll resolves keys on the worker pool. Results are indexed like keys;
// tiles the upstream does not have are left nil.
func (e *Engine) resolveAll(ctx context.Context, aoiID string, keys []tiles.Key) ([]*tilecache.Tile, error) {
	out := make([]*tilecache.Tile, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := e.tiles.Resolve(gctx, key)
			if err != nil {
				if fetcher.IsNotFound(err) {
					logf(aoiID, "%s not available upstream", key)
					return nil
				}
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// pairLayers groups resolved tiles per cell in ids order and checks that
// the layers of each cell can be read together.
func pairLayers(aoiID string, ids []string, keys []tiles.Key, resolved []*tilecache.Tile, p Params, gridDeg int) ([]tilePair, []tilecache.Ref, error) {
	byID := make(map[string]*tilePair, len(ids))
	refs := make([]tilecache.Ref, 0, len(keys))
	for i, key := range keys {
		t := resolved[i]
		if t == nil {
			continue
		}
		refs = append(refs, t.Ref())
		pr := byID[key.TileID]
		if pr == nil {
			cell, err := tiles.CellBound(key.TileID, gridDeg)
			if err != nil {
				return nil, nil, apperr.Wrap(apperr.RasterMismatch, component, key.TileID, err)
			}
			pr = &tilePair{id: key.TileID, cell: cell}
			byID[key.TileID] = pr
		}
		switch key.Layer {
		case tiles.LayerTreecover:
			pr.cover = t.Raster
		case tiles.LayerLossYear:
			pr.loss = t.Raster
		}
	}

	wantLoss := p.wantLoss()
	var pairs []tilePair
	for _, id := range ids {
		pr := byID[id]
		if pr == nil {
			continue
		}
		switch {
		case pr.cover == nil:
			return nil, nil, apperr.New(apperr.RasterMismatch, component, id, "%s present without %s", tiles.LayerLossYear, tiles.LayerTreecover)
		case wantLoss && pr.loss == nil:
			return nil, nil, apperr.New(apperr.RasterMismatch, component, id, "%s present without %s", tiles.LayerTreecover, tiles.LayerLossYear)
		}
		if pr.loss != nil && !pr.cover.SameGrid(pr.loss) {
			if !p.Reproject {
				return nil, nil, apperr.New(apperr.RasterMismatch, component, id,
					"layer grids differ (EPSG:%d %dx%d vs EPSG:%d %dx%d) and reprojection is disabled",
					pr.cover.EPSG, pr.cover.Width, pr.cover.Height, pr.loss.EPSG, pr.loss.Width, pr.loss.Height)
			}
			from, err := projection.EPSG(pr.cover.EPSG)
			if err != nil {
				return nil, nil, apperr.Wrap(apperr.RasterMismatch, component, id, err)
			}
			to, err := projection.EPSG(pr.loss.EPSG)
			if err != nil {
				return nil, nil, apperr.Wrap(apperr.RasterMismatch, component, id, err)
			}
			pr.lossFrom, pr.lossTo = from, to
			logf(aoiID, "tile %s: sampling %s across differing grids", id, tiles.LayerLossYear)
		}
		pairs = append(pairs, *pr)
	}
	return pairs, refs, nil
}

// areaModel measures pixels of the reference grid.
type areaModel struct {
	method string
	crs    string
	src    projection.Projection
	dst    projection.Projection
}

func newAreaModel(aoiID string, pairs []tilePair, p Params) (*areaModel, error) {
	epsg := pairs[0].cover.EPSG
	for _, pr := range pairs[1:] {
		if pr.cover.EPSG != epsg {
			return nil, apperr.New(apperr.RasterMismatch, component, pr.id,
				"tile CRS EPSG:%d differs from EPSG:%d of %s", pr.cover.EPSG, epsg, pairs[0].id)
		}
	}
	src, err := projection.EPSG(epsg)
	if err != nil {
		return nil, apperr.Wrap(apperr.RasterMismatch, component, pairs[0].id, err)
	}

	switch {
	case src.EqualArea():
		return &areaModel{method: AreaRasterCRS, crs: src.Code(), src: src}, nil
	case src.Geographic() && p.Reproject:
		dst, err := projection.Lookup(p.ProjectedCRS)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidConfig, component, aoiID, err)
		}
		return &areaModel{method: AreaReprojected, crs: dst.Code(), src: src, dst: dst}, nil
	case src.Geographic():
		// measured on the sphere, no projected CRS involved
		return &areaModel{method: AreaGeodesic, src: src}, nil
	}
	return nil, apperr.New(apperr.RasterMismatch, component, pairs[0].id, "raster CRS %s is neither geographic nor equal-area", src.Code())
}

// pixelArea returns the area of pixel (row, col) in m².
func (m *areaModel) pixelArea(t raster.Transform, row, col int) float64 {
	if m.method == AreaRasterCRS {
		return t.PixelArea()
	}
	ring := make(orb.Ring, 0, 5)
	for _, rc := range [...][2]int{{row, col}, {row, col + 1}, {row + 1, col + 1}, {row + 1, col}, {row, col}} {
		x, y := t.Corner(rc[0], rc[1])
		if m.method == AreaReprojected {
			x, y = projection.Transform(m.src, m.dst, x, y)
		}
		ring = append(ring, orb.Point{x, y})
	}
	if m.method == AreaReprojected {
		return math.Abs(planar.Area(ring))
	}
	return math.Abs(geo.Area(ring))
}

// scan classifies the pixels of one tile whose centres fall inside geom,
// which is expressed in the tile CRS, and inside the tile's own cell.
func scan(pr tilePair, geom orb.MultiPolygon, area *areaModel, p Params) (tileStats, error) {
	var s tileStats
	cover := pr.cover
	if err := cover.Validate(); err != nil {
		return s, apperr.Wrap(apperr.RasterMismatch, component, pr.id, err)
	}
	cutoff := p.CutoffYear - lossYearBase
	sameGrid := pr.loss != nil && pr.lossTo == nil

	rowMin, rowMax, colMin, colMax := cover.Window(geom.Bound())
	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			x, y := cover.Transform.Center(row, col)
			if !planar.MultiPolygonContains(geom, orb.Point{x, y}) {
				continue
			}
			if !inCell(pr.cell, area.src, x, y) {
				continue
			}
			tc := cover.At(row, col)
			if cover.IsNoData(tc) {
				continue
			}
			px := area.pixelArea(cover.Transform, row, col)
			s.pixels++
			s.areaM2 += px

			forested := int(tc) >= p.CanopyThreshold
			if forested {
				s.forest++
				s.forestM2 += px
			}

			if pr.loss == nil {
				continue
			}
			var ly uint8
			var ok bool
			if sameGrid {
				ly, ok = pr.loss.At(row, col), true
			} else {
				lx, lyy := projection.Transform(pr.lossFrom, pr.lossTo, x, y)
				ly, ok = pr.loss.Sample(lx, lyy)
			}
			if !ok || pr.loss.IsNoData(ly) || int(ly) <= cutoff {
				continue
			}
			s.loss++
			s.lossM2 += px
			if forested {
				s.forestLossM2 += px
			}
		}
	}
	return s, nil
}

// inCell reports whether (x, y) in src falls in cell. Cells are closed on
// their west and north edges so a centre on a shared edge counts once.
func inCell(cell orb.Bound, src projection.Projection, x, y float64) bool {
	lon, lat := src.Inverse(x, y)
	return lon >= cell.Min.Lon() && lon < cell.Max.Lon() &&
		lat > cell.Min.Lat() && lat <= cell.Max.Lat()
}

func boundString(b orb.Bound) string {
	return fmt.Sprintf("[%g,%g,%g,%g]", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}

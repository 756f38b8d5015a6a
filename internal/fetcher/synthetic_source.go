package fetcher

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/idlab-discover/aoievidence-cli/internal/raster"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

// DefaultSyntheticSize is the side length of synthetic tiles in pixels.
const DefaultSyntheticSize = 256

// SyntheticNoData is the nodata value written into synthetic tiles.
const SyntheticNoData = 255

// SyntheticSource renders deterministic tiles without network access:
//
//	treecover2000[r,c] = (r+c) % 100
//	lossyear[r,c]      = 21 if (r+c) % 17 == 0, else 0
//
// Tiles are EPSG:4326 and cover their grid cell, or Bounds when set.
type SyntheticSource struct {
	Size    int
	Bounds  *orb.Bound
	GridDeg int
}

func (s *SyntheticSource) Name() string { return "synthetic" }

func (s *SyntheticSource) Locate(key tiles.Key) string {
	return fmt.Sprintf("synthetic://%s/%s?size=%d", key.TileID, key.Layer, s.size())
}

func (s *SyntheticSource) Fetch(ctx context.Context, key tiles.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.Raster(key)
	if err != nil {
		return nil, err
	}
	logf(key.String(), "rendered synthetic %dx%d tile", r.Width, r.Height)
	return raster.Encode(r)
}

// Raster renders the tile for key.
func (s *SyntheticSource) Raster(key tiles.Key) (*raster.Raster, error) {
	var value func(r, c int) uint8
	switch key.Layer {
	case tiles.LayerTreecover:
		value = func(r, c int) uint8 { return uint8((r + c) % 100) }
	case tiles.LayerLossYear:
		value = func(r, c int) uint8 {
			if (r+c)%17 == 0 {
				return 21
			}
			return 0
		}
	default:
		return nil, &StatusError{StatusCode: 404, URL: s.Locate(key)}
	}

	b, err := s.extent(key)
	if err != nil {
		return nil, err
	}
	n := s.size()
	t := raster.Transform{
		OriginX:     b.Min.Lon(),
		OriginY:     b.Max.Lat(),
		PixelWidth:  (b.Max.Lon() - b.Min.Lon()) / float64(n),
		PixelHeight: (b.Max.Lat() - b.Min.Lat()) / float64(n),
	}
	out := raster.New(n, n, t, 4326)
	out.HasNoData = true
	out.NoData = SyntheticNoData
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			out.Set(r, c, value(r, c))
		}
	}
	return out, nil
}

func (s *SyntheticSource) extent(key tiles.Key) (orb.Bound, error) {
	if s.Bounds != nil {
		return *s.Bounds, nil
	}
	return tiles.CellBound(key.TileID, s.GridDeg)
}

func (s *SyntheticSource) size() int {
	if s.Size <= 0 {
		return DefaultSyntheticSize
	}
	return s.Size
}

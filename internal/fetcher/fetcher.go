// Package fetcher retrieves encoded raster tiles from their upstream.
//
// Two strategies exist: HTTPSource downloads GeoTIFFs from a URL template and
// SyntheticSource renders deterministic tiles for fixture environments. The
// tile cache treats both the same way.
package fetcher

import (
	"context"

	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

// Source fetches the encoded GeoTIFF for one tile layer.
type Source interface {
	// Name identifies the source in provenance records.
	Name() string
	// Locate returns the address the tile is fetched from.
	Locate(key tiles.Key) string
	Fetch(ctx context.Context, key tiles.Key) ([]byte, error)
}

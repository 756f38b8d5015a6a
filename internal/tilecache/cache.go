// Package tilecache resolves raster tiles through an ordered chain of
// storage tiers (memory, disk, object store) backed by an upstream source.
//
// Resolution is read-through: the first tier holding a tile serves it and
// the tile is written back into every faster tier. On a miss everywhere the
// upstream is fetched once and written through to all tiers.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/digest"
	"github.com/idlab-discover/aoievidence-cli/internal/fetcher"
	"github.com/idlab-discover/aoievidence-cli/internal/raster"
	"github.com/idlab-discover/aoievidence-cli/internal/telemetry"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

const component = "tilecache"

// DefaultFetchTimeout bounds one upstream download.
const DefaultFetchTimeout = 60 * time.Second

// Tile is a resolved, decoded tile. It is never mutated.
type Tile struct {
	Key       tiles.Key
	Data      []byte
	Raster    *raster.Raster
	SHA256    string
	Tier      string
	SourceURL string
}

// Ref is the provenance record of a tile.
type Ref struct {
	TileID    string `json:"tile_id"`
	Layer     string `json:"layer"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
	SourceURL string `json:"source_url"`
}

// Ref returns the tile's provenance record.
func (t *Tile) Ref() Ref {
	return Ref{
		TileID:    t.Key.TileID,
		Layer:     t.Key.Layer,
		SHA256:    t.SHA256,
		SizeBytes: int64(len(t.Data)),
		SourceURL: t.SourceURL,
	}
}

// Options configures a Cache.
type Options struct {
	FetchTimeout time.Duration
	Metrics      *telemetry.PipelineMetrics
}

// Cache resolves tiles through its tiers.
type Cache struct {
	tiers   []Tier
	source  fetcher.Source
	opts    Options
	flights singleflight.Group
}

// New creates a cache over tiers (fastest first) backed by source.
func New(source fetcher.Source, opts Options, tiers ...Tier) *Cache {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Cache{tiers: tiers, source: source, opts: opts}
}

// Tiers returns the tier names in lookup order.
func (c *Cache) Tiers() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Name()
	}
	return names
}

// SourceName identifies the upstream strategy.
func (c *Cache) SourceName() string {
	if c.source == nil {
		return "none"
	}
	return c.source.Name()
}

// Resolve returns the tile for key. Concurrent resolutions of the same key
// share one lookup.
func (c *Cache) Resolve(ctx context.Context, key tiles.Key) (*Tile, error) {
	ch := c.flights.DoChan(key.String(), func() (any, error) {
		return c.resolve(ctx, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Tile), nil
	}
}

func (c *Cache) resolve(ctx context.Context, key tiles.Key) (*Tile, error) {
	for i, tier := range c.tiers {
		data, err := tier.Get(ctx, key)
		if errors.Is(err, ErrMiss) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logf(key.String(), "%s tier read failed, treating as miss: %v", tier.Name(), err)
			c.opts.Metrics.RecordTierError(tier.Name(), "get")
			continue
		}
		tile, err := c.decode(key, data, tier.Name())
		if err != nil {
			logf(key.String(), "%s tier holds an unreadable tile, treating as miss: %v", tier.Name(), err)
			c.opts.Metrics.RecordTierError(tier.Name(), "decode")
			continue
		}
		logf(key.String(), "hit in %s tier", tier.Name())
		c.writeBack(ctx, key, data, c.tiers[:i])
		c.opts.Metrics.RecordTileResolution(tier.Name())
		return tile, nil
	}

	if c.source == nil {
		return nil, apperr.New(apperr.TileUnavailable, component, key.String(), "not cached and no upstream configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()
	start := time.Now()
	data, err := c.source.Fetch(fctx, key)
	c.opts.Metrics.RecordTileFetchDuration(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("upstream fetch exceeded %s: %w", c.opts.FetchTimeout, err)
		}
		return nil, apperr.Wrap(apperr.TileUnavailable, component, key.String(), err)
	}

	tile, err := c.decode(key, data, TierUpstream)
	if err != nil {
		return nil, apperr.Wrap(apperr.RasterMismatch, component, key.String(), err)
	}
	logf(key.String(), "fetched from upstream %s (%d bytes)", c.source.Name(), len(data))
	c.writeBack(ctx, key, data, c.tiers)
	c.opts.Metrics.RecordTileResolution(TierUpstream)
	return tile, nil
}

func (c *Cache) decode(key tiles.Key, data []byte, tier string) (*Tile, error) {
	r, err := raster.Decode(data)
	if err != nil {
		return nil, err
	}
	url := ""
	if c.source != nil {
		url = c.source.Locate(key)
	}
	return &Tile{
		Key:       key,
		Data:      data,
		Raster:    r,
		SHA256:    digest.Bytes(data),
		Tier:      tier,
		SourceURL: url,
	}, nil
}

// writeBack stores data in tiers. Failures are logged; a tier that cannot be
// written is simply not warmed.
func (c *Cache) writeBack(ctx context.Context, key tiles.Key, data []byte, tiers []Tier) {
	for _, tier := range tiers {
		if err := tier.Put(ctx, key, data); err != nil {
			logf(key.String(), "write to %s tier failed: %v", tier.Name(), err)
			c.opts.Metrics.RecordTierError(tier.Name(), "put")
		}
	}
}

package tilecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/idlab-discover/aoievidence-cli/internal/fsutil"
	"github.com/idlab-discover/aoievidence-cli/internal/objectstore"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

// ErrMiss is returned by Tier.Get when the tier does not hold the tile.
var ErrMiss = errors.New("tile cache miss")

// Tier is one storage level of the cache, fastest first.
type Tier interface {
	Name() string
	Get(ctx context.Context, key tiles.Key) ([]byte, error)
	Put(ctx context.Context, key tiles.Key, data []byte) error
}

// Tier names.
const (
	TierMemory   = "memory"
	TierDisk     = "disk"
	TierObject   = "object"
	TierUpstream = "upstream"
)

// MemoryTier keeps encoded tiles in process.
type MemoryTier struct {
	c *gocache.Cache
}

// NewMemoryTier creates a memory tier whose entries expire after ttl
// (0 keeps them for the life of the process).
func NewMemoryTier(ttl time.Duration) *MemoryTier {
	if ttl <= 0 {
		// No expiry means no janitor goroutine.
		return &MemoryTier{c: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryTier{c: gocache.New(ttl, 2*ttl)}
}

func (m *MemoryTier) Name() string { return TierMemory }

func (m *MemoryTier) Get(_ context.Context, key tiles.Key) ([]byte, error) {
	v, ok := m.c.Get(key.String())
	if !ok {
		return nil, ErrMiss
	}
	return v.([]byte), nil
}

func (m *MemoryTier) Put(_ context.Context, key tiles.Key, data []byte) error {
	m.c.Set(key.String(), data, gocache.DefaultExpiration)
	return nil
}

// DiskTier stores tiles as {Root}/{tile_id}/{layer}.tif.
type DiskTier struct {
	Root string
}

func (d *DiskTier) Name() string { return TierDisk }

// Path is where key lives on disk.
func (d *DiskTier) Path(key tiles.Key) string {
	return filepath.Join(d.Root, key.TileID, key.Layer+".tif")
}

func (d *DiskTier) Get(ctx context.Context, key tiles.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(d.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	return b, err
}

func (d *DiskTier) Put(ctx context.Context, key tiles.Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(d.Path(key), data, 0o644)
}

// ObjectTier stores tiles under tiles/{tile_id}/{layer}.tif in an object
// store.
type ObjectTier struct {
	Store objectstore.Store
}

func (o *ObjectTier) Name() string { return TierObject }

// ObjectKey is the object name for key.
func ObjectKey(key tiles.Key) string {
	return "tiles/" + key.TileID + "/" + key.Layer + ".tif"
}

func (o *ObjectTier) Get(ctx context.Context, key tiles.Key) ([]byte, error) {
	b, err := o.Store.Get(ctx, ObjectKey(key))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, ErrMiss
	}
	return b, err
}

func (o *ObjectTier) Put(ctx context.Context, key tiles.Key, data []byte) error {
	return o.Store.Put(ctx, ObjectKey(key), data, "image/tiff")
}

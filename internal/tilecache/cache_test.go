package tilecache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/digest"
	"github.com/idlab-discover/aoievidence-cli/internal/fetcher"
	"github.com/idlab-discover/aoievidence-cli/internal/objectstore"
	"github.com/idlab-discover/aoievidence-cli/internal/telemetry"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

var key = tiles.Key{Layer: tiles.LayerTreecover, TileID: "60N_020E"}

// countingSource wraps a synthetic source and counts fetches.
type countingSource struct {
	inner fetcher.Source
	calls atomic.Int32
	delay time.Duration
	err   error
	body  []byte
}

func newCountingSource() *countingSource {
	return &countingSource{inner: &fetcher.SyntheticSource{Size: 8}}
}

func (s *countingSource) Name() string              { return "counting" }
func (s *countingSource) Locate(k tiles.Key) string { return "test://" + k.String() }

func (s *countingSource) Fetch(ctx context.Context, k tiles.Key) ([]byte, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.body != nil {
		return s.body, nil
	}
	return s.inner.Fetch(ctx, k)
}

func TestResolveIsIdempotent(t *testing.T) {
	src := newCountingSource()
	c := New(src, Options{}, NewMemoryTier(0), &DiskTier{Root: t.TempDir()})

	first, err := c.Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, TierUpstream, first.Tier)

	second, err := c.Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, second.Tier)

	assert.EqualValues(t, 1, src.calls.Load())
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, digest.Bytes(first.Data), first.SHA256)
	assert.Equal(t, "test://treecover2000/60N_020E", first.Ref().SourceURL)
}

func TestResolveServesFromDiskAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	src := newCountingSource()

	_, err := New(src, Options{}, NewMemoryTier(0), &DiskTier{Root: dir}).Resolve(context.Background(), key)
	require.NoError(t, err)

	disk := &DiskTier{Root: dir}
	_, err = os.Stat(disk.Path(key))
	require.NoError(t, err)

	mem := NewMemoryTier(0)
	tile, err := New(src, Options{}, mem, disk).Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, TierDisk, tile.Tier)
	assert.EqualValues(t, 1, src.calls.Load())

	_, err = mem.Get(context.Background(), key)
	assert.NoError(t, err, "memory tier is warmed on a disk hit")
}

func TestResolveFromObjectStoreBackfillsDisk(t *testing.T) {
	store := objectstore.NewMemStore()
	src := newCountingSource()

	_, err := New(src, Options{}, &ObjectTier{Store: store}).Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []string{"tiles/60N_020E/treecover2000.tif"}, store.Keys())

	disk := &DiskTier{Root: t.TempDir()}
	tile, err := New(src, Options{}, disk, &ObjectTier{Store: store}).Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, TierObject, tile.Tier)
	assert.EqualValues(t, 1, src.calls.Load())

	_, err = os.Stat(disk.Path(key))
	assert.NoError(t, err)
}

func TestResolveUpstreamFailure(t *testing.T) {
	src := newCountingSource()
	src.err = &fetcher.StatusError{StatusCode: http.StatusNotFound, URL: "x"}
	c := New(src, Options{}, NewMemoryTier(0))

	_, err := c.Resolve(context.Background(), key)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTileUnavailable)
	assert.True(t, fetcher.IsNotFound(err))

	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, key.String(), e.Key)
}

func TestResolveRejectsUndecodableUpstream(t *testing.T) {
	src := newCountingSource()
	src.body = []byte("<html>not a tiff</html>")
	disk := &DiskTier{Root: t.TempDir()}
	c := New(src, Options{}, disk)

	_, err := c.Resolve(context.Background(), key)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRasterMismatch)

	_, err = os.Stat(disk.Path(key))
	assert.True(t, errors.Is(err, os.ErrNotExist), "bad data is not cached")
}

func TestResolveReplacesCorruptDiskEntry(t *testing.T) {
	disk := &DiskTier{Root: t.TempDir()}
	require.NoError(t, disk.Put(context.Background(), key, []byte("corrupt")))

	src := newCountingSource()
	tile, err := New(src, Options{}, disk).Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, TierUpstream, tile.Tier)

	b, err := os.ReadFile(disk.Path(key))
	require.NoError(t, err)
	assert.Equal(t, tile.Data, b)
}

func TestResolveTimeout(t *testing.T) {
	src := newCountingSource()
	src.delay = time.Second
	c := New(src, Options{FetchTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := c.Resolve(context.Background(), key)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTileUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newCountingSource(), Options{}).Resolve(ctx, key)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveWithoutUpstream(t *testing.T) {
	_, err := New(nil, Options{}, NewMemoryTier(0)).Resolve(context.Background(), key)
	assert.ErrorIs(t, err, apperr.ErrTileUnavailable)
}

func TestConcurrentResolvesShareOneFetch(t *testing.T) {
	src := newCountingSource()
	src.delay = 50 * time.Millisecond
	c := New(src, Options{}, NewMemoryTier(0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), key)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestResolveOverHTTPUpstream(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	body, err := (&fetcher.SyntheticSource{Size: 4}).Fetch(context.Background(), key)
	require.NoError(t, err)
	httpmock.RegisterResponder(http.MethodGet, "https://gfc.example.test/treecover2000_60N_020E.tif",
		httpmock.NewBytesResponder(http.StatusOK, body))

	src := &fetcher.HTTPSource{Client: client, Template: "https://gfc.example.test/{layer}_{tile_id}.tif"}
	c := New(src, Options{}, NewMemoryTier(0), &DiskTier{Root: t.TempDir()})

	for i := 0; i < 3; i++ {
		tile, err := c.Resolve(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, 4, tile.Raster.Width)
	}
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestResolveRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := telemetry.NewPipelineMetrics(registry)
	require.NoError(t, err)

	c := New(newCountingSource(), Options{Metrics: m}, NewMemoryTier(0))
	_, err = c.Resolve(context.Background(), key)
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, 2, testutil.CollectAndCount(m, "aoievidence_tile_resolutions_total"))
	assert.Equal(t, []string{TierMemory}, c.Tiers())
	assert.Equal(t, "counting", c.SourceName())
}

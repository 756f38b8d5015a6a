package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlab-discover/aoievidence-cli/internal/raster"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

var treecoverKey = tiles.Key{Layer: tiles.LayerTreecover, TileID: "60N_020E"}

func TestHTTPSource_Locate(t *testing.T) {
	s := &HTTPSource{Template: "https://example.test/GFC/Hansen_GFC-2024-v1.12_{layer}_{tile_id}.tif"}
	assert.Equal(t, "https://example.test/GFC/Hansen_GFC-2024-v1.12_treecover2000_60N_020E.tif", s.Locate(treecoverKey))
}

func TestHTTPSource_FetchWithServer(t *testing.T) {
	var gotAuth, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/treecover2000/60N_020E.tif":
			_, _ = w.Write([]byte("tiff-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	s := &HTTPSource{Client: NewClient(5*time.Second, "secret"), Template: srv.URL + "/{layer}/{tile_id}.tif"}

	body, err := s.Fetch(context.Background(), treecoverKey)
	require.NoError(t, err)
	assert.Equal(t, "tiff-bytes", string(body))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, userAgent, gotUA)

	_, err = s.Fetch(context.Background(), tiles.Key{Layer: tiles.LayerLossYear, TileID: "00N_000E"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsUnauthorized(err))
}

func TestHTTPSource_FetchWithHTTPMock(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodGet, "https://tiles.example.test/lossyear/60N_020E.tif",
		httpmock.NewBytesResponder(http.StatusOK, []byte("loss")))
	httpmock.RegisterResponder(http.MethodGet, "https://tiles.example.test/treecover2000/60N_020E.tif",
		httpmock.NewStringResponder(http.StatusForbidden, "denied"))

	s := &HTTPSource{Client: client, Template: "https://tiles.example.test/{layer}/{tile_id}.tif"}

	body, err := s.Fetch(context.Background(), tiles.Key{Layer: tiles.LayerLossYear, TileID: "60N_020E"})
	require.NoError(t, err)
	assert.Equal(t, "loss", string(body))

	_, err = s.Fetch(context.Background(), treecoverKey)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestHTTPSource_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	t.Cleanup(srv.Close)

	s := &HTTPSource{Template: srv.URL + "/{tile_id}", MaxBytes: 10}
	_, err := s.Fetch(context.Background(), treecoverKey)
	assert.Error(t, err)
}

func TestHTTPSource_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := &HTTPSource{Template: srv.URL + "/{tile_id}"}
	_, err := s.Fetch(ctx, treecoverKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPSource_NoTemplate(t *testing.T) {
	_, err := (&HTTPSource{}).Fetch(context.Background(), treecoverKey)
	assert.Error(t, err)
}

func TestSyntheticSource_CanonicalFormula(t *testing.T) {
	bounds := orb.Bound{Min: orb.Point{24.0, 59.0}, Max: orb.Point{24.02, 59.02}}
	s := &SyntheticSource{Size: 32, Bounds: &bounds}

	tc, err := s.Raster(treecoverKey)
	require.NoError(t, err)
	ly, err := s.Raster(tiles.Key{Layer: tiles.LayerLossYear, TileID: "60N_020E"})
	require.NoError(t, err)

	assert.Equal(t, 32, tc.Width)
	assert.Equal(t, uint8(0), tc.At(0, 0))
	assert.Equal(t, uint8(62), tc.At(31, 31))
	assert.Equal(t, uint8(21), ly.At(0, 17))
	assert.Equal(t, uint8(0), ly.At(0, 16))
	assert.True(t, tc.SameGrid(ly))
	assert.InDelta(t, 0.02/32, tc.Transform.PixelWidth, 1e-15)
	assert.Equal(t, 24.0, tc.Transform.OriginX)
	assert.Equal(t, 59.02, tc.Transform.OriginY)
}

func TestSyntheticSource_FetchIsDeterministicGeoTIFF(t *testing.T) {
	s := &SyntheticSource{Size: 8}
	a, err := s.Fetch(context.Background(), treecoverKey)
	require.NoError(t, err)
	b, err := s.Fetch(context.Background(), treecoverKey)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	r, err := raster.Decode(a)
	require.NoError(t, err)
	assert.Equal(t, 4326, r.EPSG)
	assert.Equal(t, 20.0, r.Transform.OriginX)
	assert.Equal(t, 60.0, r.Transform.OriginY)
	assert.Equal(t, "synthetic", s.Name())
}

func TestSyntheticSource_UnknownLayer(t *testing.T) {
	_, err := (&SyntheticSource{}).Fetch(context.Background(), tiles.Key{Layer: "gain", TileID: "60N_020E"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

package objectstore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Get(ctx, "tiles/60N_020E/lossyear.tif")
	assert.ErrorIs(t, err, ErrNotFound)

	data := []byte("abc")
	require.NoError(t, s.Put(ctx, "tiles/60N_020E/lossyear.tif", data, "image/tiff"))
	data[0] = 'z' // stored copy is independent

	got, err := s.Get(ctx, "tiles/60N_020E/lossyear.tif")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	ok, err := s.Exists(ctx, "tiles/60N_020E/lossyear.tif")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"tiles/60N_020E/lossyear.tif"}, s.Keys())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(cctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewS3StoreValidation(t *testing.T) {
	_, err := NewS3Store(S3Config{Bucket: "b"})
	assert.Error(t, err)
	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	s, err := NewS3Store(S3Config{Endpoint: "localhost:9000", Bucket: "tiles", Prefix: "/gfc/"})
	require.NoError(t, err)
	assert.Equal(t, "gfc/tiles/a.tif", s.objectName("tiles/a.tif"))
}

// fakeS3 is a minimal path-style S3 endpoint keeping objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		var b []byte
		var err error
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			b, err = decodeChunked(r.Body)
		} else {
			b, err = io.ReadAll(r.Body)
		}
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[r.URL.Path] = b
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		b, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(b)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// decodeChunked strips the aws-chunked framing of a streaming-signed upload:
// "<hex size>[;chunk-signature=...]\r\n<data>\r\n" repeated until a zero
// sized chunk.
func decodeChunked(body io.Reader) ([]byte, error) {
	br := bufio.NewReader(body)
	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		head, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), ";")
		n, err := strconv.ParseInt(head, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk header %q: %w", line, err)
		}
		if n == 0 {
			return out, nil
		}
		chunk := make([]byte, n+2)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk[:n]...)
	}
}

func TestDecodeChunked(t *testing.T) {
	got, err := decodeChunked(strings.NewReader("4;chunk-signature=ab\r\ntile\r\n2\r\n!!\r\n0;chunk-signature=cd\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "tile!!", string(got))
}

func TestS3StoreAgainstFakeEndpoint(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	s, err := NewS3Store(S3Config{Endpoint: u.Host, Bucket: "tiles", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "tiles/60N_020E/lossyear.tif")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "tiles/60N_020E/lossyear.tif")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "tiles/60N_020E/lossyear.tif", []byte("tile"), "image/tiff"))
	fake.mu.Lock()
	stored := string(fake.objects["/tiles/tiles/60N_020E/lossyear.tif"])
	fake.mu.Unlock()
	assert.Equal(t, "tile", stored)

	got, err := s.Get(ctx, "tiles/60N_020E/lossyear.tif")
	require.NoError(t, err)
	assert.Equal(t, "tile", string(got))

	ok, err = s.Exists(ctx, "tiles/60N_020E/lossyear.tif")
	require.NoError(t, err)
	assert.True(t, ok)
}

package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

// DefaultMaxTileBytes caps a single download. Hansen GFC tiles are well
// below this.
const DefaultMaxTileBytes = 1 << 30

// HTTPSource downloads tiles from a URL template containing the
// placeholders {layer} and {tile_id}.
type HTTPSource struct {
	Client   *http.Client
	Template string
	// MaxBytes bounds the response body; 0 uses DefaultMaxTileBytes.
	MaxBytes int64
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Locate(key tiles.Key) string {
	return strings.NewReplacer("{layer}", key.Layer, "{tile_id}", key.TileID).Replace(s.Template)
}

func (s *HTTPSource) Fetch(ctx context.Context, key tiles.Key) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(s.Template) == "" {
		return nil, fmt.Errorf("no upstream url template configured")
	}

	url := s.Locate(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/tiff, application/octet-stream, */*")

	logf(key.String(), "GET %s", url)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxTileBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("tile %s exceeds %d bytes", key, limit)
	}
	logf(key.String(), "downloaded %d bytes", len(body))
	return body, nil
}

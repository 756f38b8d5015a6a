package fetcher

import (
	"net/http"
	"strings"
	"time"
)

const userAgent = "aoievidence-cli"

// bearerTransport injects a Bearer token into every request when a token is set.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// NewClient creates an *http.Client for upstream tile downloads.
// timeout is the per-request deadline (0 = no timeout).
// token is automatically injected as a Bearer token on every request when non-empty.
func NewClient(timeout time.Duration, token string) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &bearerTransport{base: http.DefaultTransport, token: strings.TrimSpace(token)},
	}
}

package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned when the upstream responds with a non-2xx HTTP
// status. Callers tell "no such tile" (404) apart from transient failures
// without string matching.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d for %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err is a StatusError with HTTP 404, i.e. the
// upstream has no tile for the key (open ocean cells in Hansen GFC).
func IsNotFound(err error) bool {
	var e *StatusError
	return errors.As(err, &e) && e.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a StatusError with HTTP 401 or 403.
func IsUnauthorized(err error) bool {
	var e *StatusError
	return errors.As(err, &e) && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

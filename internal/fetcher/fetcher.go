// Package fetcher downloads bulletin indexes, norm PDFs and tender pages
// with per-host throttling and retries on transient failures.
package fetcher

import (
	"context"
	"fmt"
	"io"
)

// Fetcher downloads a URL. Non-200 responses are reported as *StatusError.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// StatusError reports a response with an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

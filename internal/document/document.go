// Package document retrieves norm documents and turns them into text.
// Every failure leaves the package as a *Error carrying a Kind the pipeline
// records as the reason a norm is still pending.
package document

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sells-group/boletin-cli/internal/fetcher"
)

// Kind classifies a document retrieval failure.
type Kind string

const (
	KindHTTPStatus      Kind = "http_status"
	KindTimeout         Kind = "timeout"
	KindTransport       Kind = "transport"
	KindInvalidDocument Kind = "invalid_document"
	KindExtract         Kind = "extract"
)

// Error is the only error type returned by a Fetcher.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("%s %d: %s", e.Kind, e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Reason renders err as the short failure reason stored on a norm outcome.
func Reason(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Kind == KindHTTPStatus {
			return fmt.Sprintf("%s %d", de.Kind, de.StatusCode)
		}
		return string(de.Kind)
	}
	return string(KindTransport)
}

// Fetcher retrieves a document and returns its text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// classifyErr maps a download error onto a Kind. ctx is the per-call context,
// so an expired deadline is reported as a timeout even when the transport
// surfaces it as a generic error.
func classifyErr(ctx context.Context, url string, err error) *Error {
	var se *fetcher.StatusError
	if errors.As(err, &se) {
		return &Error{Kind: KindHTTPStatus, URL: url, StatusCode: se.StatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	return &Error{Kind: KindTransport, URL: url, Err: err}
}

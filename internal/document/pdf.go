package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/fetcher"
	"github.com/sells-group/boletin-cli/internal/ocr"
	"github.com/sells-group/boletin-cli/internal/resilience"
)

const (
	// DefaultTimeout bounds one document retrieval end to end. The archive
	// serves large scanned documents with highly variable latency.
	DefaultTimeout = 90 * time.Second

	// DefaultMaxBytes caps how much of a response body is read.
	DefaultMaxBytes = 64 << 20
)

var pdfMagic = []byte("%PDF")

// Options configures a PDFFetcher.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	Pacer    *resilience.Pacer
}

// PDFFetcher downloads a PDF and extracts its text.
type PDFFetcher struct {
	http      fetcher.Fetcher
	extractor ocr.Extractor
	pacer     *resilience.Pacer
	timeout   time.Duration
	maxBytes  int64
}

// NewPDFFetcher creates a PDFFetcher over the given downloader and extractor.
func NewPDFFetcher(f fetcher.Fetcher, ex ocr.Extractor, opts Options) *PDFFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &PDFFetcher{
		http:      f,
		extractor: ex,
		pacer:     opts.Pacer,
		timeout:   opts.Timeout,
		maxBytes:  opts.MaxBytes,
	}
}

// Fetch downloads url and returns the document text. The returned error is
// always a *Error.
func (p *PDFFetcher) Fetch(ctx context.Context, url string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("document: panic during fetch", zap.String("url", url), zap.Any("panic", r))
			text, err = "", &Error{Kind: KindExtract, URL: url, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.pacer.Wait(ctx); err != nil {
		return "", classifyErr(ctx, url, err)
	}

	data, derr := p.download(ctx, url)
	if derr != nil {
		return "", derr
	}

	if !bytes.HasPrefix(data, pdfMagic) {
		return "", &Error{Kind: KindInvalidDocument, URL: url, Err: fmt.Errorf("body does not start with %%PDF (%d bytes)", len(data))}
	}

	text, err = p.extractor.ExtractText(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return "", classifyErr(ctx, url, err)
		}
		return "", &Error{Kind: KindExtract, URL: url, Err: err}
	}

	return text, nil
}

func (p *PDFFetcher) download(ctx context.Context, url string) ([]byte, *Error) {
	body, err := p.http.Download(ctx, url)
	if err != nil {
		return nil, classifyErr(ctx, url, err)
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, p.maxBytes+1))
	if err != nil {
		return nil, classifyErr(ctx, url, err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, &Error{Kind: KindInvalidDocument, URL: url, Err: fmt.Errorf("document exceeds %d bytes", p.maxBytes)}
	}
	return data, nil
}

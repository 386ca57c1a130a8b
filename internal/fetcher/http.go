package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boletin-cli/internal/resilience"
)

// HTTPOptions configures an HTTPFetcher. Zero values take the defaults
// noted on each field.
type HTTPOptions struct {
	UserAgent  string        // "boletin-cli/1.0"
	Timeout    time.Duration // per request, 90s
	MaxRetries int           // attempts per download, 3
	Backoff    time.Duration // first retry wait, 1s

	// Throttles override or extend the built-in per-host throttles, keyed
	// by URL host (host:port when a port is present).
	Throttles map[string]*Throttle
}

// HTTPFetcher is the Fetcher used for the bulletin API, the PDF archive and
// the procurement portal. Requests are throttled per host; throttling
// statuses, server errors and dropped connections are retried.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	retry  resilience.RetryConfig

	mu        sync.Mutex
	throttles map[string]*Throttle
}

// NewHTTPFetcher returns a fetcher with opts applied over the defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "boletin-cli/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}

	throttles := defaultThrottles()
	for host, t := range opts.Throttles {
		throttles[host] = t
	}
	for host, t := range throttles {
		t.host = host
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: opts,
		retry: resilience.RetryConfig{
			MaxAttempts:    opts.MaxRetries,
			InitialBackoff: opts.Backoff,
			MaxBackoff:     30 * time.Second,
			JitterFraction: 0.25,
			OnRetry:        resilience.RetryLogger("http", "download"),
		},
		throttles: throttles,
	}
}

// throttleFor returns the host's throttle, creating a fallback one on
// first use so unknown hosts are still paced.
func (f *HTTPFetcher) throttleFor(u *url.URL) *Throttle {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.throttles[u.Host]
	if !ok {
		t = NewThrottle(fallbackRate, fallbackRate)
		t.host = u.Host
		f.throttles[u.Host] = t
	}
	return t
}

// Download implements Fetcher. The caller closes the returned body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "download: parse %q", rawURL)
	}
	throttle := f.throttleFor(u)

	resp, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*http.Response, error) {
		return f.attempt(ctx, u, throttle)
	})
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	return resp.Body, nil
}

// attempt sends one GET. Any non-200 answer is a *StatusError, tagged
// transient when the status is worth retrying.
func (f *HTTPFetcher) attempt(ctx context.Context, u *url.URL, throttle *Throttle) (*http.Response, error) {
	if err := throttle.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "throttle")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	throttle.observe(resp.StatusCode)
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()

	se := &StatusError{StatusCode: resp.StatusCode, URL: u.String()}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(se, resp.StatusCode)
	}
	return nil, se
}

package document

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boletin-cli/internal/fetcher"
	"github.com/sells-group/boletin-cli/internal/resilience"
)

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) ExtractText(_ context.Context, pdf []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return string(pdf), nil
}

func newTestPDFFetcher(ex *fakeExtractor, timeout time.Duration) *PDFFetcher {
	dl := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, Backoff: time.Millisecond})
	return NewPDFFetcher(dl, ex, Options{Timeout: timeout, Pacer: resilience.NewPacer(0, 0)})
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var de *Error
	require.True(t, errors.As(err, &de), "expected *document.Error, got %T", err)
	assert.Equal(t, kind, de.Kind)
	return de
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("%PDF-1.7 binary")) //nolint:errcheck
	}))
	defer srv.Close()

	ex := &fakeExtractor{text: "Apruébase el gasto de $ 1.000,00"}
	text, err := newTestPDFFetcher(ex, time.Second).Fetch(context.Background(), srv.URL+"/norma.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Apruébase el gasto de $ 1.000,00", text)
	assert.Equal(t, 1, ex.calls)
}

func TestFetch_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ex := &fakeExtractor{}
	_, err := newTestPDFFetcher(ex, time.Second).Fetch(context.Background(), srv.URL+"/missing.pdf")
	de := requireKind(t, err, KindHTTPStatus)
	assert.Equal(t, http.StatusNotFound, de.StatusCode)
	assert.Equal(t, "http_status 404", Reason(err))
	assert.Zero(t, ex.calls)
}

func TestFetch_ServerErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestPDFFetcher(&fakeExtractor{}, time.Second).Fetch(context.Background(), srv.URL+"/norma.pdf")
	de := requireKind(t, err, KindHTTPStatus)
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
}

func TestFetch_InvalidDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>mantenimiento</html>")) //nolint:errcheck
	}))
	defer srv.Close()

	ex := &fakeExtractor{}
	_, err := newTestPDFFetcher(ex, time.Second).Fetch(context.Background(), srv.URL+"/norma.pdf")
	requireKind(t, err, KindInvalidDocument)
	assert.Equal(t, "invalid_document", Reason(err))
	assert.Zero(t, ex.calls)
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("%PDF-1.7 0123456789")) //nolint:errcheck
	}))
	defer srv.Close()

	dl := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, Backoff: time.Millisecond})
	f := NewPDFFetcher(dl, &fakeExtractor{}, Options{Timeout: time.Second, MaxBytes: 8})

	_, err := f.Fetch(context.Background(), srv.URL+"/big.pdf")
	requireKind(t, err, KindInvalidDocument)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestPDFFetcher(&fakeExtractor{}, 50*time.Millisecond).Fetch(context.Background(), srv.URL+"/slow.pdf")
	requireKind(t, err, KindTimeout)
	assert.Equal(t, "timeout", Reason(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetch_Transport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL + "/norma.pdf"
	srv.Close()

	_, err := newTestPDFFetcher(&fakeExtractor{}, time.Second).Fetch(context.Background(), url)
	requireKind(t, err, KindTransport)
}

func TestFetch_ExtractFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("%PDF-1.7 broken")) //nolint:errcheck
	}))
	defer srv.Close()

	ex := &fakeExtractor{err: errors.New("xref table not found")}
	_, err := newTestPDFFetcher(ex, time.Second).Fetch(context.Background(), srv.URL+"/norma.pdf")
	de := requireKind(t, err, KindExtract)
	assert.Contains(t, de.Error(), "xref table not found")
}

type panickingExtractor struct{}

func (panickingExtractor) ExtractText(context.Context, []byte) (string, error) {
	panic("corrupt stream")
}

func TestFetch_PanicBecomesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("%PDF-1.7")) //nolint:errcheck
	}))
	defer srv.Close()

	dl := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1})
	f := NewPDFFetcher(dl, panickingExtractor{}, Options{})

	_, err := f.Fetch(context.Background(), srv.URL+"/norma.pdf")
	requireKind(t, err, KindExtract)
}

func TestReason_ForeignError(t *testing.T) {
	assert.Equal(t, "transport", Reason(errors.New("boom")))
}

func TestNewPDFFetcher_Defaults(t *testing.T) {
	f := NewPDFFetcher(nil, nil, Options{})
	assert.Equal(t, DefaultTimeout, f.timeout)
	assert.Equal(t, int64(DefaultMaxBytes), f.maxBytes)
}

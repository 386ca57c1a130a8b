package tenders

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boletin-cli/internal/fetcher"
	"github.com/sells-group/boletin-cli/internal/resilience"
)

const listingHeader = `<table class="grilla"><tr>
<th>Número</th><th>Nombre</th><th>Tipo de Procedimiento</th><th>Fecha de Apertura</th><th>Estado</th><th>Unidad Ejecutora</th>
</tr>`

func listingRow(number, title, opening, detail string) string {
	return fmt.Sprintf(`<tr><td><a href="%s">%s</a></td><td>%s</td><td>Licitación Pública</td><td>%s</td><td>Publicado</td><td>Ministerio de Educación</td></tr>`,
		detail, number, title, opening)
}

func newTestServer(t *testing.T, pages map[int]string, details map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/listado":
			var page int
			fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page) //nolint:errcheck
			body, ok := pages[page]
			if !ok {
				body = listingHeader + `</table>`
			}
			w.Write([]byte("<html><body>" + body + "</body></html>")) //nolint:errcheck
		case strings.HasPrefix(r.URL.Path, "/detalle/"):
			body, ok := details[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(body)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestScraper(srvURL string, maxPages int) *HTMLScraper {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, Backoff: time.Millisecond})
	return NewHTMLScraper(f, Options{
		ListingURL:  srvURL + "/listado",
		MaxPages:    maxPages,
		PageTimeout: 2 * time.Second,
		DetailPacer: resilience.NewPacer(time.Millisecond, 0),
	})
}

func TestScrape_FiltersByDateAcrossPages(t *testing.T) {
	pages := map[int]string{
		1: listingHeader +
			listingRow("2-0001-LPU26", "Adquisición de mobiliario", "02/01/2026 10:00", "/detalle/1") +
			listingRow("2-0002-LPU26", "Servicio de limpieza", "05/01/2026 11:00", "/detalle/2") +
			listingRow("2-0003-CDI26", "Obra de refacción", "02/01/2026 12:00", "/detalle/3") +
			`</table>`,
		2: listingHeader +
			listingRow("2-0004-LPU26", "Provisión de alimentos", "02/01/2026", "/detalle/4") +
			listingRow("2-0001-LPU26", "Adquisición de mobiliario", "02/01/2026 10:00", "/detalle/1") +
			`</table>`,
	}
	details := map[string]string{
		"/detalle/1": `<dl><dt>Monto estimado</dt><dd>$ 12.500.000,00</dd></dl>`,
		"/detalle/4": `<div><span>Monto: 3.000,50</span></div>`,
	}
	srv := newTestServer(t, pages, details)
	defer srv.Close()

	tenders, ok := newTestScraper(srv.URL, 10).Scrape(context.Background(), "2026-01-02")
	require.True(t, ok)
	require.Len(t, tenders, 3)

	assert.Equal(t, "2-0001-LPU26", tenders[0].Number)
	assert.Equal(t, "Adquisición de mobiliario", tenders[0].Title)
	assert.Equal(t, "Licitación Pública", tenders[0].Type)
	assert.Equal(t, "Publicado", tenders[0].Status)
	assert.Equal(t, "Ministerio de Educación", tenders[0].Unit)
	assert.Equal(t, srv.URL+"/detalle/1", tenders[0].DetailURL)
	require.NotNil(t, tenders[0].Amount)
	assert.InDelta(t, 12_500_000, *tenders[0].Amount, 1e-6)

	assert.Equal(t, "2-0003-CDI26", tenders[1].Number)
	assert.Nil(t, tenders[1].Amount, "failed detail page leaves amount unset")
	assert.Equal(t, "Monto no especificado", tenders[1].AmountLabel())

	assert.Equal(t, "2-0004-LPU26", tenders[2].Number)
	require.NotNil(t, tenders[2].Amount)
	assert.InDelta(t, 3000.5, *tenders[2].Amount, 1e-6)
}

func TestScrape_StopsAtMaxPages(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page := r.URL.Query().Get("page")
		w.Write([]byte(listingHeader + listingRow("N-"+page, "x", "01/01/2026", "") + `</table>`)) //nolint:errcheck
	}))
	defer srv.Close()

	tenders, ok := newTestScraper(srv.URL, 3).Scrape(context.Background(), "2026-01-02")
	require.True(t, ok)
	assert.Empty(t, tenders)
	assert.NotNil(t, tenders)
	assert.Equal(t, int32(3), requests.Load())
}

func TestScrape_StopsWhenPageRepeats(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Write([]byte(listingHeader + listingRow("2-0001-LPU26", "x", "02/01/2026", "") + `</table>`)) //nolint:errcheck
	}))
	defer srv.Close()

	tenders, ok := newTestScraper(srv.URL, 10).Scrape(context.Background(), "2026-01-02")
	require.True(t, ok)
	assert.Len(t, tenders, 1)
	assert.Equal(t, int32(2), requests.Load())
}

func TestScrape_ListingFailure(t *testing.T) {
	pages := map[int]string{
		1: listingHeader + listingRow("2-0001-LPU26", "x", "02/01/2026", "") + `</table>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(pages[1])) //nolint:errcheck
	}))
	defer srv.Close()

	tenders, ok := newTestScraper(srv.URL, 10).Scrape(context.Background(), "2026-01-02")
	assert.False(t, ok)
	assert.Nil(t, tenders)
}

func TestScrape_UnrecognizedListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><body><p>Sitio en mantenimiento</p></body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, ok := newTestScraper(srv.URL, 10).Scrape(context.Background(), "2026-01-02")
	assert.False(t, ok)
}

func TestScrape_InvalidDate(t *testing.T) {
	_, ok := NewHTMLScraper(nil, Options{}).Scrape(context.Background(), "02/01/2026")
	assert.False(t, ok)
}

func TestParseDetailAmount(t *testing.T) {
	tests := []struct {
		name string
		html string
		want float64
		ok   bool
	}{
		{"table row", `<table><tr><th>Monto Total</th><td>$ 1.234,56</td></tr></table>`, 1234.56, true},
		{"inline label", `<p><strong>Monto: $ 99.000</strong></p>`, 99000, true},
		{"no currency marker", `<dl><dt>Monto</dt><dd>45.000,00</dd></dl>`, 45000, true},
		{"absent", `<dl><dt>Plazo</dt><dd>30 días</dd></dl>`, 0, false},
		{"unparsable", `<dl><dt>Monto</dt><dd>A determinar</dd></dl>`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			got, ok := parseDetailAmount(doc)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestPageURL(t *testing.T) {
	assert.Equal(t, "https://compras.test/listado?page=2", pageURL("https://compras.test/listado", 2))
	assert.Equal(t, "https://compras.test/listado?page=3&tipo=lp", pageURL("https://compras.test/listado?tipo=lp", 3))
}

func TestFoldHeader(t *testing.T) {
	assert.Equal(t, "numero de proceso", foldHeader("  Número   de Proceso "))
	assert.Equal(t, "fecha de apertura", foldHeader("Fecha de Apertura"))
}

// Package tenders scrapes the public procurement site for tenders opening
// on a bulletin date.
package tenders

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/boletin-cli/internal/classify"
	"github.com/sells-group/boletin-cli/internal/fetcher"
	"github.com/sells-group/boletin-cli/internal/model"
	"github.com/sells-group/boletin-cli/internal/resilience"
)

// DefaultListingURL lists tenders by opening date.
const DefaultListingURL = "https://www.buenosairescompras.gob.ar/ListarAperturaUltimos30Dias.aspx"

// Scraper returns the tenders opening on an ISO date. ok is false whenever
// the listing could not be read completely; a true ok with an empty list is
// still not a finished scrape as far as the pipeline is concerned.
type Scraper interface {
	Scrape(ctx context.Context, date string) (tenders []model.Tender, ok bool)
}

// Options configures an HTMLScraper.
type Options struct {
	ListingURL  string
	MaxPages    int
	PageTimeout time.Duration
	// DetailPacer spaces out the sequential detail page walk.
	DetailPacer *resilience.Pacer
}

// HTMLScraper reads the paginated HTML listing and each tender's detail page.
type HTMLScraper struct {
	fetcher fetcher.Fetcher
	opts    Options
}

// NewHTMLScraper creates an HTMLScraper.
func NewHTMLScraper(f fetcher.Fetcher, opts Options) *HTMLScraper {
	if opts.ListingURL == "" {
		opts.ListingURL = DefaultListingURL
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	return &HTMLScraper{fetcher: f, opts: opts}
}

// Scrape collects the tenders whose opening date column contains date in
// dd/mm/yyyy form, then fills in amounts from their detail pages.
func (s *HTMLScraper) Scrape(ctx context.Context, date string) ([]model.Tender, bool) {
	log := zap.L().With(zap.String("date", date))

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		log.Error("tenders: invalid date key", zap.Error(err))
		return nil, false
	}
	needle := day.Format("02/01/2006")

	var (
		found    []model.Tender
		seen     = make(map[string]struct{})
		firstKey string
	)
	for page := 1; page <= s.opts.MaxPages; page++ {
		doc, err := s.fetchDocument(ctx, pageURL(s.opts.ListingURL, page))
		if err != nil {
			log.Warn("tenders: listing page failed", zap.Int("page", page), zap.Error(err))
			return nil, false
		}

		rows, err := parseListing(doc, s.opts.ListingURL)
		if err != nil {
			if page == 1 {
				log.Warn("tenders: listing not recognized", zap.Error(err))
				return nil, false
			}
			break
		}
		if len(rows) == 0 {
			break
		}
		// Sites that ignore the page parameter serve page 1 again.
		if page == 1 {
			firstKey = rows[0].Number
		} else if rows[0].Number == firstKey {
			break
		}

		for _, t := range rows {
			if !strings.Contains(t.OpeningDate, needle) {
				continue
			}
			if _, dup := seen[t.Number]; dup {
				continue
			}
			seen[t.Number] = struct{}{}
			found = append(found, t)
		}
	}

	s.fillAmounts(ctx, found)

	log.Info("tenders: scrape complete", zap.Int("tenders", len(found)))
	if found == nil {
		found = []model.Tender{}
	}
	return found, true
}

// fillAmounts walks detail pages one at a time. A failed page only leaves
// that tender's amount unset.
func (s *HTMLScraper) fillAmounts(ctx context.Context, tenders []model.Tender) {
	for i := range tenders {
		t := &tenders[i]
		if t.DetailURL == "" {
			continue
		}
		if err := s.opts.DetailPacer.Wait(ctx); err != nil {
			return
		}

		doc, err := s.fetchDocument(ctx, t.DetailURL)
		if err != nil {
			zap.L().Debug("tenders: detail page failed",
				zap.String("tender", t.Number),
				zap.Error(err),
			)
			continue
		}
		if amount, ok := parseDetailAmount(doc); ok {
			t.Amount = &amount
		}
	}
}

func (s *HTMLScraper) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PageTimeout)
	defer cancel()

	body, err := s.fetcher.Download(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "tenders: fetch %s", rawURL)
	}
	defer body.Close() //nolint:errcheck

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, eris.Wrap(err, "tenders: parse document")
	}
	return doc, nil
}

func pageURL(listing string, page int) string {
	u, err := url.Parse(listing)
	if err != nil {
		return listing
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// column identifies a listing column by its header text.
type column int

const (
	colNumber column = iota
	colTitle
	colType
	colOpening
	colStatus
	colUnit
)

var headerPrefixes = []struct {
	prefix string
	col    column
}{
	{"numero", colNumber},
	{"nro", colNumber},
	{"fecha de apertura", colOpening},
	{"apertura", colOpening},
	{"nombre", colTitle},
	{"titulo", colTitle},
	{"objeto", colTitle},
	{"tipo", colType},
	{"procedimiento", colType},
	{"estado", colStatus},
	{"unidad", colUnit},
	{"reparticion", colUnit},
	{"servicio administrativo", colUnit},
}

// parseListing reads the first table whose header names a number and an
// opening date column.
func parseListing(doc *goquery.Document, base string) ([]model.Tender, error) {
	var (
		cols  map[column]int
		table *goquery.Selection
	)
	doc.Find("table").EachWithBreak(func(_ int, tbl *goquery.Selection) bool {
		c := headerColumns(tbl)
		_, hasNumber := c[colNumber]
		_, hasOpening := c[colOpening]
		if hasNumber && hasOpening {
			cols, table = c, tbl
			return false
		}
		return true
	})
	if table == nil {
		return nil, eris.New("tenders: no listing table")
	}

	baseURL, _ := url.Parse(base)
	var out []model.Tender
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		cell := func(c column) string {
			i, ok := cols[c]
			if !ok || i >= cells.Length() {
				return ""
			}
			return cleanText(cells.Eq(i).Text())
		}

		t := model.Tender{
			Number:      cell(colNumber),
			Title:       cell(colTitle),
			Type:        cell(colType),
			OpeningDate: cell(colOpening),
			Status:      cell(colStatus),
			Unit:        cell(colUnit),
		}
		if t.Number == "" {
			return
		}
		if href, ok := tr.Find("a[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			t.DetailURL = resolve(baseURL, href)
		}
		out = append(out, t)
	})
	return out, nil
}

func headerColumns(tbl *goquery.Selection) map[column]int {
	cols := make(map[column]int)
	tbl.Find("tr").First().Find("th, td").Each(func(i int, th *goquery.Selection) {
		h := foldHeader(th.Text())
		for _, hp := range headerPrefixes {
			if strings.HasPrefix(h, hp.prefix) {
				if _, taken := cols[hp.col]; !taken {
					cols[hp.col] = i
				}
				return
			}
		}
	})
	return cols
}

// parseDetailAmount finds an element labeled "Monto" and parses the value
// that follows it.
func parseDetailAmount(doc *goquery.Document) (float64, bool) {
	var (
		amount float64
		found  bool
	)
	doc.Find("th, td, dt, label, span, strong, b").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		label := foldHeader(sel.Text())
		if !strings.HasPrefix(label, "monto") || len(label) > 40 {
			return true
		}
		value := cleanText(sel.Next().Text())
		if value == "" {
			// Label and value in the same element: "Monto: $ 1.000,00".
			value = cleanText(sel.Text())
		}
		if v, ok := parseAmount(value); ok {
			amount, found = v, true
			return false
		}
		return true
	})
	return amount, found
}

func parseAmount(s string) (float64, bool) {
	if v, ok := classify.MaxAmount(classify.ParseAmounts(s)); ok {
		return v, true
	}
	// Some detail pages omit the currency marker.
	if _, after, ok := strings.Cut(s, ":"); ok {
		s = after
	}
	return classify.MaxAmount(classify.ParseAmounts("$" + strings.TrimSpace(s)))
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// foldHeader lowercases s and strips accents so "Número" matches "numero".
func foldHeader(s string) string {
	s = norm.NFD.String(strings.ToLower(cleanText(s)))
	var b strings.Builder
	for _, r := range s {
		if r >= 0x300 && r <= 0x36f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

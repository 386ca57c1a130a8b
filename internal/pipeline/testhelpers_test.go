package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boletin-cli/internal/aggregate"
	"github.com/sells-group/boletin-cli/internal/bulletin"
	"github.com/sells-group/boletin-cli/internal/classify"
	"github.com/sells-group/boletin-cli/internal/dataset"
	"github.com/sells-group/boletin-cli/internal/document"
	"github.com/sells-group/boletin-cli/internal/model"
	"github.com/sells-group/boletin-cli/internal/summarize"
)

const testDate = "2026-03-02"

// --- Index ---

type fakeIndex struct {
	idx *bulletin.Index
	err error
}

func (f *fakeIndex) Fetch(context.Context) (*bulletin.Index, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.idx, nil
}

func makeIndex(urls ...string) *bulletin.Index {
	norms := make([]model.Norm, len(urls))
	for i, u := range urls {
		norms[i] = model.Norm{
			URL:          u,
			Title:        fmt.Sprintf("Resolución %d/2026", i+1),
			Summary:      fmt.Sprintf("Sumario de la norma %d", i+1),
			Organization: "Ministerio de Hacienda",
			Outcome:      model.Outcome{Status: model.OutcomeUnprocessed},
		}
	}
	return &bulletin.Index{Date: testDate, DisplayDate: "02/03/2026", Number: "7100", Norms: norms}
}

func docURL(i int) string { return fmt.Sprintf("https://documentos.example/norma-%02d.pdf", i) }

// --- Documents ---

type fakeDocs struct {
	mu    sync.Mutex
	texts map[string]string
	errs  map[string]error
	calls map[string]int
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{texts: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeDocs) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	if text, ok := f.texts[url]; ok {
		return text, nil
	}
	return "", &document.Error{Kind: document.KindHTTPStatus, URL: url, StatusCode: 404}
}

func (f *fakeDocs) amount(url string, amount string) {
	f.texts[url] = "Apruébase el gasto por la suma de $ " + amount + " destinado a insumos."
}

func (f *fakeDocs) plain(url string) {
	f.texts[url] = "Desígnase al agente en la planta transitoria."
}

func (f *fakeDocs) fail(url string, kind document.Kind) {
	f.errs[url] = &document.Error{Kind: kind, URL: url}
}

func (f *fakeDocs) heal(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, url)
}

func (f *fakeDocs) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// --- Tenders ---

type scrapeResult struct {
	tenders []model.Tender
	ok      bool
}

type fakeScraper struct {
	mu      sync.Mutex
	results []scrapeResult
	calls   int
}

func (f *fakeScraper) Scrape(context.Context, string) ([]model.Tender, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	if i < 0 {
		return nil, false
	}
	r := f.results[i]
	return r.tenders, r.ok
}

func tendersOK(numbers ...string) scrapeResult {
	out := make([]model.Tender, len(numbers))
	for i, n := range numbers {
		out[i] = model.Tender{Number: n, Title: "Adquisición " + n, Type: "Licitación Pública"}
	}
	return scrapeResult{tenders: out, ok: true}
}

// --- Summaries ---

type fakeAdapter struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeAdapter) Summarize(_ context.Context, prompt, _ string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", false
	}
	return fmt.Sprintf("Resumen %d.", len(prompt)), true
}

// --- Ledger ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) CreateRun(ctx context.Context, date string) (*model.Run, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockLedger) RecordStage(ctx context.Context, runID string, rep model.StageReport) error {
	return m.Called(ctx, runID, rep).Error(0)
}

func (m *mockLedger) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	return m.Called(ctx, runID, status, errMsg).Error(0)
}

// --- Harness ---

type harness struct {
	t       *testing.T
	store   *dataset.Store
	index   *fakeIndex
	docs    *fakeDocs
	scraper *fakeScraper
	adapter *fakeAdapter
	ledger  Ledger
	opts    Options
}

func newHarness(t *testing.T, idx *bulletin.Index) *harness {
	t.Helper()
	return &harness{
		t:       t,
		store:   dataset.NewStore(t.TempDir()),
		index:   &fakeIndex{idx: idx},
		docs:    newFakeDocs(),
		scraper: &fakeScraper{results: []scrapeResult{tendersOK("401-0001-LPU26")}},
		adapter: &fakeAdapter{},
		opts:    Options{FetchConcurrency: 4, SummarizeConcurrency: 2},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return New(Deps{
		Index:      h.index,
		Store:      h.store,
		Documents:  h.docs,
		Classifier: classify.NewClassifier(classify.DefaultExcerptChars),
		Aggregator: aggregate.New(aggregate.DefaultNonExpenditureCap),
		Tenders:    h.scraper,
		Summarizer: summarize.NewSummarizer(h.adapter, summarize.DefaultPrompts(), nil, 40),
		Ledger:     h.ledger,
	}, h.opts)
}

func (h *harness) run() *RunResult {
	h.t.Helper()
	res, err := h.orchestrator().Run(context.Background())
	require.NoError(h.t, err)
	return res
}

func (h *harness) dataset() *model.DailyDataset {
	h.t.Helper()
	ds, err := h.store.LoadDataset(testDate)
	require.NoError(h.t, err)
	require.NotNil(h.t, ds)
	return ds
}

func (h *harness) pending() *model.PendingState {
	h.t.Helper()
	p, err := h.store.LoadPending(testDate)
	require.NoError(h.t, err)
	return p
}

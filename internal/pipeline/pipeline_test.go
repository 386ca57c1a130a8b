package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boletin-cli/internal/aggregate"
	"github.com/sells-group/boletin-cli/internal/classify"
	"github.com/sells-group/boletin-cli/internal/document"
	"github.com/sells-group/boletin-cli/internal/model"
	"github.com/sells-group/boletin-cli/internal/summarize"
)

func TestRun_FirstRunCompletes(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1), docURL(2), docURL(3), docURL(4)))
	h.docs.amount(docURL(1), "1.500.000,00")
	h.docs.amount(docURL(2), "250.000.000")
	h.docs.plain(docURL(3))
	h.docs.plain(docURL(4))

	res := h.run()

	assert.Equal(t, model.RunStatusComplete, res.Status)
	assert.Nil(t, res.Pending)
	assert.Nil(t, h.pending())

	ds := h.dataset()
	require.Len(t, ds.Expenditures, 2)
	assert.Equal(t, docURL(2), ds.Expenditures[0].URL)
	assert.InDelta(t, 250_000_000, ds.Expenditures[0].Outcome.Amount, 1e-6)
	assert.Len(t, ds.NonExpenditures, 2)
	assert.Equal(t, 4, ds.ClassifiedCount())
	assert.Equal(t, []string{"Ministerio de Hacienda"}, ds.Organizations)
	require.Len(t, ds.Tenders, 1)
	assert.True(t, ds.Tenders[0].SummaryAttempted)

	for _, n := range append(ds.Expenditures, ds.NonExpenditures...) {
		assert.True(t, n.SummaryAttempted, n.URL)
		assert.NotEmpty(t, n.ShortSummary, n.URL)
	}
	for _, n := range ds.Expenditures {
		assert.NotEmpty(t, n.LongSummary, n.URL)
	}
	for _, n := range ds.NonExpenditures {
		assert.Empty(t, n.LongSummary, n.URL)
	}

	norms, ok := res.Stage(model.StageNorms)
	require.True(t, ok)
	assert.Equal(t, 4, norms.Attempted)
	assert.Equal(t, 4, norms.Succeeded)
	assert.True(t, norms.Complete)
}

func TestRun_SecondRunIsByteIdenticalNoOp(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1), docURL(2), docURL(3)))
	h.docs.amount(docURL(1), "10.000")
	h.docs.amount(docURL(2), "20.000")
	h.docs.plain(docURL(3))

	first := h.run()
	require.Equal(t, model.RunStatusComplete, first.Status)

	before, err := os.ReadFile(h.store.DatasetPath(testDate))
	require.NoError(t, err)
	fetches, summaries, scrapes := h.docs.total(), h.adapter.calls, h.scraper.calls

	second := h.run()

	assert.True(t, second.Skipped)
	assert.Equal(t, model.RunStatusSkipped, second.Status)
	after, err := os.ReadFile(h.store.DatasetPath(testDate))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, fetches, h.docs.total())
	assert.Equal(t, summaries, h.adapter.calls)
	assert.Equal(t, scrapes, h.scraper.calls)
}

func TestRun_ResumesThreePendingIntoTenClassified(t *testing.T) {
	urls := make([]string, 13)
	for i := range urls {
		urls[i] = docURL(i + 1)
	}
	h := newHarness(t, makeIndex(urls...))

	// Ten norms already classified by an earlier run; three left pending.
	ds := model.NewDailyDataset(testDate, "02/03/2026", "7100", 13)
	for i := 1; i <= 10; i++ {
		n := makeIndex(urls...).Norms[i-1]
		n.Outcome = model.Outcome{Status: model.OutcomeNonExpenditure}
		n.ShortSummary = "ya resumida"
		n.SummaryAttempted = true
		ds.NonExpenditures = append(ds.NonExpenditures, n)
	}
	ds.Tenders = []model.Tender{{Number: "T-1", Summary: "ok", SummaryAttempted: true}}
	require.NoError(t, h.store.SaveDataset(ds))

	pending := &model.PendingState{Norms: makeIndex(urls...).Norms[10:], SummariesNeeded: true}
	require.NoError(t, h.store.SavePending(testDate, pending))

	h.docs.amount(urls[10], "5.000")
	h.docs.plain(urls[11])
	h.docs.fail(urls[12], document.KindTimeout)

	res := h.run()

	assert.Equal(t, model.RunStatusPartial, res.Status)
	got := h.dataset()
	assert.Equal(t, 12, got.ClassifiedCount())

	p := h.pending()
	require.NotNil(t, p)
	require.Len(t, p.Norms, 1)
	assert.Equal(t, urls[12], p.Norms[0].URL)
	assert.Equal(t, model.OutcomeFailed, p.Norms[0].Outcome.Status)
	assert.Equal(t, "timeout", p.Norms[0].Outcome.Reason)
	assert.True(t, p.SummariesNeeded)
	assert.False(t, p.TendersNeeded)

	// Already classified norms are never fetched again.
	for _, u := range urls[:10] {
		assert.Zero(t, h.docs.calls[u], u)
	}
}

func TestRun_PendingShrinksMonotonically(t *testing.T) {
	urls := []string{docURL(1), docURL(2), docURL(3), docURL(4), docURL(5)}
	h := newHarness(t, makeIndex(urls...))
	h.docs.amount(urls[0], "1.000")
	for _, u := range urls[1:] {
		h.docs.fail(u, document.KindTransport)
	}

	sizes := []int{}
	for i := 1; i < len(urls); i++ {
		h.run()
		p := h.pending()
		require.NotNil(t, p)
		sizes = append(sizes, len(p.Norms))
		h.docs.heal(urls[i])
		h.docs.plain(urls[i])
	}
	res := h.run()

	assert.Equal(t, []int{4, 3, 2, 1}, sizes)
	assert.Equal(t, model.RunStatusComplete, res.Status)
	assert.Nil(t, h.pending())
	assert.Equal(t, 5, h.dataset().ClassifiedCount())

	// Each norm is fetched until it succeeds, never after.
	assert.Equal(t, 1, h.docs.calls[urls[0]])
	assert.Equal(t, 2, h.docs.calls[urls[1]])
	assert.Equal(t, 5, h.docs.calls[urls[4]])
}

func TestRun_ExpendituresStaySortedAcrossRuns(t *testing.T) {
	urls := []string{docURL(1), docURL(2), docURL(3), docURL(4), docURL(5)}
	h := newHarness(t, makeIndex(urls...))
	h.docs.amount(urls[0], "300")
	h.docs.amount(urls[1], "100")
	h.docs.fail(urls[2], document.KindTransport)
	h.docs.fail(urls[3], document.KindTransport)
	h.docs.amount(urls[4], "100")

	h.run()
	h.docs.heal(urls[2])
	h.docs.heal(urls[3])
	h.docs.amount(urls[2], "900")
	h.docs.amount(urls[3], "200")
	h.run()

	ds := h.dataset()
	require.Len(t, ds.Expenditures, 5)
	for i := 1; i < len(ds.Expenditures); i++ {
		prev, cur := ds.Expenditures[i-1], ds.Expenditures[i]
		assert.GreaterOrEqual(t, prev.Outcome.Amount, cur.Outcome.Amount)
		if prev.Outcome.Amount == cur.Outcome.Amount {
			assert.Less(t, prev.URL, cur.URL)
		}
	}
	assert.Equal(t, urls[2], ds.Expenditures[0].URL)
}

func TestRun_EmptyTendersKeepFlag(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1)))
	h.docs.plain(docURL(1))
	h.scraper.results = []scrapeResult{{tenders: []model.Tender{}, ok: true}, tendersOK("401-0002-LPU26")}

	res := h.run()

	assert.Equal(t, model.RunStatusPartial, res.Status)
	p := h.pending()
	require.NotNil(t, p)
	assert.True(t, p.TendersNeeded)
	assert.Empty(t, p.Norms)
	assert.False(t, p.SummariesNeeded)
	assert.Empty(t, h.dataset().Tenders)

	tenders, ok := res.Stage(model.StageTenders)
	require.True(t, ok)
	assert.False(t, tenders.Complete)

	res = h.run()

	assert.Equal(t, model.RunStatusComplete, res.Status)
	assert.Nil(t, h.pending())
	ds := h.dataset()
	require.Len(t, ds.Tenders, 1)
	assert.True(t, ds.Tenders[0].SummaryAttempted)
	assert.NotEmpty(t, ds.Tenders[0].Summary)
}

func TestRun_TenderScrapeFailureKeepsFlag(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1)))
	h.docs.plain(docURL(1))
	h.scraper.results = []scrapeResult{{ok: false}}

	res := h.run()

	assert.Equal(t, model.RunStatusPartial, res.Status)
	rep, ok := res.Stage(model.StageTenders)
	require.True(t, ok)
	assert.Equal(t, 1, rep.Failed)
	assert.True(t, h.pending().TendersNeeded)
}

func TestRun_SummaryFailureFallsBackAndCounts(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1), docURL(2)))
	h.index.idx.Norms[0].Summary = strings.Repeat("Apruébase la contratación del servicio ", 5)
	h.docs.amount(docURL(1), "75.000")
	h.docs.plain(docURL(2))
	h.adapter.fail = true

	res := h.run()

	assert.Equal(t, model.RunStatusComplete, res.Status)
	assert.Nil(t, h.pending())

	ds := h.dataset()
	require.Len(t, ds.Expenditures, 1)
	n := ds.Expenditures[0]
	assert.True(t, n.SummaryAttempted)
	assert.True(t, strings.HasPrefix(n.ShortSummary, "Apruébase la contratación"))
	assert.True(t, strings.HasSuffix(n.ShortSummary, "…"))
	assert.NotEmpty(t, n.LongSummary)

	rep, ok := res.Stage(model.StageSummaries)
	require.True(t, ok)
	assert.Equal(t, 3, rep.Attempted)
	assert.Equal(t, 3, rep.Failed)
	assert.True(t, rep.Complete)

	// Fallback units are never summarized again.
	calls := h.adapter.calls
	h.run()
	assert.Equal(t, calls, h.adapter.calls)
}

func TestRun_IndexFailureTouchesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.index.err = errors.New("index unavailable")
	ledger := new(mockLedger)
	ledger.On("CreateRun", mock.Anything, "").Return(&model.Run{ID: "run-1"}, nil)
	ledger.On("FinishRun", mock.Anything, "run-1", model.RunStatusFailed, "index unavailable").Return(nil)
	h.ledger = ledger

	res, err := h.orchestrator().Run(context.Background())

	require.Error(t, err)
	assert.Nil(t, res)
	entries, err := os.ReadDir(h.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	ledger.AssertExpectations(t)
}

func TestRun_DropsPendingNormsAlreadyRecorded(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1), docURL(2)))

	ds := model.NewDailyDataset(testDate, "02/03/2026", "7100", 2)
	recorded := h.index.idx.Norms[0]
	recorded.Outcome = model.Outcome{Status: model.OutcomeNonExpenditure}
	ds.NonExpenditures = []model.Norm{recorded}
	require.NoError(t, h.store.SaveDataset(ds))
	require.NoError(t, h.store.SavePending(testDate, &model.PendingState{
		Norms:           h.index.idx.Norms,
		TendersNeeded:   true,
		SummariesNeeded: true,
	}))
	h.docs.plain(docURL(2))

	res := h.run()

	assert.Equal(t, model.RunStatusComplete, res.Status)
	assert.Zero(t, h.docs.calls[docURL(1)])
	assert.Equal(t, 2, h.dataset().ClassifiedCount())
}

func TestRun_CompletedDateWithoutTendersReopens(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1)))
	ds := model.NewDailyDataset(testDate, "02/03/2026", "7100", 1)
	n := h.index.idx.Norms[0]
	n.Outcome = model.Outcome{Status: model.OutcomeNonExpenditure}
	n.SummaryAttempted = true
	ds.NonExpenditures = []model.Norm{n}
	require.NoError(t, h.store.SaveDataset(ds))

	res := h.run()

	assert.Equal(t, model.RunStatusComplete, res.Status)
	assert.Len(t, h.dataset().Tenders, 1)
	assert.Zero(t, h.docs.total())
}

func TestRun_ForceReopensCompletedDate(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1)))
	h.docs.plain(docURL(1))
	h.scraper.results = []scrapeResult{tendersOK("A"), tendersOK("A", "B")}
	h.run()

	h.opts.Force = true
	res := h.run()

	assert.False(t, res.Skipped)
	assert.Equal(t, model.RunStatusComplete, res.Status)
	ds := h.dataset()
	require.Len(t, ds.Tenders, 2)
	assert.Equal(t, 1, h.docs.total())
	for _, tn := range ds.Tenders {
		assert.True(t, tn.SummaryAttempted, tn.Number)
	}
}

func TestRun_NonExpenditureOverflow(t *testing.T) {
	urls := []string{docURL(1), docURL(2), docURL(3)}
	h := newHarness(t, makeIndex(urls...))
	for _, u := range urls {
		h.docs.plain(u)
	}
	o := New(Deps{
		Index:      h.index,
		Store:      h.store,
		Documents:  h.docs,
		Classifier: classify.NewClassifier(0),
		Aggregator: aggregate.New(1),
		Tenders:    h.scraper,
		Summarizer: summarize.NewSummarizer(h.adapter, summarize.DefaultPrompts(), nil, 0),
	}, h.opts)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusComplete, res.Status)
	ds := h.dataset()
	assert.Len(t, ds.NonExpenditures, 1)
	assert.Equal(t, []string{docURL(2), docURL(3)}, ds.OverflowURLs)
	assert.Equal(t, 3, ds.ClassifiedCount())
}

func TestRun_RecordsLedger(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1)))
	h.docs.plain(docURL(1))
	ledger := new(mockLedger)
	ledger.On("CreateRun", mock.Anything, testDate).Return(&model.Run{ID: "run-7"}, nil)
	ledger.On("RecordStage", mock.Anything, "run-7", mock.AnythingOfType("model.StageReport")).Return(nil).Times(3)
	ledger.On("FinishRun", mock.Anything, "run-7", model.RunStatusComplete, "").Return(nil)
	h.ledger = ledger

	res := h.run()

	assert.Equal(t, "run-7", res.RunID)
	ledger.AssertExpectations(t)
}

func TestRun_LedgerFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1)))
	h.docs.plain(docURL(1))
	ledger := new(mockLedger)
	ledger.On("CreateRun", mock.Anything, testDate).Return(nil, errors.New("db down"))
	h.ledger = ledger

	res := h.run()

	assert.Equal(t, model.RunStatusComplete, res.Status)
	assert.Empty(t, res.RunID)
	ledger.AssertNotCalled(t, "RecordStage", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_CancelledContextSavesProgress(t *testing.T) {
	h := newHarness(t, makeIndex(docURL(1), docURL(2)))
	h.docs.plain(docURL(1))
	h.docs.plain(docURL(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.orchestrator().Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, res.Status)
	p := h.pending()
	require.NotNil(t, p)
	assert.Len(t, p.Norms, 2)
	assert.True(t, p.TendersNeeded)
	assert.Zero(t, h.docs.total())
}

func TestDropRecorded(t *testing.T) {
	ds := model.NewDailyDataset(testDate, "", "", 3)
	ds.OverflowURLs = []string{"a"}
	p := &model.PendingState{Norms: []model.Norm{{URL: "a"}, {URL: "b"}, {URL: "b"}, {URL: "c"}}}

	dropped := dropRecorded(ds, p)

	assert.Equal(t, 2, dropped)
	require.Len(t, p.Norms, 2)
	assert.Equal(t, "b", p.Norms[0].URL)
	assert.Equal(t, "c", p.Norms[1].URL)
}

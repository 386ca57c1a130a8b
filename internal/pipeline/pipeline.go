// Package pipeline runs the daily bulletin stages (norm extraction, tender
// scraping and summarization) and persists their progress so an
// interrupted or partially failed run resumes where it stopped.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/aggregate"
	"github.com/sells-group/boletin-cli/internal/bulletin"
	"github.com/sells-group/boletin-cli/internal/classify"
	"github.com/sells-group/boletin-cli/internal/document"
	"github.com/sells-group/boletin-cli/internal/model"
	"github.com/sells-group/boletin-cli/internal/tenders"
)

// IndexSource returns the index of the current bulletin.
type IndexSource interface {
	Fetch(ctx context.Context) (*bulletin.Index, error)
}

// Store persists datasets and their pending sidecars.
type Store interface {
	LoadDataset(date string) (*model.DailyDataset, error)
	SaveDataset(ds *model.DailyDataset) error
	LoadPending(date string) (*model.PendingState, error)
	SavePending(date string, p *model.PendingState) error
	ClearPending(date string) error
}

// UnitSummarizer produces the text for one summarizable unit. It must only
// read ds.
type UnitSummarizer interface {
	Unit(ctx context.Context, ds *model.DailyDataset, u aggregate.Unit) (aggregate.SummaryResult, bool)
}

// Ledger records run history. Ledger failures never affect a run.
type Ledger interface {
	CreateRun(ctx context.Context, date string) (*model.Run, error)
	RecordStage(ctx context.Context, runID string, rep model.StageReport) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
}

// Deps are the collaborators of an Orchestrator. Ledger may be nil.
type Deps struct {
	Index      IndexSource
	Store      Store
	Documents  document.Fetcher
	Classifier classify.Classifier
	Aggregator *aggregate.Aggregator
	Tenders    tenders.Scraper
	Summarizer UnitSummarizer
	Ledger     Ledger
}

// Options tunes an Orchestrator.
type Options struct {
	// FetchConcurrency sizes the document pool. Defaults to 8.
	FetchConcurrency int
	// SummarizeConcurrency sizes the AI pool. Defaults to 3.
	SummarizeConcurrency int
	// ItemTimeout bounds each pool item. Zero leaves it to the collaborators.
	ItemTimeout time.Duration
	// Force re-opens a completed date to retry its tenders.
	Force bool
}

// RunResult describes one invocation.
type RunResult struct {
	RunID   string
	Date    string
	Status  model.RunStatus
	Skipped bool
	Stages  []model.StageReport
	// Pending is the sidecar left behind, nil when the date is complete.
	Pending *model.PendingState
	Dataset *model.DailyDataset
}

// Stage returns the report of stage s, if it ran.
func (r *RunResult) Stage(s model.Stage) (model.StageReport, bool) {
	for _, rep := range r.Stages {
		if rep.Stage == s {
			return rep, true
		}
	}
	return model.StageReport{}, false
}

// Orchestrator drives a daily run.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 8
	}
	if opts.SummarizeConcurrency <= 0 {
		opts.SummarizeConcurrency = 3
	}
	if deps.Aggregator == nil {
		deps.Aggregator = aggregate.New(aggregate.DefaultNonExpenditureCap)
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// Run executes every outstanding stage for the current bulletin date. Only
// an index fetch failure or a storage error is returned; partial progress
// is a normal result with Status partial.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	idx, err := o.deps.Index.Fetch(ctx)
	if err != nil {
		o.recordFailure(ctx, "", err)
		return nil, eris.Wrap(err, "pipeline: fetch index")
	}

	log := zap.L().With(zap.String("date", idx.Date), zap.String("numero", idx.Number))
	result := &RunResult{Date: idx.Date, Status: model.RunStatusRunning}

	if o.deps.Ledger != nil {
		run, lerr := o.deps.Ledger.CreateRun(ctx, idx.Date)
		if lerr != nil {
			log.Warn("pipeline: failed to create run record", zap.Error(lerr))
		} else {
			result.RunID = run.ID
		}
	}

	err = o.run(ctx, idx, result, log)

	switch {
	case err != nil:
		result.Status = model.RunStatusFailed
	case result.Skipped:
		result.Status = model.RunStatusSkipped
	case result.Pending == nil:
		result.Status = model.RunStatusComplete
	default:
		result.Status = model.RunStatusPartial
	}
	o.finishRun(ctx, result, err, log)

	if err != nil {
		log.Error("pipeline: run failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return result, err
	}
	log.Info("pipeline: run finished",
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, idx *bulletin.Index, result *RunResult, log *zap.Logger) error {
	ds, pending, err := o.load(idx, log)
	if err != nil {
		return err
	}
	result.Dataset = ds
	if pending == nil {
		result.Skipped = true
		log.Info("pipeline: date already complete, nothing to do")
		return nil
	}

	if dropped := dropRecorded(ds, pending); dropped > 0 {
		log.Info("pipeline: dropped pending norms already recorded", zap.Int("dropped", dropped))
	}

	if len(pending.Norms) > 0 && ctx.Err() == nil {
		rep := o.normStage(ctx, ds, pending, log)
		if err := o.persist(ds, pending); err != nil {
			return err
		}
		o.recordStage(ctx, result, rep, log)
	}

	if pending.TendersNeeded && ctx.Err() == nil {
		rep := o.tenderStage(ctx, ds, pending, log)
		if err := o.persist(ds, pending); err != nil {
			return err
		}
		o.recordStage(ctx, result, rep, log)
	}

	if pending.SummariesNeeded && ctx.Err() == nil {
		rep := o.summaryStage(ctx, ds, pending, log)
		if err := o.persist(ds, pending); err != nil {
			return err
		}
		o.recordStage(ctx, result, rep, log)
	}

	if ctx.Err() != nil {
		log.Warn("pipeline: interrupted, progress saved", zap.Error(ctx.Err()))
	}
	return o.finalize(idx, ds, pending, result, log)
}

// load reads the dataset and sidecar for the index date, creating both on
// the first run. A nil pending state means the date is complete.
func (o *Orchestrator) load(idx *bulletin.Index, log *zap.Logger) (*model.DailyDataset, *model.PendingState, error) {
	ds, err := o.deps.Store.LoadDataset(idx.Date)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: load dataset")
	}
	pending, err := o.deps.Store.LoadPending(idx.Date)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: load pending")
	}

	switch {
	case ds == nil:
		ds = model.NewDailyDataset(idx.Date, idx.DisplayDate, idx.Number, len(idx.Norms))
		norms := make([]model.Norm, len(idx.Norms))
		copy(norms, idx.Norms)
		pending = &model.PendingState{
			Norms:           norms,
			TendersNeeded:   true,
			SummariesNeeded: true,
		}
		log.Info("pipeline: new date", zap.Int("norms", len(norms)))
		if err := o.persist(ds, pending); err != nil {
			return nil, nil, err
		}

	case pending != nil:
		log.Info("pipeline: resuming",
			zap.Int("pending_norms", len(pending.Norms)),
			zap.Bool("tenders_needed", pending.TendersNeeded),
			zap.Bool("summaries_needed", pending.SummariesNeeded),
		)

	case len(ds.Tenders) == 0 || o.opts.Force:
		pending = &model.PendingState{TendersNeeded: true}
		log.Info("pipeline: re-opening date for tenders", zap.Bool("force", o.opts.Force))
	}

	return ds, pending, nil
}

func (o *Orchestrator) persist(ds *model.DailyDataset, pending *model.PendingState) error {
	if err := o.deps.Store.SaveDataset(ds); err != nil {
		return eris.Wrap(err, "pipeline: save dataset")
	}
	if err := o.deps.Store.SavePending(ds.Date, pending); err != nil {
		return eris.Wrap(err, "pipeline: save pending")
	}
	return nil
}

// finalize clears the sidecar when every stage is done and the completeness
// invariant holds; otherwise it leaves the sidecar in place.
func (o *Orchestrator) finalize(idx *bulletin.Index, ds *model.DailyDataset, pending *model.PendingState, result *RunResult, log *zap.Logger) error {
	if pending.Done() && complete(ds) {
		if err := o.deps.Store.ClearPending(ds.Date); err != nil {
			return eris.Wrap(err, "pipeline: clear pending")
		}
		result.Pending = nil
		return nil
	}

	if pending.Done() {
		// Every flag is clear but the dataset disagrees: rebuild the flags
		// from what is missing so the next run picks it up.
		pending.Norms = unrecorded(ds, idx.Norms)
		pending.TendersNeeded = len(ds.Tenders) == 0
		pending.SummariesNeeded = len(aggregate.PendingSummaries(ds)) > 0
		log.Warn("pipeline: completeness check failed, keeping sidecar",
			zap.Int("pending_norms", len(pending.Norms)),
			zap.Bool("tenders_needed", pending.TendersNeeded),
			zap.Bool("summaries_needed", pending.SummariesNeeded),
		)
	}
	if err := o.deps.Store.SavePending(ds.Date, pending); err != nil {
		return eris.Wrap(err, "pipeline: save pending")
	}
	result.Pending = pending
	return nil
}

// complete reports whether ds has every norm classified, tenders present
// and every unit summarized.
func complete(ds *model.DailyDataset) bool {
	return ds.ClassifiedCount() >= ds.TotalNorms &&
		len(ds.Tenders) > 0 &&
		len(aggregate.PendingSummaries(ds)) == 0
}

// dropRecorded removes pending norms whose URL already has an outcome, and
// repeated pending URLs, keeping order.
func dropRecorded(ds *model.DailyDataset, pending *model.PendingState) int {
	seen := aggregate.Recorded(ds)
	kept := pending.Norms[:0]
	for _, n := range pending.Norms {
		if _, ok := seen[n.URL]; ok {
			continue
		}
		seen[n.URL] = struct{}{}
		kept = append(kept, n)
	}
	dropped := len(pending.Norms) - len(kept)
	pending.Norms = kept
	return dropped
}

func unrecorded(ds *model.DailyDataset, norms []model.Norm) []model.Norm {
	seen := aggregate.Recorded(ds)
	var out []model.Norm
	for _, n := range norms {
		if _, ok := seen[n.URL]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func (o *Orchestrator) recordStage(ctx context.Context, result *RunResult, rep model.StageReport, log *zap.Logger) {
	result.Stages = append(result.Stages, rep)
	log.Info("pipeline: stage finished",
		zap.String("stage", string(rep.Stage)),
		zap.Int("attempted", rep.Attempted),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.Int("remaining", rep.Remaining),
		zap.Bool("complete", rep.Complete),
		zap.Duration("duration", rep.Duration),
	)
	if o.deps.Ledger == nil || result.RunID == "" {
		return
	}
	if err := o.deps.Ledger.RecordStage(context.WithoutCancel(ctx), result.RunID, rep); err != nil {
		log.Warn("pipeline: failed to record stage", zap.String("stage", string(rep.Stage)), zap.Error(err))
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, result *RunResult, runErr error, log *zap.Logger) {
	if o.deps.Ledger == nil || result.RunID == "" {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := o.deps.Ledger.FinishRun(context.WithoutCancel(ctx), result.RunID, result.Status, msg); err != nil {
		log.Warn("pipeline: failed to finish run record", zap.Error(err))
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, date string, runErr error) {
	if o.deps.Ledger == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	run, err := o.deps.Ledger.CreateRun(ctx, date)
	if err != nil {
		zap.L().Warn("pipeline: failed to create run record", zap.Error(err))
		return
	}
	if err := o.deps.Ledger.FinishRun(ctx, run.ID, model.RunStatusFailed, runErr.Error()); err != nil {
		zap.L().Warn("pipeline: failed to finish run record", zap.Error(err))
	}
}

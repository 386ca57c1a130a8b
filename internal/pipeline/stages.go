package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/aggregate"
	"github.com/sells-group/boletin-cli/internal/document"
	"github.com/sells-group/boletin-cli/internal/model"
	"github.com/sells-group/boletin-cli/internal/pool"
)

// normStage fetches and classifies every pending norm. Classified norms are
// merged into ds; the rest stay pending with a failed outcome. The pending
// list never grows.
func (o *Orchestrator) normStage(ctx context.Context, ds *model.DailyDataset, pending *model.PendingState, log *zap.Logger) model.StageReport {
	start := time.Now()
	log.Info("pipeline: norm stage starting", zap.Int("pending", len(pending.Norms)))

	batch := pool.Run(ctx, pool.Options{
		Name:          "documents",
		Size:          o.opts.FetchConcurrency,
		ItemTimeout:   o.opts.ItemTimeout,
		ProgressEvery: 25,
	}, pending.Norms, func(ctx context.Context, n model.Norm) (model.Norm, error) {
		text, err := o.deps.Documents.Fetch(ctx, n.URL)
		if err != nil {
			return n, err
		}
		n.Outcome = o.deps.Classifier.Classify(text)
		return n, nil
	})

	rep := model.StageReport{Stage: model.StageNorms, Attempted: len(pending.Norms)}
	var classified, remaining []model.Norm
	for _, r := range batch.Results {
		n := r.Item
		switch {
		case r.Err == nil && r.Value.Outcome.Classified():
			classified = append(classified, r.Value)
			continue
		case r.Err != nil && interrupted(ctx, r.Err):
			// Cut short by shutdown: keep the norm exactly as it was.
			rep.Skipped++
		case r.Err != nil:
			n.Outcome = model.Failed(document.Reason(r.Err))
			rep.Failed++
			log.Warn("pipeline: norm failed",
				zap.String("url", n.URL),
				zap.String("reason", n.Outcome.Reason),
			)
		default:
			n.Outcome = model.Failed(string(document.KindExtract))
			rep.Failed++
		}
		remaining = append(remaining, n)
	}

	merge := o.deps.Aggregator.Merge(ds, classified)
	rep.Succeeded = merge.Added()
	if merge.Duplicates > 0 {
		log.Error("pipeline: classified norms were already recorded", zap.Int("duplicates", merge.Duplicates))
	}

	pending.Norms = remaining
	rep.Remaining = len(remaining)
	rep.Complete = len(remaining) == 0
	rep.Duration = time.Since(start)
	return rep
}

// tenderStage scrapes the tenders for the dataset date. The stage completes
// only when the scraper succeeds with at least one tender.
func (o *Orchestrator) tenderStage(ctx context.Context, ds *model.DailyDataset, pending *model.PendingState, log *zap.Logger) model.StageReport {
	start := time.Now()
	rep := model.StageReport{Stage: model.StageTenders, Attempted: 1}

	found, ok := o.deps.Tenders.Scrape(ctx, ds.Date)
	switch {
	case !ok:
		rep.Failed = 1
		log.Warn("pipeline: tender scrape failed")
	case len(found) == 0:
		rep.Skipped = 1
		log.Info("pipeline: no tenders listed for date yet")
	default:
		aggregate.ApplyTenders(ds, found)
		rep.Succeeded = len(ds.Tenders)
		pending.TendersNeeded = false
		if len(aggregate.PendingSummaries(ds)) > 0 {
			pending.SummariesNeeded = true
		}
	}

	if pending.TendersNeeded {
		rep.Remaining = 1
	}
	rep.Complete = !pending.TendersNeeded
	rep.Duration = time.Since(start)
	return rep
}

type summaryOutcome struct {
	result aggregate.SummaryResult
	ok     bool
}

// summaryStage summarizes every unit never sent to the model. A unit the
// model could not summarize keeps its fallback text and still counts as
// attempted. The flag stays set while norms are pending, since they will
// bring new units.
func (o *Orchestrator) summaryStage(ctx context.Context, ds *model.DailyDataset, pending *model.PendingState, log *zap.Logger) model.StageReport {
	start := time.Now()
	units := aggregate.PendingSummaries(ds)
	log.Info("pipeline: summary stage starting", zap.Int("units", len(units)))

	batch := pool.Run(ctx, pool.Options{
		Name:          "summaries",
		Size:          o.opts.SummarizeConcurrency,
		ItemTimeout:   o.opts.ItemTimeout,
		ProgressEvery: 10,
	}, units, func(ctx context.Context, u aggregate.Unit) (summaryOutcome, error) {
		res, ok := o.deps.Summarizer.Unit(ctx, ds, u)
		return summaryOutcome{result: res, ok: ok}, nil
	})

	rep := model.StageReport{Stage: model.StageSummaries, Attempted: len(units)}
	results := make([]aggregate.SummaryResult, 0, len(units))
	for _, r := range batch.Results {
		switch {
		case r.Err != nil, !r.Value.ok && ctx.Err() != nil:
			// Left for the next run.
			rep.Skipped++
			continue
		case r.Value.ok:
			rep.Succeeded++
		default:
			rep.Failed++
		}
		results = append(results, r.Value.result)
	}
	aggregate.ApplySummaries(ds, results)

	left := len(aggregate.PendingSummaries(ds))
	pending.SummariesNeeded = left > 0 || len(pending.Norms) > 0
	rep.Remaining = left
	rep.Complete = left == 0
	rep.Duration = time.Since(start)
	if rep.Failed > 0 {
		log.Warn("pipeline: summaries fell back to source text", zap.Int("units", rep.Failed))
	}
	return rep
}

func interrupted(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

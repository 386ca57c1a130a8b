package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/aggregate"
	"github.com/sells-group/boletin-cli/internal/bulletin"
	"github.com/sells-group/boletin-cli/internal/classify"
	"github.com/sells-group/boletin-cli/internal/dataset"
	"github.com/sells-group/boletin-cli/internal/document"
	"github.com/sells-group/boletin-cli/internal/fetcher"
	"github.com/sells-group/boletin-cli/internal/ledger"
	"github.com/sells-group/boletin-cli/internal/ocr"
	"github.com/sells-group/boletin-cli/internal/pipeline"
	"github.com/sells-group/boletin-cli/internal/resilience"
	"github.com/sells-group/boletin-cli/internal/summarize"
	"github.com/sells-group/boletin-cli/internal/tenders"
	anthropicpkg "github.com/sells-group/boletin-cli/pkg/anthropic"
)

// pipelineEnv holds the store, ledger and orchestrator needed by the
// run and schedule commands.
type pipelineEnv struct {
	Store        *dataset.Store
	Ledger       ledger.Ledger
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Ledger != nil {
		_ = pe.Ledger.Close()
	}
}

func initStore() *dataset.Store {
	return dataset.NewStore(cfg.Storage.DataDir)
}

func initLedger(ctx context.Context) (ledger.Ledger, error) {
	l, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return nil, eris.Wrap(err, "open ledger")
	}
	return l, nil
}

// initPipeline validates the config for mode and wires every collaborator
// of the orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, force bool) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "init ocr")
	}

	hf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Bulletin.UserAgent,
		Timeout:    cfg.Fetch.Timeout(),
		MaxRetries: cfg.Fetch.MaxRetries,
	})

	docs := document.NewPDFFetcher(hf, extractor, document.Options{
		Timeout: cfg.Fetch.Timeout(),
		Pacer: resilience.NewPacer(
			time.Duration(cfg.Fetch.PaceMs)*time.Millisecond,
			time.Duration(cfg.Fetch.PaceJitterMs)*time.Millisecond,
		),
	})

	scraper := tenders.NewHTMLScraper(hf, tenders.Options{
		ListingURL:  cfg.Tenders.ListingURL,
		MaxPages:    cfg.Tenders.MaxPages,
		PageTimeout: time.Duration(cfg.Tenders.TimeoutSecs) * time.Second,
		DetailPacer: resilience.NewPacer(time.Duration(cfg.Tenders.DetailPaceMs)*time.Millisecond, 0),
	})

	summarizer, err := initSummarizer(docs)
	if err != nil {
		return nil, err
	}

	led, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}

	st := initStore()
	orch := pipeline.New(pipeline.Deps{
		Index:      bulletin.NewClient(hf, cfg.Bulletin.IndexURL),
		Store:      st,
		Documents:  docs,
		Classifier: classify.NewClassifier(cfg.Aggregate.ExcerptChars),
		Aggregator: aggregate.New(cfg.Aggregate.NonExpenditureCap),
		Tenders:    scraper,
		Summarizer: summarizer,
		Ledger:     led,
	}, pipeline.Options{
		FetchConcurrency:     cfg.Fetch.Concurrency,
		SummarizeConcurrency: cfg.Summarize.Concurrency,
		Force:                force,
	})

	return &pipelineEnv{Store: st, Ledger: led, Orchestrator: orch}, nil
}

// initSummarizer returns a summarizer backed by Anthropic when a key is
// configured. Without one every unit keeps its fallback text.
func initSummarizer(docs document.Fetcher) (*summarize.Summarizer, error) {
	prompts := summarize.DefaultPrompts()
	if cfg.Summarize.PromptsFile != "" {
		p, err := summarize.LoadPrompts(cfg.Summarize.PromptsFile)
		if err != nil {
			return nil, eris.Wrap(err, "load prompts")
		}
		prompts = p
	}

	var adapter summarize.Adapter = summarize.Disabled{}
	if cfg.Anthropic.Key != "" {
		adapter = summarize.NewAnthropicAdapter(anthropicpkg.NewClient(cfg.Anthropic.Key), summarize.AnthropicOptions{
			Model:          cfg.Anthropic.Model,
			MaxTokens:      int64(cfg.Summarize.MaxTokens),
			Temperature:    cfg.Summarize.Temperature,
			MaxPromptChars: cfg.Summarize.MaxPromptChars,
			Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:             "anthropic",
				FailureThreshold: cfg.Summarize.CircuitFailureThreshold,
				ResetTimeout:     time.Duration(cfg.Summarize.CircuitResetSecs) * time.Second,
			}),
		})
		zap.L().Info("summaries enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Warn("BOLETIN_ANTHROPIC_KEY not set, summaries fall back to source text")
	}

	return summarize.NewSummarizer(adapter, prompts, docs, cfg.Summarize.FallbackChars), nil
}

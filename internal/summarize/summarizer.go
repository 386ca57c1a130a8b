package summarize

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/aggregate"
	"github.com/sells-group/boletin-cli/internal/document"
	"github.com/sells-group/boletin-cli/internal/model"
)

// DefaultFallbackChars bounds the source text kept when the model fails.
const DefaultFallbackChars = 200

// Summarizer produces the text for one summarizable unit of a dataset.
type Summarizer struct {
	adapter       Adapter
	prompts       Prompts
	docs          document.Fetcher
	fallbackChars int
}

// NewSummarizer creates a Summarizer. docs fetches attachment text; when nil
// attachments are summarized from their name and owning norm only.
func NewSummarizer(adapter Adapter, prompts Prompts, docs document.Fetcher, fallbackChars int) *Summarizer {
	if adapter == nil {
		adapter = Disabled{}
	}
	if fallbackChars <= 0 {
		fallbackChars = DefaultFallbackChars
	}
	return &Summarizer{adapter: adapter, prompts: prompts, docs: docs, fallbackChars: fallbackChars}
}

// Unit summarizes u as found in ds. The returned result always carries a
// short text; ok is false when any part of it is a fallback. ds is only
// read, so units of the same dataset may be summarized concurrently.
func (s *Summarizer) Unit(ctx context.Context, ds *model.DailyDataset, u aggregate.Unit) (aggregate.SummaryResult, bool) {
	res := aggregate.SummaryResult{Unit: u}

	switch u.Kind {
	case aggregate.KindNorm:
		n := aggregate.FindNorm(ds, u.Key)
		if n == nil {
			return res, false
		}
		return s.norm(ctx, *n, res)

	case aggregate.KindAttachment:
		n := aggregate.FindNorm(ds, u.Key)
		if n == nil {
			return res, false
		}
		for _, a := range n.Attachments {
			if a.Name == u.Attachment {
				return s.attachment(ctx, *n, a, res)
			}
		}
		return res, false

	case aggregate.KindTender:
		t := aggregate.FindTender(ds, u.Key)
		if t == nil {
			return res, false
		}
		text, ok := s.adapter.Summarize(ctx, TenderPrompt(*t), s.prompts.Tender)
		if !ok {
			text = Fallback(t.Title, s.fallbackChars)
		}
		res.Short = text
		return res, ok
	}
	return res, false
}

func (s *Summarizer) norm(ctx context.Context, n model.Norm, res aggregate.SummaryResult) (aggregate.SummaryResult, bool) {
	prompt := NormPrompt(n)

	short, ok := s.adapter.Summarize(ctx, prompt, s.prompts.Short)
	if !ok {
		short = Fallback(firstNonEmpty(n.Summary, n.Title), s.fallbackChars)
	}
	res.Short = short

	if !n.IsExpenditure() {
		return res, ok
	}

	long, longOK := s.adapter.Summarize(ctx, prompt, s.prompts.Long)
	if !longOK {
		long = Fallback(firstNonEmpty(n.Outcome.Excerpt, n.Summary, n.Title), s.fallbackChars)
	}
	res.Long = long
	return res, ok && longOK
}

func (s *Summarizer) attachment(ctx context.Context, n model.Norm, a model.Attachment, res aggregate.SummaryResult) (aggregate.SummaryResult, bool) {
	var text string
	if s.docs != nil && a.URL != "" {
		t, err := s.docs.Fetch(ctx, a.URL)
		if err != nil {
			zap.L().Warn("summarize: attachment fetch failed",
				zap.String("url", a.URL),
				zap.String("reason", document.Reason(err)),
			)
		} else {
			text = t
		}
	}

	out, ok := s.adapter.Summarize(ctx, AttachmentPrompt(n, a, text), s.prompts.Attachment)
	if !ok {
		out = Fallback(firstNonEmpty(text, a.Name), s.fallbackChars)
	}
	res.Short = out
	return res, ok
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

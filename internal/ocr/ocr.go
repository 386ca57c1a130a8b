// Package ocr turns PDF bytes into plain text.
package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/config"
)

// DefaultMinTextChars is the shortest text a local extraction may return
// before it is treated as a scan without a text layer.
const DefaultMinTextChars = 80

// Extractor extracts text content from a PDF document.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// NewExtractor builds the extractor selected by cfg.Provider:
//
//	local    pdftotext only
//	mistral  Mistral OCR only
//	auto     pdftotext, then Mistral for scans (local only without a key)
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	local := NewPdfToText(cfg.PdfToTextPath, cfg.MaxPages)
	switch cfg.Provider {
	case "local", "":
		return local, nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	case "auto":
		if cfg.MistralKey == "" {
			zap.L().Warn("ocr: no mistral key, scanned norms will classify from their empty text layer")
			return local, nil
		}
		return &Fallback{
			Primary:      local,
			Secondary:    NewMistralOCR(cfg.MistralKey, cfg.MistralModel),
			MinTextChars: cfg.MinTextChars,
		}, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// Fallback runs Primary and switches to Secondary when Primary fails or
// returns less than MinTextChars of non-space text, which is what a
// scanned resolution looks like to pdftotext.
type Fallback struct {
	Primary      Extractor
	Secondary    Extractor
	MinTextChars int
}

// ExtractText implements Extractor.
func (f *Fallback) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	threshold := f.MinTextChars
	if threshold <= 0 {
		threshold = DefaultMinTextChars
	}

	text, err := f.Primary.ExtractText(ctx, pdf)
	if err == nil && textLen(text) >= threshold {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", eris.Wrap(ctx.Err(), "ocr: extraction cancelled")
	}

	zap.L().Debug("ocr: local text unusable, trying secondary",
		zap.Int("chars", textLen(text)),
		zap.Error(err),
	)
	scanned, serr := f.Secondary.ExtractText(ctx, pdf)
	if serr != nil {
		if err == nil {
			// Keep the thin local text rather than failing the norm.
			return text, nil
		}
		return "", eris.Wrap(serr, "ocr: both extractors failed")
	}
	return scanned, nil
}

func textLen(s string) int {
	n := 0
	for _, r := range s {
		if !strings.ContainsRune(" \t\r\n\f", r) {
			n++
		}
	}
	return n
}

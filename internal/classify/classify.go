package classify

import (
	"github.com/sells-group/boletin-cli/internal/model"
)

const (
	// DefaultExcerptChars is the number of runes kept from an expenditure's text.
	DefaultExcerptChars = 600
	minExcerptChars     = 600
	maxExcerptChars     = 800
)

// Classifier turns extracted document text into an extraction outcome.
type Classifier struct {
	excerptChars int
}

// NewClassifier creates a Classifier keeping excerptChars runes of text for
// expenditures. Values outside 600-800 are clamped.
func NewClassifier(excerptChars int) Classifier {
	switch {
	case excerptChars <= 0:
		excerptChars = DefaultExcerptChars
	case excerptChars < minExcerptChars:
		excerptChars = minExcerptChars
	case excerptChars > maxExcerptChars:
		excerptChars = maxExcerptChars
	}
	return Classifier{excerptChars: excerptChars}
}

// Classify returns an expenditure outcome (max amount, amount count, leading
// excerpt) when text holds at least one positive amount, and a
// non-expenditure outcome otherwise.
func (c Classifier) Classify(text string) model.Outcome {
	amounts := ParseAmounts(text)
	best, ok := MaxAmount(amounts)
	if !ok {
		return model.Outcome{Status: model.OutcomeNonExpenditure}
	}

	n := c.excerptChars
	if n == 0 {
		n = DefaultExcerptChars
	}

	return model.Outcome{
		Status:          model.OutcomeExpenditure,
		Amount:          best,
		AmountFormatted: model.FormatAmount(best),
		AmountCount:     len(amounts),
		Excerpt:         truncateRunes(text, n),
	}
}

// Classify uses a Classifier with the default excerpt length.
func Classify(text string) model.Outcome {
	return NewClassifier(DefaultExcerptChars).Classify(text)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

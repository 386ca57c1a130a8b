// Package classify detects monetary amounts in norm text and decides whether
// a norm is an expenditure.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// amountRe matches "$" followed by a dot-grouped integer part and an optional
// comma decimal part, e.g. "$1.234.567,89" or "$ 500". The separator after
// "$" may be any Unicode space; PDF text often carries U+00A0 there.
var amountRe = regexp.MustCompile(`\$[\s\p{Z}\x{0085}]?(\d{1,3}(?:\.\d{3})*(?:,\d{1,2})?)`)

// ParseAmounts returns every positive amount in text, in order of appearance.
// It performs no reduction; callers pick the value they need.
func ParseAmounts(text string) []float64 {
	if text == "" {
		return []float64{}
	}

	matches := amountRe.FindAllStringSubmatch(text, -1)
	amounts := make([]float64, 0, len(matches))
	for _, m := range matches {
		raw := strings.ReplaceAll(m[1], ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			continue
		}
		amounts = append(amounts, v)
	}
	return amounts
}

// MaxAmount returns the largest of amounts and whether there was any.
func MaxAmount(amounts []float64) (float64, bool) {
	if len(amounts) == 0 {
		return 0, false
	}
	best := amounts[0]
	for _, v := range amounts[1:] {
		if v > best {
			best = v
		}
	}
	return best, true
}

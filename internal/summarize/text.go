package summarize

import (
	"strings"
	"unicode/utf8"
)

// Fallback returns text trimmed to at most n runes, ending in an ellipsis
// when it was cut. It is what a unit keeps when summarization fails.
func Fallback(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	cut := strings.TrimSpace(truncateRunes(text, n-1))
	return cut + "…"
}

var framingMarkers = []string{"**💬 Response:**", "💬 Response:"}

var framingPrefixes = []string{"respuesta:", "resumen:", "response:", "summary:"}

// Clean strips the framing a model sometimes wraps around its answer:
// response markers, leading labels, markdown emphasis and wrapping quotes.
func Clean(raw string) string {
	s := raw
	for _, m := range framingMarkers {
		if i := strings.LastIndex(s, m); i >= 0 {
			s = s[i+len(m):]
		}
	}
	s = strings.TrimSpace(s)

	for {
		lower := strings.ToLower(s)
		trimmed := false
		for _, p := range framingPrefixes {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				trimmed = true
			}
		}
		if !trimmed {
			break
		}
	}

	s = strings.NewReplacer("**", "", "__", "").Replace(s)
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[:1], s[len(s)-1:]
		if (first == `"` && last == `"`) || (first == "'" && last == "'") {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		if strings.HasPrefix(s, "“") && strings.HasSuffix(s, "”") {
			s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "“"), "”"))
			continue
		}
		break
	}
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
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

package summarize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestFallback(t *testing.T) {
	assert.Equal(t, "corto", Fallback("corto", 200))
	assert.Equal(t, "con espacios", Fallback("  con \n espacios ", 200))

	long := strings.Repeat("á", 300)
	got := Fallback(long, 200)
	assert.Equal(t, 200, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.True(t, utf8.ValidString(got))
}

func TestFallback_TrimsBeforeEllipsis(t *testing.T) {
	got := Fallback("uno dos tres cuatro", 9)
	assert.Equal(t, "uno dos…", got)
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Aprueba un gasto.", "Aprueba un gasto."},
		{"response marker", "**💬 Response:**\nAprueba un gasto.", "Aprueba un gasto."},
		{"respuesta prefix", "Respuesta: Aprueba un gasto.", "Aprueba un gasto."},
		{"resumen prefix", "RESUMEN: Aprueba un gasto.", "Aprueba un gasto."},
		{"markdown", "**Aprueba** un gasto.", "Aprueba un gasto."},
		{"quotes", `"Aprueba un gasto."`, "Aprueba un gasto."},
		{"curly quotes", "“Aprueba un gasto.”", "Aprueba un gasto."},
		{"whitespace", "  Aprueba\n un   gasto. ", "Aprueba un gasto."},
		{"empty", "  ** ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "ñañ", truncateRunes("ñañaña", 3))
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "", truncateRunes("abc", 0))
}

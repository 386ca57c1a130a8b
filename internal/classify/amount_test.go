package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmounts(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []float64
	}{
		{"grouped with decimals", "por la suma de $1.234,56 pesos", []float64{1234.56}},
		{"space after marker", "importe $ 500", []float64{500}},
		{"non-breaking space after marker", "monto de $\u00a01.234,56 pesos", []float64{1234.56}},
		{"narrow no-break space after marker", "$\u202f2.000", []float64{2000}},
		{"two spaces after marker", "$  500", []float64{}},
		{"millions", "$12.345.678,9", []float64{12345678.9}},
		{"zero excluded", "$0", []float64{}},
		{"zero with decimals excluded", "$0,00", []float64{}},
		{"no marker", "1.234,56 pesos", []float64{}},
		{"empty", "", []float64{}},
		{"fraction only cents", "$0,50", []float64{0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAmounts(tt.text))
		})
	}
}

func TestParseAmounts_MultisetPreserved(t *testing.T) {
	text := "Apruébase $1.000,00 y $250,50; luego $1.000,00 nuevamente y $0 más $3.500"
	got := ParseAmounts(text)

	assert.ElementsMatch(t, []float64{1000, 250.5, 1000, 3500}, got)
	assert.Len(t, got, 4, "duplicates must not be collapsed")
}

func TestMaxAmount(t *testing.T) {
	v, ok := MaxAmount([]float64{3, 99.5, 12})
	assert.True(t, ok)
	assert.InDelta(t, 99.5, v, 1e-9)

	_, ok = MaxAmount(nil)
	assert.False(t, ok)
}

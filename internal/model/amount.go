package model

import (
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// FormatAmount renders v as a peso amount using es-AR separators,
// e.g. 1234567.8 -> "$1.234.567,80".
func FormatAmount(v float64) string {
	p := message.NewPrinter(Locale)
	return "$" + p.Sprint(number.Decimal(v, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

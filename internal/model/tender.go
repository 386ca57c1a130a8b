package model

import "golang.org/x/text/language"

// AmountNotSpecified is the label rendered for tenders without a parsed amount.
const AmountNotSpecified = "Monto no especificado"

// Tender is a public-procurement listing scraped for a bulletin date.
// Number is the unique key.
type Tender struct {
	Number           string   `json:"numero"`
	Title            string   `json:"titulo"`
	Type             string   `json:"tipo"`
	OpeningDate      string   `json:"fecha_apertura"`
	Status           string   `json:"estado"`
	Unit             string   `json:"unidad"`
	DetailURL        string   `json:"url,omitempty"`
	Amount           *float64 `json:"monto,omitempty"`
	Summary          string   `json:"resumen,omitempty"`
	SummaryAttempted bool     `json:"resumen_intentado,omitempty"`
}

// AmountLabel renders the tender amount in es-AR format, or
// AmountNotSpecified when the detail page exposed none.
func (t Tender) AmountLabel() string {
	if t.Amount == nil {
		return AmountNotSpecified
	}
	return FormatAmount(*t.Amount)
}

// NeedsSummary reports whether the tender has never been sent to summarization.
func (t Tender) NeedsSummary() bool {
	return !t.SummaryAttempted && t.Summary == ""
}

// Locale is the language tag used to format amounts.
var Locale = language.MustParse("es-AR")

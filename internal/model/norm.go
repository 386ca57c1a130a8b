package model

// LargeAmountThreshold marks expenditures highlighted as large in reports.
const LargeAmountThreshold = 100_000_000

// OutcomeStatus is the extraction state of a norm.
type OutcomeStatus string

const (
	OutcomeUnprocessed    OutcomeStatus = "unprocessed"
	OutcomeExpenditure    OutcomeStatus = "expenditure"
	OutcomeNonExpenditure OutcomeStatus = "non_expenditure"
	OutcomeFailed         OutcomeStatus = "failed"
)

// Outcome records the result of fetching and classifying a norm's document.
// Amount, AmountFormatted, AmountCount and Excerpt are only set for
// expenditures; Reason only for failures.
type Outcome struct {
	Status          OutcomeStatus `json:"estado"`
	Amount          float64       `json:"monto,omitempty"`
	AmountFormatted string        `json:"monto_fmt,omitempty"`
	AmountCount     int           `json:"todos_montos,omitempty"`
	Excerpt         string        `json:"text_snippet,omitempty"`
	Reason          string        `json:"motivo,omitempty"`
}

// Classified reports whether the outcome is terminal for the extraction stage.
func (o Outcome) Classified() bool {
	return o.Status == OutcomeExpenditure || o.Status == OutcomeNonExpenditure
}

// Failed builds a failed outcome with the given reason.
func Failed(reason string) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason}
}

// Attachment is a document annexed to a norm. Its identity is the owning
// norm's URL plus Name.
type Attachment struct {
	Name             string `json:"nombre"`
	URL              string `json:"url"`
	Summary          string `json:"resumen,omitempty"`
	SummaryAttempted bool   `json:"resumen_intentado,omitempty"`
}

// Norm is one entry of the bulletin index. URL is the unique key.
type Norm struct {
	URL              string       `json:"url"`
	Title            string       `json:"nombre"`
	Summary          string       `json:"sumario"`
	Power            string       `json:"poder,omitempty"`
	Type             string       `json:"tipo,omitempty"`
	Organization     string       `json:"organismo"`
	Attachments      []Attachment `json:"anexos,omitempty"`
	Outcome          Outcome      `json:"resultado"`
	ShortSummary     string       `json:"resumen_corto,omitempty"`
	LongSummary      string       `json:"resumen_largo,omitempty"`
	SummaryAttempted bool         `json:"resumen_intentado,omitempty"`
}

// IsExpenditure reports whether at least one positive amount was found.
func (n Norm) IsExpenditure() bool {
	return n.Outcome.Status == OutcomeExpenditure
}

// IsLarge reports whether the norm is an expenditure above LargeAmountThreshold.
func (n Norm) IsLarge() bool {
	return n.IsExpenditure() && n.Outcome.Amount > LargeAmountThreshold
}

// NeedsSummary reports whether the norm has never been sent to summarization.
// A norm with a short summary is never summarized again.
func (n Norm) NeedsSummary() bool {
	return !n.SummaryAttempted && n.ShortSummary == ""
}

// Description returns the best available text for display.
func (n Norm) Description() string {
	if n.ShortSummary != "" {
		return n.ShortSummary
	}
	if n.Summary != "" {
		return n.Summary
	}
	return n.Title
}

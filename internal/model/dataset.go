package model

// DailyDataset is the persisted result for one bulletin date. Date is the
// ISO key (yyyy-mm-dd) derived from the bulletin's display date.
type DailyDataset struct {
	Date            string   `json:"fecha"`
	DisplayDate     string   `json:"fecha_publicacion"`
	BulletinNumber  string   `json:"numero"`
	TotalNorms      int      `json:"total_normas"`
	Expenditures    []Norm   `json:"gastos"`
	NonExpenditures []Norm   `json:"sin_monto"`
	OverflowURLs    []string `json:"sin_monto_excedentes,omitempty"`
	Tenders         []Tender `json:"licitaciones"`
	Organizations   []string `json:"organismos"`
}

// NewDailyDataset returns an empty dataset with non-nil slices so the JSON
// shape is stable from the first write.
func NewDailyDataset(date, displayDate, number string, totalNorms int) *DailyDataset {
	return &DailyDataset{
		Date:            date,
		DisplayDate:     displayDate,
		BulletinNumber:  number,
		TotalNorms:      totalNorms,
		Expenditures:    []Norm{},
		NonExpenditures: []Norm{},
		Tenders:         []Tender{},
		Organizations:   []string{},
	}
}

// ClassifiedCount is the number of norms with a recorded extraction outcome,
// including non-expenditures dropped by the list cap.
func (d *DailyDataset) ClassifiedCount() int {
	return len(d.Expenditures) + len(d.NonExpenditures) + len(d.OverflowURLs)
}

// TotalAmount sums the amounts of every expenditure.
func (d *DailyDataset) TotalAmount() float64 {
	var total float64
	for _, n := range d.Expenditures {
		total += n.Outcome.Amount
	}
	return total
}

// PendingState is the durable record of the work left for a date. It exists
// only while some stage is outstanding.
type PendingState struct {
	Norms           []Norm `json:"normas_pendientes"`
	TendersNeeded   bool   `json:"licitaciones_pendientes"`
	SummariesNeeded bool   `json:"resumenes_pendientes"`
}

// Done reports whether no stage flag is outstanding.
func (p *PendingState) Done() bool {
	return len(p.Norms) == 0 && !p.TendersNeeded && !p.SummariesNeeded
}

// Package export renders a daily dataset as an XLSX workbook with one sheet
// per list: expenditures, non-expenditures and tenders.
package export

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/boletin-cli/internal/model"
)

// Sheet names.
const (
	SheetExpenditures    = "Gastos"
	SheetNonExpenditures = "Sin monto"
	SheetTenders         = "Licitaciones"
)

const amountFormat = `"$"#,##0.00`

var (
	expenditureHeader    = []string{"Organismo", "Norma", "Monto", "Monto (texto)", "Montos hallados", "Resumen", "Detalle", "Gran gasto", "URL"}
	nonExpenditureHeader = []string{"Organismo", "Norma", "Sumario", "Resumen", "URL"}
	tenderHeader         = []string{"Número", "Título", "Tipo", "Apertura", "Estado", "Unidad", "Monto", "Resumen", "URL"}
)

// Build renders ds into a new workbook.
func Build(ds *model.DailyDataset) (*xlsx.File, error) {
	f := xlsx.NewFile()

	header := xlsx.NewStyle()
	header.Font.Bold = true
	header.ApplyFont = true

	sheet, err := addSheet(f, SheetExpenditures, expenditureHeader, header)
	if err != nil {
		return nil, err
	}
	for _, n := range ds.Expenditures {
		row := sheet.AddRow()
		addStrings(row, n.Organization, n.Title)
		row.AddCell().SetFloatWithFormat(n.Outcome.Amount, amountFormat)
		addStrings(row, n.Outcome.AmountFormatted)
		row.AddCell().SetInt(n.Outcome.AmountCount)
		addStrings(row, n.Description(), n.LongSummary, yesNo(n.IsLarge()), n.URL)
	}

	sheet, err = addSheet(f, SheetNonExpenditures, nonExpenditureHeader, header)
	if err != nil {
		return nil, err
	}
	for _, n := range ds.NonExpenditures {
		addStrings(sheet.AddRow(), n.Organization, n.Title, n.Summary, n.ShortSummary, n.URL)
	}
	for _, url := range ds.OverflowURLs {
		addStrings(sheet.AddRow(), "", "", "", "", url)
	}

	sheet, err = addSheet(f, SheetTenders, tenderHeader, header)
	if err != nil {
		return nil, err
	}
	for _, t := range ds.Tenders {
		row := sheet.AddRow()
		addStrings(row, t.Number, t.Title, t.Type, t.OpeningDate, t.Status, t.Unit)
		if t.Amount != nil {
			row.AddCell().SetFloatWithFormat(*t.Amount, amountFormat)
		} else {
			addStrings(row, model.AmountNotSpecified)
		}
		addStrings(row, t.Summary, t.DetailURL)
	}

	return f, nil
}

// Write renders ds as XLSX into w.
func Write(w io.Writer, ds *model.DailyDataset) error {
	f, err := Build(ds)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// WriteFile renders ds as XLSX at path, creating parent directories.
func WriteFile(path string, ds *model.DailyDataset) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create %s", dir)
		}
	}
	f, err := Build(ds)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

// ReadSheet returns every row of the named sheet as strings.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open workbook")
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("export: sheet %q not found", name)
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func addSheet(f *xlsx.File, name string, header []string, style *xlsx.Style) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	row := sheet.AddRow()
	for _, h := range header {
		cell := row.AddCell()
		cell.SetString(h)
		cell.SetStyle(style)
	}
	return sheet, nil
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func yesNo(b bool) string {
	if b {
		return "sí"
	}
	return "no"
}

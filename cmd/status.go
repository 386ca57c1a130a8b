package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/boletin-cli/internal/aggregate"
	"github.com/sells-group/boletin-cli/internal/dataset"
	"github.com/sells-group/boletin-cli/internal/model"
)

const statusTopN = 5

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored datasets and their pending work",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}
		return writeStatus(os.Stdout, initStore())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// writeStatus lists every stored date, newest first, followed by the
// largest expenditures of the newest one.
func writeStatus(out io.Writer, st *dataset.Store) error {
	dates, err := st.ListDates()
	if err != nil {
		return eris.Wrap(err, "status: list dates")
	}
	if len(dates) == 0 {
		_, _ = fmt.Fprintln(out, "No datasets found.")
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tNORMS\tCLASSIFIED\tGASTOS\tLICITACIONES\tTOTAL\tPENDING")
	var latest *model.DailyDataset
	for _, date := range dates {
		ds, err := st.LoadDataset(date)
		if err != nil {
			return eris.Wrapf(err, "status: load %s", date)
		}
		if ds == nil {
			continue
		}
		if latest == nil {
			latest = ds
		}
		pending, err := st.HasPending(date)
		if err != nil {
			return eris.Wrapf(err, "status: pending %s", date)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			date,
			ds.TotalNorms,
			ds.ClassifiedCount(),
			len(ds.Expenditures),
			len(ds.Tenders),
			model.FormatAmount(ds.TotalAmount()),
			yesNo(pending),
		)
	}
	_ = w.Flush()

	if latest != nil {
		writeTopExpenditures(out, latest, statusTopN)
	}
	return nil
}

func writeTopExpenditures(out io.Writer, ds *model.DailyDataset, n int) {
	if len(ds.Expenditures) == 0 {
		return
	}
	top := append([]model.Norm(nil), ds.Expenditures...)
	aggregate.SortExpenditures(top)
	if len(top) > n {
		top = top[:n]
	}

	_, _ = fmt.Fprintf(out, "\nTop %d gastos %s:\n", len(top), ds.Date)
	for i, norm := range top {
		marker := ""
		if norm.IsLarge() {
			marker = " (!)"
		}
		_, _ = fmt.Fprintf(out, "%d. %s%s  %s\n   %s\n",
			i+1, model.FormatAmount(norm.Outcome.Amount), marker, norm.Organization, norm.Description())
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/boletin-cli/internal/ledger"
	"github.com/sells-group/boletin-cli/internal/model"
)

var (
	runsDate   string
	runsStatus string
	runsLimit  int
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run ledger",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		led, err := openLedgerForRead(cmd)
		if err != nil {
			return err
		}
		defer led.Close() //nolint:errcheck

		runs, err := led.ListRuns(cmd.Context(), ledger.Filter{
			Date:   runsDate,
			Status: model.RunStatus(runsStatus),
			Limit:  runsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No runs recorded.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its stage reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := openLedgerForRead(cmd)
		if err != nil {
			return err
		}
		defer led.Close() //nolint:errcheck

		run, err := led.GetRun(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrapf(err, "runs show %s", args[0])
		}
		if runsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}
		formatRun(os.Stdout, run)
		return nil
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsDate, "date", "", "only runs for this bulletin date (yyyy-mm-dd)")
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "only runs with this status: running, complete, partial, skipped or failed")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsShowCmd.Flags().BoolVar(&runsJSON, "json", false, "print the run as JSON")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openLedgerForRead(cmd *cobra.Command) (ledger.Ledger, error) {
	if err := cfg.Validate("status"); err != nil {
		return nil, err
	}
	return initLedger(cmd.Context())
}

// formatRunsList prints one line per run. PENDING is the work the run left
// for the next one, summed over its stages.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tDATE\tSTATUS\tSTARTED\tTOOK\tPENDING\tERROR")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(r.ID),
			orDash(r.Date),
			r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second),
			remaining(r.Stages),
			orDash(ellipsize(r.Error, 40)),
		)
	}
	_ = w.Flush()
}

// formatRun prints a single run with its stage table.
func formatRun(out io.Writer, r *model.Run) {
	_, _ = fmt.Fprintf(out, "Run %s\n", r.ID)
	_, _ = fmt.Fprintf(out, "Fecha:   %s\n", orDash(r.Date))
	_, _ = fmt.Fprintf(out, "Estado:  %s\n", r.Status)
	_, _ = fmt.Fprintf(out, "Inicio:  %s (%s)\n",
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second))
	if r.Error != "" {
		_, _ = fmt.Fprintf(out, "Error:   %s\n", r.Error)
	}
	if len(r.Stages) > 0 {
		_, _ = fmt.Fprintln(out)
		writeStages(out, r.Stages)
	}
}

func remaining(stages []model.StageReport) int {
	n := 0
	for _, s := range stages {
		n += s.Remaining
	}
	return n
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// truncateID shortens a run UUID to its first block.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/model"
	"github.com/sells-group/boletin-cli/internal/pipeline"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process today's bulletin, resuming any pending work",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "run", runForce)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Orchestrator.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run finished",
			zap.String("date", result.Date),
			zap.String("status", string(result.Status)),
			zap.Bool("pending", result.Pending != nil),
		)

		formatRunResult(os.Stdout, result)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "re-open a completed date to retry its tenders")
	rootCmd.AddCommand(runCmd)
}

// formatRunResult writes the per-stage outcome of a run to w.
func formatRunResult(out io.Writer, r *pipeline.RunResult) {
	_, _ = fmt.Fprintf(out, "Fecha %s: %s\n", r.Date, r.Status)
	if r.Skipped {
		_, _ = fmt.Fprintln(out, "Nothing to do, dataset already complete.")
		return
	}

	writeStages(out, r.Stages)

	if r.Dataset != nil {
		_, _ = fmt.Fprintf(out, "Gastos: %d  Sin monto: %d  Licitaciones: %d\n",
			len(r.Dataset.Expenditures), r.Dataset.ClassifiedCount()-len(r.Dataset.Expenditures), len(r.Dataset.Tenders))
	}
	if r.Pending != nil {
		_, _ = fmt.Fprintf(out, "Pending: %d norms, tenders=%t, summaries=%t\n",
			len(r.Pending.Norms), r.Pending.TendersNeeded, r.Pending.SummariesNeeded)
	}
}

// writeStages prints one row per stage report.
func writeStages(out io.Writer, stages []model.StageReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tATTEMPTED\tOK\tFAILED\tSKIPPED\tREMAINING\tDURATION")
	for _, s := range stages {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Stage, s.Attempted, s.Succeeded, s.Failed, s.Skipped, s.Remaining,
			s.Duration.Round(time.Millisecond),
		)
	}
	_ = w.Flush()
}

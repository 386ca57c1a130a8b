package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/dataset"
	"github.com/sells-group/boletin-cli/internal/export"
)

var (
	exportDate string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored dataset to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		path, err := exportDataset(initStore(), exportDate, exportOut)
		if err != nil {
			return err
		}
		zap.L().Info("dataset exported", zap.String("path", path))
		fmt.Fprintln(os.Stdout, path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDate, "date", "", "bulletin date yyyy-mm-dd (default: newest stored)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default: boletin-<date>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}

// exportDataset writes the dataset for date, or the newest one when date is
// empty, and returns the file written.
func exportDataset(st *dataset.Store, date, out string) (string, error) {
	if date == "" {
		dates, err := st.ListDates()
		if err != nil {
			return "", eris.Wrap(err, "export: list dates")
		}
		if len(dates) == 0 {
			return "", eris.New("export: no datasets stored")
		}
		date = dates[len(dates)-1]
	}

	ds, err := st.LoadDataset(date)
	if err != nil {
		return "", eris.Wrapf(err, "export: load %s", date)
	}
	if ds == nil {
		return "", eris.Errorf("export: no dataset for %s", date)
	}

	if out == "" {
		out = fmt.Sprintf("boletin-%s.xlsx", date)
	}
	if err := export.WriteFile(out, ds); err != nil {
		return "", err
	}
	return out, nil
}

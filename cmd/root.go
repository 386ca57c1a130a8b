package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/config"
)

var (
	cfg *config.Config

	dataDirFlag  string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "boletin-cli",
	Short: "Daily Boletín Oficial expenditure pipeline",
	Long: "Fetches the Buenos Aires Boletín Oficial, classifies every norm by the amounts in its PDF, " +
		"scrapes the day's tenders, summarizes them, and keeps a resumable per-date dataset.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyGlobalFlags(c)
		cfg = c

		return eris.Wrap(config.InitLogger(cfg.Log), "init logger")
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// applyGlobalFlags lets command-line flags win over config file and env.
func applyGlobalFlags(c *config.Config) {
	if dataDirFlag != "" {
		c.Storage.DataDir = dataDirFlag
	}
	if logLevelFlag != "" {
		c.Log.Level = logLevelFlag
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "directory holding the per-date datasets (overrides storage.data_dir)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error (overrides log.level)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package commands implements the query-engine CLI.
package commands

import (
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/config"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
)

var (
	cfgFile    string
	jsonOutput bool
	noColor    bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "query-engine",
	Short: "Student query engine - normalize, retrieve and review",
	Long: `The query engine cleans up casual student questions, retrieves curriculum
content for them and scores answer confidence. It also runs the offline
pattern-mining batch and the human review workflow for learned noise phrases.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env is fine; config falls back to defaults.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: "query-engine-cli",
		})

		if noColor {
			color.NoColor = true
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON instead of formatted output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

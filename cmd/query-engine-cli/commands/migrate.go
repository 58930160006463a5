package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := storage.Migrate(ctx, db); err != nil {
			return err
		}
		color.Green("Schema is up to date.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

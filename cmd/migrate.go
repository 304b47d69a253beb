package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var migrateReset bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Creates or updates the listings, price_history, and scrape_runs tables. With --reset, deletes all stored data first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		if migrateReset {
			if err := st.Reset(ctx); err != nil {
				return eris.Wrap(err, "reset")
			}
			fmt.Fprintln(os.Stderr, "Database reset.")
			return nil
		}

		fmt.Fprintln(os.Stderr, "Migrations applied.")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "delete all listings, price history, and run logs")
	rootCmd.AddCommand(migrateCmd)
}

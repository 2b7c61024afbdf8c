package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Proton-105/protrader-agent/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the trade ledger migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !cfg.Database.Enabled {
			return errors.New("database is disabled in the configuration")
		}

		db, err := database.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrate(cmd.Context(), database.NewMigrator(db, log), cfg.Database.MigrationsDir); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

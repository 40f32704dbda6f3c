package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"whatsapp-campaigns/internal/database"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the campaign tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the app migrates.
			if _, err := ctx.ensureApp(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date")
			return nil
		},
	}
}

func newCopySQLiteCommand(ctx *commandContext) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "copy-sqlite",
		Short: "Copy campaign data from a SQLite file into the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			src, err := gorm.Open(sqlite.Open(from), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
			if err != nil {
				return fmt.Errorf("open %s: %w", from, err)
			}
			if sqlDB, err := src.DB(); err == nil {
				defer sqlDB.Close()
			}

			copied, err := database.CopyAll(cmd.Context(), src, a.DB, a.Log)
			if err != nil {
				return err
			}
			if err := database.SyncSequences(cmd.Context(), a.DB); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for table, n := range copied {
				fmt.Fprintf(out, "%-28s %d\n", table, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "./campaigns.db", "Source SQLite file")
	return cmd
}

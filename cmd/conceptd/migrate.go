package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geniusreads/conceptd/internal/app"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "Applies the embedded schema to Postgres (pgvector required). The SQLite store migrates itself on open.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, closeApp, err := openApp(cmd, *configPath, app.Options{Migrate: true})
			if err != nil {
				return err
			}
			defer closeApp()
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Migrations completed successfully"))
			return nil
		},
	}
}

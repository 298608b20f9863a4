package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geniusreads/conceptd/internal/app"
)

func newBackfillCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Compute embeddings for concepts stored without one",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			res, err := a.Backfill.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s scanned %d, embedded %d, failed %d\n",
				labelStyle.Render("Backfill:"), res.Scanned, res.Embedded, res.Failed)
			return nil
		},
	}
}

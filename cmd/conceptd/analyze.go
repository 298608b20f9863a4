package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geniusreads/conceptd/internal/app"
)

func newAnalyzeCmd(configPath *string) *cobra.Command {
	var (
		asJSON  bool
		noGraph bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [session-id]",
		Short: "Extract concepts from a session and merge them into the knowledge base",
		Long:  "Runs concept extraction for the given session (the active one by default), merges candidates into existing concepts by name, links related concepts and marks the session complete or failed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{Graph: !noGraph})
			if err != nil {
				return err
			}
			defer closeApp()

			id, err := sessionArg(cmd.Context(), a, args)
			if err != nil {
				return err
			}
			out, runErr := a.Analyzer.Analyze(cmd.Context(), id)

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				fmt.Fprint(w, renderOutcome(out))
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	cmd.Flags().BoolVar(&noGraph, "no-graph", false, "skip the Neo4j projection")
	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "conceptd",
		Short:         "Extract concepts from reading sessions and link them into a knowledge graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ~/.conceptd/config.yaml)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd(&configPath))
	cmd.AddCommand(newSessionCmd(&configPath))
	cmd.AddCommand(newAnalyzeCmd(&configPath))
	cmd.AddCommand(newConceptsCmd(&configPath))
	cmd.AddCommand(newBackfillCmd(&configPath))
	cmd.AddCommand(newServeCmd(&configPath))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conceptd %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Error: "+err.Error()))
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

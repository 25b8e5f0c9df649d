// Package main provides the entry point for the geoval CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/geoval/cmd/geoval/commands"
	"github.com/Sumatoshi-tech/geoval/pkg/version"
)

func main() {
	version.Init()

	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "geoval",
		Short: "geoval - validation of geophysical time series",
		Long: `geoval validates gridded geophysical time series against each other.

Commands:
  run       Run a validation over every configured job
  check     Validate a config and open its datasets
  jobs      Print the resolved job list
  summary   Summarize stored results
  schema    Print the config JSON schema`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(commands.NewJobsCommand())
	rootCmd.AddCommand(commands.NewSummaryCommand())
	rootCmd.AddCommand(commands.NewSchemaCommand())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

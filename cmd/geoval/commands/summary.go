package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/geoval/pkg/report"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
)

const jsonLinesExt = ".jsonl"

// NewSummaryCommand creates the summary command.
func NewSummaryCommand() *cobra.Command {
	var (
		chartPath string
		metrics   string
		noColor   bool
	)

	cmd := &cobra.Command{
		Use:   "summary <results>",
		Short: "Summarize stored results",
		Long: `Summary loads results written by a previous run, either an lz4 results
directory or a JSON lines file, and prints per-key metric statistics.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			byKey, runID, err := loadResults(args[0])
			if err != nil {
				return err
			}

			names := report.ParseMetrics(metrics)

			fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", runID)

			err = report.WriteTable(cmd.OutOrStdout(), byKey, report.Options{NoColor: noColor, Metrics: names})
			if err != nil {
				return err
			}

			if chartPath != "" {
				return writeChartFile(chartPath, byKey, names)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&chartPath, "chart", "", "write an HTML chart of the results to this file")
	cmd.Flags().StringVar(&metrics, "metrics", "", "comma separated metric names")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	return cmd
}

func loadResults(path string) (results.ByKey, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("open results: %w", err)
	}

	if info.IsDir() {
		return results.LoadDir(path)
	}

	if filepath.Ext(path) != jsonLinesExt {
		return nil, "", fmt.Errorf("open results: %s is neither a directory nor a %s file", path, jsonLinesExt)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open results: %w", err)
	}
	defer file.Close()

	return results.ReadJSONLines(file)
}

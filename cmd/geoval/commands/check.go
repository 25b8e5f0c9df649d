package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/geoval/pkg/config"
	"github.com/Sumatoshi-tech/geoval/pkg/validation"
)

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	var (
		configPath string
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config and open its datasets without running",
		Long: `Check loads the config, validates it against the schema, opens every
reader and builds the engine. It prints the resolved datasets, groups and
the number of jobs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noColor {
				color.NoColor = true //nolint:reassign // intentional override of library global
			}

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))

			setup, err := config.Build(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer setup.Close()

			engine, err := validation.NewEngine(setup.Options)
			if err != nil {
				return err
			}

			printCheck(cmd.OutOrStdout(), cfg, engine, len(setup.Jobs))

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default .geoval.yaml in . or $HOME)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	return cmd
}

func printCheck(w io.Writer, cfg *config.Config, engine *validation.Engine, jobs int) {
	color.New(color.FgGreen).Fprintln(w, "config is valid")
	fmt.Fprintf(w, "  datasets: %v\n", engine.Datasets())
	fmt.Fprintf(w, "  spatial reference: %s\n", cfg.SpatialReference)

	for i, g := range cfg.Groups {
		fmt.Fprintf(w, "  group %d: %v reference=%s window=%s policy=%s\n",
			i, g.Datasets, g.Reference, g.MatchWindow(), g.Policy)
	}

	if cfg.Scaling.Enabled() {
		fmt.Fprintf(w, "  scaling: %s to %s\n", cfg.Scaling.Method, cfg.Scaling.Reference)
	}

	color.New(color.FgCyan).Fprintf(w, "  jobs: %d\n", jobs)
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(config.Schema())

			return err
		},
	}
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Print the resolved job list as gpi,lon,lat",
		Long: `Jobs prints the job list a run would process, after the bounding box and
gpi filters. The output can be used as run.job_list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			setup, err := config.Build(cfg, nil, nil)
			if err != nil {
				return err
			}
			defer setup.Close()

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "gpi,lon,lat")

			for _, job := range setup.Jobs {
				fmt.Fprintf(w, "%d,%g,%g\n", job.GPI, job.Lon, job.Lat)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default .geoval.yaml in . or $HOME)")

	return cmd
}

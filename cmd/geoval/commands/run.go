// Package commands implements CLI command handlers for geoval.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/geoval/pkg/config"
	"github.com/Sumatoshi-tech/geoval/pkg/observability"
	"github.com/Sumatoshi-tech/geoval/pkg/report"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/validation"
	"github.com/Sumatoshi-tech/geoval/pkg/version"
)

// ErrJobsFailed is returned by run --fail-on-error when any job failed.
var ErrJobsFailed = errors.New("jobs failed")

const (
	metricsPath           = "/metrics"
	metricsServerTimeout  = 5 * time.Second
	metricsReadHeaderTime = 2 * time.Second
)

// RunCommand holds the flags of the run command.
type RunCommand struct {
	configPath  string
	workers     int
	outputDir   string
	formats     []string
	chartPath   string
	metrics     string
	noColor     bool
	quiet       bool
	failOnError bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a validation over every configured job",
		Long: `Run reads every configured dataset at each job location, matches the
series in time, applies masks and scaling, computes the configured metrics
and writes the results to the configured sinks.

Examples:
  geoval run -c validation.yaml
  geoval run -c validation.yaml --workers 8 --format json,sqlite
  geoval run -c validation.yaml --chart results.html --metrics R,RMSD`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          rc.Run,
	}

	cmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "config file (default .geoval.yaml in . or $HOME)")
	cmd.Flags().IntVarP(&rc.workers, "workers", "w", 0, "number of concurrent jobs (overrides run.workers)")
	cmd.Flags().StringVarP(&rc.outputDir, "output", "o", "", "output directory (overrides output.dir)")
	cmd.Flags().StringSliceVar(&rc.formats, "format", nil, "result formats: lz4, json, sqlite, parquet (overrides output.formats)")
	cmd.Flags().StringVar(&rc.chartPath, "chart", "", "write an HTML chart of the results to this file")
	cmd.Flags().StringVar(&rc.metrics, "metrics", "", "comma separated metric names for the summary")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVarP(&rc.quiet, "quiet", "q", false, "do not print the summary")
	cmd.Flags().BoolVar(&rc.failOnError, "fail-on-error", false, "exit with an error when any job failed")

	return cmd
}

// Run executes the run command.
func (rc *RunCommand) Run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(rc.configPath)
	if err != nil {
		return err
	}

	rc.applyOverrides(cmd, cfg)

	err = cfg.Validate()
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	runID := uuid.NewString()

	providers, err := initObservability(cfg, runID, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	stopMetrics := serveMetrics(cfg.Telemetry, providers)
	defer stopMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, snapshot, err := execute(ctx, cfg, runID, providers)
	if err != nil {
		return err
	}

	if !rc.quiet {
		opts := report.Options{NoColor: rc.noColor, Metrics: report.ParseMetrics(rc.metrics)}

		err = report.WriteSummary(cmd.OutOrStdout(), summary, snapshot, opts)
		if err != nil {
			return err
		}
	}

	if rc.chartPath != "" {
		err = writeChartFile(rc.chartPath, snapshot, report.ParseMetrics(rc.metrics))
		if err != nil {
			return err
		}
	}

	if rc.failOnError && len(summary.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d", ErrJobsFailed, len(summary.Failed), summary.Jobs)
	}

	return nil
}

func (rc *RunCommand) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("workers") {
		cfg.Run.Workers = rc.workers
	}

	if rc.outputDir != "" {
		cfg.Output.Dir = rc.outputDir
	}

	if len(rc.formats) > 0 {
		cfg.Output.Formats = rc.formats
	}
}

// execute builds the engine and runs every job. The sinks are closed before
// it returns so their files are complete.
func execute(
	ctx context.Context, cfg *config.Config, runID string, providers observability.Providers,
) (validation.Summary, results.ByKey, error) {
	jobMetrics, err := observability.NewJobMetrics(providers.Meter)
	if err != nil {
		return validation.Summary{}, nil, err
	}

	setup, err := config.Build(cfg, providers.Logger, jobMetrics)
	if err != nil {
		return validation.Summary{}, nil, err
	}
	defer setup.Close()

	engine, err := validation.NewEngine(setup.Options)
	if err != nil {
		return validation.Summary{}, nil, err
	}

	sink, err := config.OpenSinks(cfg.Output, runID)
	if err != nil {
		return validation.Summary{}, nil, err
	}

	runner := validation.NewRunner(engine, sink,
		validation.WithWorkers(cfg.Run.Workers),
		validation.WithRunID(runID),
		validation.WithLogger(providers.Logger),
		validation.WithMetrics(jobMetrics),
		validation.WithTracer(providers.Tracer),
	)

	acc, summary, runErr := runner.Run(ctx, setup.Jobs)

	closeErr := sink.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close sinks: %w", closeErr)
	}

	err = errors.Join(runErr, closeErr)
	if err != nil {
		return summary, nil, err
	}

	return summary, acc.Snapshot(), nil
}

func initObservability(cfg *config.Config, runID string, logOut io.Writer) (observability.Providers, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return observability.Providers{}, err
	}

	tc := cfg.Telemetry

	return observability.Init(observability.Config{
		Version:     version.Version,
		Environment: tc.Environment,
		RunID:       runID,
		Export: observability.Export{
			Endpoint:    tc.OTLPEndpoint,
			Headers:     observability.ParseHeaders(tc.OTLPHeaders),
			Insecure:    tc.OTLPInsecure,
			Prometheus:  tc.Prometheus,
			SampleRatio: tc.SampleRatio,
		},
		Logging: observability.Logging{Level: level, JSON: cfg.Logging.JSON},
	}, logOut)
}

// serveMetrics exposes the Prometheus handler for the duration of the run.
// The returned function stops the server.
func serveMetrics(tc config.TelemetryConfig, providers observability.Providers) func() {
	if !tc.Prometheus || providers.MetricsHandler == nil {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, providers.MetricsHandler)

	srv := &http.Server{Addr: tc.PrometheusAddr, Handler: mux, ReadHeaderTimeout: metricsReadHeaderTime}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			providers.Logger.Error("metrics server failed", "addr", tc.PrometheusAddr, "error", err)
		}
	}()

	providers.Logger.Info("serving metrics", "addr", tc.PrometheusAddr, "path", metricsPath)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsServerTimeout)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}
}

func writeChartFile(path string, byKey results.ByKey, names []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}

	err = report.WriteChart(file, byKey, names)

	return errors.Join(err, file.Close())
}

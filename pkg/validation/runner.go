package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/geoval/pkg/fetch"
	"github.com/Sumatoshi-tech/geoval/pkg/observability"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// ErrSink marks a run aborted because results could not be written.
var ErrSink = errors.New("results sink failed")

// Job statuses as reported in metrics and the summary.
const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// FailedJob is a job that failed after its retry.
type FailedJob struct {
	Job series.Job
	Err error
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Jobs     int
	OK       int
	Empty    int
	Degraded int
	Retried  int
	Failed   []FailedJob

	GroupsSkipped      int
	CombinationsFailed int
	Records            int
	Duration           time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers sets the number of concurrent jobs. Non-positive uses GOMAXPROCS.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		r.workers = n
	}
}

// WithRunID sets the run identifier instead of a random one.
func WithRunID(id string) RunnerOption {
	return func(r *Runner) {
		r.runID = id
	}
}

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics sets the run instruments.
func WithMetrics(jm *observability.JobMetrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = jm
	}
}

// WithTracer sets the tracer for per-job spans.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// Runner distributes jobs over a worker pool sharing one Engine.
type Runner struct {
	engine  *Engine
	sink    results.Sink
	workers int
	runID   string
	logger  *slog.Logger
	metrics *observability.JobMetrics
	tracer  trace.Tracer
}

// NewRunner builds a Runner writing every job's results to sink. A nil sink
// only accumulates.
func NewRunner(engine *Engine, sink results.Sink, opts ...RunnerOption) *Runner {
	r := &Runner{engine: engine, sink: sink}

	for _, opt := range opts {
		opt(r)
	}

	if r.workers <= 0 {
		r.workers = runtime.GOMAXPROCS(0)
	}

	if r.runID == "" {
		r.runID = uuid.NewString()
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	if r.metrics == nil {
		r.metrics = observability.NoopJobMetrics()
	}

	if r.tracer == nil {
		r.tracer = otel.Tracer("geoval")
	}

	return r
}

// RunID returns the run identifier.
func (r *Runner) RunID() string { return r.runID }

type jobResult struct {
	job     series.Job
	results results.ByKey
	report  JobReport
	retried bool
	err     error
}

// Run processes jobs and returns the accumulated results. A job failing
// twice on a transient read is recorded in the summary; only a sink failure
// or cancellation aborts the run.
func (r *Runner) Run(ctx context.Context, jobs []series.Job) (*results.Accumulator, Summary, error) {
	start := time.Now()
	acc := results.NewAccumulator()
	summary := Summary{RunID: r.runID}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan series.Job)
	out := make(chan jobResult, r.workers)

	var wg sync.WaitGroup

	wg.Add(r.workers)

	for range r.workers {
		go func() {
			defer wg.Done()

			for job := range in {
				out <- r.process(ctx, job)
			}
		}()
	}

	go func() {
		defer close(in)

		for _, job := range jobs {
			select {
			case in <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	r.logger.InfoContext(ctx, "run started", "run_id", r.runID, "jobs", len(jobs), "workers", r.workers)

	var runErr error

	for res := range out {
		if runErr != nil {
			continue
		}

		sinkErr := r.collect(ctx, res, acc, &summary)
		if sinkErr != nil {
			runErr = fmt.Errorf("%w: %w", ErrSink, sinkErr)

			cancel()
		}
	}

	summary.Duration = time.Since(start)
	summary.Records = acc.Snapshot().Len()

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	if runErr != nil {
		r.logger.ErrorContext(ctx, "run aborted", "run_id", r.runID, "error", runErr)

		return acc, summary, runErr
	}

	r.logger.InfoContext(ctx, "run finished", "run_id", r.runID, "jobs", summary.Jobs,
		"failed", len(summary.Failed), "duration", summary.Duration)

	return acc, summary, nil
}

func (r *Runner) collect(ctx context.Context, res jobResult, acc *results.Accumulator, summary *Summary) error {
	summary.Jobs++
	summary.GroupsSkipped += len(res.report.Skipped)
	summary.CombinationsFailed += res.report.FailedCombinations

	if res.retried {
		summary.Retried++
	}

	if res.err != nil {
		summary.Failed = append(summary.Failed, FailedJob{Job: res.job, Err: res.err})

		return nil
	}

	if res.report.State == StateFetched {
		summary.Empty++
	} else {
		summary.OK++
	}

	if res.report.Degraded() {
		summary.Degraded++
	}

	if r.sink != nil && len(res.results) > 0 {
		err := r.sink.Write(ctx, res.job, res.results)
		if err != nil {
			return err
		}
	}

	acc.Add(res.results)

	return nil
}

// process runs a job, retrying it once on a transient read failure.
func (r *Runner) process(ctx context.Context, job series.Job) jobResult {
	ctx = observability.WithJob(ctx, job.GPI)

	ctx, span := r.tracer.Start(ctx, "geoval.job", trace.WithAttributes(attribute.Int64("gpi", job.GPI)))
	defer span.End()

	done := r.metrics.TrackInflight(ctx)
	defer done()

	start := time.Now()
	res := jobResult{job: job}

	res.results, res.report, res.err = r.engine.ProcessJob(ctx, job)
	if errors.Is(res.err, fetch.ErrTransient) {
		r.logger.WarnContext(ctx, "transient read failure, retrying job", "error", res.err)
		r.metrics.RecordRetry(ctx)

		res.retried = true
		res.results, res.report, res.err = r.engine.ProcessJob(ctx, job)
	}

	status := StatusOK

	switch {
	case res.err != nil:
		status = StatusFailed

		span.RecordError(res.err)
		span.SetStatus(codes.Error, "job failed")
		r.logger.ErrorContext(ctx, "job failed", "error", res.err)
	case res.report.State == StateFetched:
		status = StatusEmpty
	}

	span.SetAttributes(attribute.String("state", res.report.State.String()))
	r.metrics.RecordJob(ctx, status, time.Since(start))

	return res
}

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
)

const (
	metricJobsTotal          = "geoval.jobs.total"
	metricJobDuration        = "geoval.job.duration.seconds"
	metricJobRetries         = "geoval.job.retries.total"
	metricInflightJobs       = "geoval.inflight.jobs"
	metricGroupsSkipped      = "geoval.groups.skipped.total"
	metricCombinationsFailed = "geoval.combinations.failed.total"

	attrStatus     = "status"
	attrReason     = "reason"
	attrCalculator = "calculator"
)

// durationBucketBoundaries covers 1ms to 120s: a job fetches a handful of
// series and runs a few calculators.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// JobMetrics holds the OTel instruments of a validation run.
type JobMetrics struct {
	jobsTotal          metric.Int64Counter
	jobDuration        metric.Float64Histogram
	jobRetries         metric.Int64Counter
	inflightJobs       metric.Int64UpDownCounter
	groupsSkipped      metric.Int64Counter
	combinationsFailed metric.Int64Counter
}

// NewJobMetrics creates the run instruments from the given meter.
func NewJobMetrics(mt metric.Meter) (*JobMetrics, error) {
	jobsTotal, err := mt.Int64Counter(metricJobsTotal,
		metric.WithDescription("Total number of processed jobs"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricJobsTotal, err)
	}

	jobDuration, err := mt.Float64Histogram(metricJobDuration,
		metric.WithDescription("Job processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricJobDuration, err)
	}

	jobRetries, err := mt.Int64Counter(metricJobRetries,
		metric.WithDescription("Jobs retried after a transient read failure"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricJobRetries, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightJobs,
		metric.WithDescription("Number of jobs being processed"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightJobs, err)
	}

	groupsSkipped, err := mt.Int64Counter(metricGroupsSkipped,
		metric.WithDescription("Match groups skipped within a job"),
		metric.WithUnit("{group}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricGroupsSkipped, err)
	}

	combinationsFailed, err := mt.Int64Counter(metricCombinationsFailed,
		metric.WithDescription("Metric computations that failed"),
		metric.WithUnit("{combination}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCombinationsFailed, err)
	}

	return &JobMetrics{
		jobsTotal:          jobsTotal,
		jobDuration:        jobDuration,
		jobRetries:         jobRetries,
		inflightJobs:       inflight,
		groupsSkipped:      groupsSkipped,
		combinationsFailed: combinationsFailed,
	}, nil
}

// NoopJobMetrics returns instruments that record nothing.
func NoopJobMetrics() *JobMetrics {
	jm, err := NewJobMetrics(noopmetric.NewMeterProvider().Meter(serviceName))
	if err != nil {
		panic(err) // noop instruments never fail
	}

	return jm
}

// RecordJob records a finished job with its status and duration.
func (jm *JobMetrics) RecordJob(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(attrStatus, status))

	jm.jobsTotal.Add(ctx, 1, attrs)
	jm.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRetry counts a job retry.
func (jm *JobMetrics) RecordRetry(ctx context.Context) {
	jm.jobRetries.Add(ctx, 1)
}

// RecordGroupSkipped counts a skipped match group.
func (jm *JobMetrics) RecordGroupSkipped(ctx context.Context, reason string) {
	jm.groupsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// RecordCombinationFailed counts a failed metric computation.
func (jm *JobMetrics) RecordCombinationFailed(ctx context.Context, calculator string) {
	jm.combinationsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String(attrCalculator, calculator)))
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
func (jm *JobMetrics) TrackInflight(ctx context.Context) func() {
	jm.inflightJobs.Add(ctx, 1)

	return func() {
		jm.inflightJobs.Add(ctx, -1)
	}
}

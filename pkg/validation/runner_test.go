package validation_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
	"github.com/Sumatoshi-tech/geoval/pkg/validation"
)

const testRunID = "9f7c1c2e-test"

func jobs(gpis ...int64) []series.Job {
	out := make([]series.Job, len(gpis))
	for i, gpi := range gpis {
		out[i] = point(gpi).Job()
	}

	return out
}

func TestRunner_Run(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	sink := results.NewJSONSink(&buf, testRunID)
	runner := validation.NewRunner(engine(t, options(t, newFixture(), temporal.Strict)), sink,
		validation.WithWorkers(3), validation.WithRunID(testRunID))

	acc, summary, err := runner.Run(context.Background(), jobs(1, 2, 99))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.Equal(t, testRunID, summary.RunID)
	assert.Equal(t, 3, summary.Jobs)
	assert.Equal(t, 2, summary.OK)
	assert.Equal(t, 1, summary.Empty)
	assert.Equal(t, 2, summary.Degraded)
	assert.Equal(t, 1, summary.GroupsSkipped)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, 3, summary.Records)
	assert.Equal(t, 3, acc.Jobs())

	loaded, runID, err := results.ReadJSONLines(&buf)
	require.NoError(t, err)
	assert.Equal(t, testRunID, runID)
	assert.Equal(t, 3, loaded.Len())
}

func TestRunner_WorkerCountDoesNotChangeResults(t *testing.T) {
	t.Parallel()

	run := func(workers int) results.ByKey {
		runner := validation.NewRunner(engine(t, options(t, newFixture(), temporal.Lenient)), nil,
			validation.WithWorkers(workers))

		acc, _, err := runner.Run(context.Background(), jobs(2, 1, 99, 1))
		require.NoError(t, err)

		return acc.Snapshot()
	}

	sequential, parallel := run(1), run(4)
	require.Equal(t, sequential.Keys(), parallel.Keys())

	for _, key := range sequential.Keys() {
		require.Len(t, parallel[key], len(sequential[key]))

		for i := range sequential[key] {
			assert.Equal(t, sequential[key][i].Job(), parallel[key][i].Job())
			assert.Equal(t, sequential[key][i].Err, parallel[key][i].Err)
		}
	}
}

func TestRunner_RetriesTransientOnce(t *testing.T) {
	t.Parallel()

	t.Run("second_attempt_succeeds", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		opts := options(t, f, temporal.Strict)
		opts.Datasets[1].Fetcher = fetcher(t, "ASCAT", newFlaky(f.ascat, 1))

		_, summary, err := validation.NewRunner(engine(t, opts), nil).Run(context.Background(), jobs(1))
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Retried)
		assert.Equal(t, 1, summary.OK)
		assert.Empty(t, summary.Failed)
	})

	t.Run("second_failure_fails_job_only", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		opts := options(t, f, temporal.Strict)
		opts.Datasets[1].Fetcher = fetcher(t, "ASCAT", newFlaky(f.ascat, 2))

		acc, summary, err := validation.NewRunner(engine(t, opts), nil, validation.WithWorkers(2)).
			Run(context.Background(), jobs(1, 2))
		require.NoError(t, err)

		require.Len(t, summary.Failed, 2)
		assert.Equal(t, 2, summary.Retried)
		assert.Zero(t, acc.Jobs())
	})
}

type brokenSink struct{}

func (brokenSink) Write(context.Context, series.Job, results.ByKey) error {
	return errors.New("disk full")
}

func (brokenSink) Close() error { return nil }

func TestRunner_SinkFailureAbortsRun(t *testing.T) {
	t.Parallel()

	runner := validation.NewRunner(engine(t, options(t, newFixture(), temporal.Strict)), brokenSink{},
		validation.WithWorkers(2))

	_, _, err := runner.Run(context.Background(), jobs(1, 1, 1, 1, 1, 1))
	require.ErrorIs(t, err, validation.ErrSink)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunner_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := validation.NewRunner(engine(t, options(t, newFixture(), temporal.Strict)), nil)
	assert.NotEmpty(t, runner.RunID())

	_, _, err := runner.Run(ctx, jobs(1, 2))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunner_SpanPerJob(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	runner := validation.NewRunner(engine(t, options(t, newFixture(), temporal.Strict)), nil,
		validation.WithTracer(tp.Tracer("test")))

	_, _, err := runner.Run(context.Background(), jobs(1, 99))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	states := make(map[int64]string, len(spans))

	for _, span := range spans {
		assert.Equal(t, "geoval.job", span.Name())

		var gpi int64

		var state string

		for _, attr := range span.Attributes() {
			switch attr.Key {
			case "gpi":
				gpi = attr.Value.AsInt64()
			case "state":
				state = attr.Value.AsString()
			}
		}

		states[gpi] = state
	}

	assert.Equal(t, map[int64]string{1: "aggregated", 99: "fetched"}, states)
}

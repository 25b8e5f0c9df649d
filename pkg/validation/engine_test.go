package validation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geoval/pkg/combination"
	"github.com/Sumatoshi-tech/geoval/pkg/fetch"
	"github.com/Sumatoshi-tech/geoval/pkg/masking"
	"github.com/Sumatoshi-tech/geoval/pkg/metrics"
	"github.com/Sumatoshi-tech/geoval/pkg/readers"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/scaling"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
	"github.com/Sumatoshi-tech/geoval/pkg/validation"
)

var (
	base = time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC)

	ismn  = series.ColumnKey{Dataset: "ISMN", Column: "sm"}
	ascat = series.ColumnKey{Dataset: "ASCAT", Column: "sm"}
	smap  = series.ColumnKey{Dataset: "SMAP", Column: "sm"}

	ismnValues  = []float64{0.20, 0.25, 0.22, 0.30, 0.28, 0.35}
	ascatValues = []float64{0.21, 0.27, 0.21, 0.33, 0.27, 0.38}
	smapValues  = []float64{0.18, 0.24, 0.25, 0.29, 0.30, 0.33}
)

func hourly(offset time.Duration, column string, values []float64) *series.Table {
	index := make([]time.Time, len(values))
	for i := range index {
		index[i] = base.Add(time.Duration(i)*time.Hour + offset)
	}

	return series.MustTable(index, []string{column}, map[string][]float64{column: values})
}

func point(gpi int64) series.GridPoint {
	return series.GridPoint{GPI: gpi, Lon: float64(gpi), Lat: 45}
}

// fixture holds three datasets at gpis 1 and 2; SMAP has no data at gpi 2.
type fixture struct {
	ismn, ascat, smap *readers.MemoryReader
}

func newFixture() fixture {
	f := fixture{
		ismn:  readers.NewMemoryReader("ISMN"),
		ascat: readers.NewMemoryReader("ASCAT"),
		smap:  readers.NewMemoryReader("SMAP"),
	}

	for _, gpi := range []int64{1, 2} {
		f.ismn.Add(point(gpi), hourly(0, "sm", ismnValues))
		f.ascat.Add(point(gpi), hourly(5*time.Minute, "sm", ascatValues))
	}

	f.smap.Add(point(1), hourly(-5*time.Minute, "sm", smapValues))

	return f
}

func fetcher(t *testing.T, name string, reader fetch.Readable) *fetch.Fetcher {
	t.Helper()

	f, err := fetch.New(series.Descriptor{Name: name, Columns: []string{"sm"}}, reader, fetch.ByID)
	require.NoError(t, err)

	return f
}

func spec(t *testing.T) *combination.Spec {
	t.Helper()

	s, err := combination.NewSpec([]int{3},
		combination.Entry{N: 3, K: 2, Calculator: metrics.NewBasicMetrics(2), ReferenceOnly: true},
		combination.Entry{N: 3, K: 3, Calculator: metrics.NewTripleCollocationMetrics(3)},
	)
	require.NoError(t, err)

	return s
}

func options(t *testing.T, f fixture, policy temporal.Policy) validation.Options {
	t.Helper()

	return validation.Options{
		Datasets: []validation.Dataset{
			{Fetcher: fetcher(t, "ISMN", f.ismn)},
			{Fetcher: fetcher(t, "ASCAT", f.ascat)},
			{Fetcher: fetcher(t, "SMAP", f.smap)},
		},
		SpatialReference: "ISMN",
		Groups: []validation.MatchGroup{{
			Datasets:  []string{"ISMN", "ASCAT", "SMAP"},
			Reference: "ISMN",
			Window:    temporal.Symmetric(10 * time.Minute),
			Policy:    policy,
		}},
		Spec: spec(t),
	}
}

func engine(t *testing.T, opts validation.Options) *validation.Engine {
	t.Helper()

	e, err := validation.NewEngine(opts)
	require.NoError(t, err)

	return e
}

func TestEngine_ProcessJob_FullPipeline(t *testing.T) {
	t.Parallel()

	e := engine(t, options(t, newFixture(), temporal.Strict))
	job := point(1).Job()

	byKey, report, err := e.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, validation.StateAggregated, report.State)
	assert.False(t, report.Degraded())
	assert.Equal(t, []results.Key{
		results.NewKey(ismn, ascat),
		results.NewKey(ismn, ascat, smap),
		results.NewKey(ismn, smap),
	}, byKey.Keys())

	pair := byKey[results.NewKey(ismn, ascat)][0]
	assert.Equal(t, job, pair.Job())
	assert.Empty(t, pair.Err)
	assert.InDelta(t, 6.0, pair.Scalars[metrics.NObs], 0)
	assert.Greater(t, pair.Scalars[metrics.R], 0.9)

	triple := byKey[results.NewKey(ismn, ascat, smap)][0]
	assert.Empty(t, triple.Err)
	assert.Len(t, triple.Arrays[metrics.SNR], 3)
}

func TestEngine_ProcessJob_Idempotent(t *testing.T) {
	t.Parallel()

	e := engine(t, options(t, newFixture(), temporal.Strict))
	job := point(1).Job()

	first, _, err := e.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	second, _, err := e.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	key := results.NewKey(ismn, ascat)
	assert.Equal(t, first[key], second[key])
}

func TestEngine_ProcessJob_EmptySpatialReference(t *testing.T) {
	t.Parallel()

	e := engine(t, options(t, newFixture(), temporal.Strict))

	byKey, report, err := e.ProcessJob(context.Background(), point(99).Job())
	require.NoError(t, err)

	assert.Empty(t, byKey)
	assert.Equal(t, validation.StateFetched, report.State)
	assert.Equal(t, []string{"ISMN", "ASCAT", "SMAP"}, report.Empty)
}

func TestEngine_ProcessJob_MissingMember(t *testing.T) {
	t.Parallel()

	t.Run("strict_skips_group", func(t *testing.T) {
		t.Parallel()

		e := engine(t, options(t, newFixture(), temporal.Strict))

		byKey, report, err := e.ProcessJob(context.Background(), point(2).Job())
		require.NoError(t, err)

		assert.Empty(t, byKey)
		assert.Equal(t, []string{"SMAP"}, report.Empty)
		require.Len(t, report.Skipped, 1)
		assert.Equal(t, validation.SkipNoOverlap, report.Skipped[0].Reason)
		require.ErrorIs(t, report.Skipped[0].Err, temporal.ErrNoTemporalOverlap)
	})

	t.Run("lenient_marks_combinations", func(t *testing.T) {
		t.Parallel()

		e := engine(t, options(t, newFixture(), temporal.Lenient))

		byKey, report, err := e.ProcessJob(context.Background(), point(2).Job())
		require.NoError(t, err)

		assert.Equal(t, 2, report.FailedCombinations)
		assert.Empty(t, byKey[results.NewKey(ismn, ascat)][0].Err)
		assert.True(t, byKey[results.NewKey(ismn, smap)][0].Failed())
		assert.Contains(t, byKey[results.NewKey(ismn, ascat, smap)][0].Err, "insufficient observations")
	})
}

func TestEngine_ProcessJob_MaskRemovesReference(t *testing.T) {
	t.Parallel()

	f := newFixture()
	flags := readers.NewMemoryReader("FLAGS")
	flags.Add(point(1), hourly(0, "flag", []float64{1, 1, 1, 1, 1, 1}))
	flags.Add(point(2), hourly(0, "flag", []float64{0, 0, 0, 0, 0, 0}))

	opts := options(t, f, temporal.Strict)
	mask, err := fetch.New(series.Descriptor{Name: "FLAGS", Columns: []string{"flag"}}, flags, fetch.ByID)
	require.NoError(t, err)

	opts.Masks = []*fetch.Fetcher{mask}

	e := engine(t, opts)

	_, report, err := e.ProcessJob(context.Background(), point(1).Job())
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, validation.SkipMasked, report.Skipped[0].Reason)
	require.ErrorIs(t, report.Skipped[0].Err, validation.ErrAllMasked)
	assert.Equal(t, validation.StateMasked, report.State)
}

func TestEngine_ProcessJob_MissingMaskUnderClosedPolicy(t *testing.T) {
	t.Parallel()

	f := newFixture()
	flags := readers.NewMemoryReader("FLAGS")
	flags.Add(point(2), hourly(0, "flag", []float64{0, 0, 0, 0, 0, 0}))

	opts := options(t, f, temporal.Strict)
	mask, err := fetch.New(series.Descriptor{Name: "FLAGS", Columns: []string{"flag"}}, flags, fetch.ByID)
	require.NoError(t, err)

	opts.Masks = []*fetch.Fetcher{mask}
	opts.MaskPolicy = masking.Closed

	e := engine(t, opts)

	byKey, report, err := e.ProcessJob(context.Background(), point(1).Job())
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, validation.StateAggregated, report.State)
	require.Contains(t, byKey, results.NewKey(ismn, ascat))
	assert.Empty(t, byKey[results.NewKey(ismn, ascat)][0].Err)
}

func TestEngine_ProcessJob_Scaling(t *testing.T) {
	t.Parallel()

	opts := options(t, newFixture(), temporal.Strict)
	opts.Scaling = scaling.MeanStd()
	opts.ScalingReference = ismn

	_, report, err := engine(t, opts).ProcessJob(context.Background(), point(1).Job())
	require.NoError(t, err)
	assert.Equal(t, validation.StateAggregated, report.State)
	assert.Empty(t, report.Skipped)

	constant := newFixture()
	constant.ismn.Add(point(1), hourly(0, "sm", []float64{0.3, 0.3, 0.3, 0.3, 0.3, 0.3}))

	opts = options(t, constant, temporal.Strict)
	opts.Scaling = scaling.MeanStd()
	opts.ScalingReference = ismn

	byKey, report, err := engine(t, opts).ProcessJob(context.Background(), point(1).Job())
	require.NoError(t, err)
	assert.Empty(t, byKey)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, validation.SkipScaling, report.Skipped[0].Reason)
	require.ErrorIs(t, report.Skipped[0].Err, scaling.ErrDegenerateDistribution)
}

func TestEngine_ProcessJob_Lookup(t *testing.T) {
	t.Parallel()

	f := newFixture()
	opts := options(t, f, temporal.Strict)

	// SMAP data of gpi 1 serves job 2.
	opts.Datasets[2].Lookup = map[int64]int64{2: 1}

	byKey, _, err := engine(t, opts).ProcessJob(context.Background(), point(2).Job())
	require.NoError(t, err)
	assert.Len(t, byKey, 3)

	byKey, report, err := engine(t, opts).ProcessJob(context.Background(), point(1).Job())
	require.NoError(t, err)
	assert.Empty(t, byKey)
	assert.Equal(t, []string{"SMAP"}, report.Empty)
}

// flaky fails the first failures reads of every gpi with a transient error.
type flaky struct {
	*readers.MemoryReader

	failures int

	mu    sync.Mutex
	calls map[int64]int
}

func newFlaky(inner *readers.MemoryReader, failures int) *flaky {
	return &flaky{MemoryReader: inner, failures: failures, calls: make(map[int64]int)}
}

func (f *flaky) ReadByID(ctx context.Context, gpi int64, args map[string]string) (*series.Table, error) {
	f.mu.Lock()
	f.calls[gpi]++
	n := f.calls[gpi]
	f.mu.Unlock()

	if n <= f.failures {
		return nil, fmt.Errorf("connection reset: %w", fetch.ErrTransient)
	}

	return f.MemoryReader.ReadByID(ctx, gpi, args)
}

func TestEngine_ProcessJob_TransientIsReturned(t *testing.T) {
	t.Parallel()

	f := newFixture()
	opts := options(t, f, temporal.Strict)
	opts.Datasets[1].Fetcher = fetcher(t, "ASCAT", newFlaky(f.ascat, 1))

	e := engine(t, opts)

	_, _, err := e.ProcessJob(context.Background(), point(1).Job())
	require.ErrorIs(t, err, fetch.ErrTransient)

	_, report, err := e.ProcessJob(context.Background(), point(1).Job())
	require.NoError(t, err)
	assert.Equal(t, validation.StateAggregated, report.State)
}

func TestNewEngine_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*validation.Options)
	}{
		{name: "unknown_spatial_reference", mutate: func(o *validation.Options) { o.SpatialReference = "ERA5" }},
		{name: "no_groups", mutate: func(o *validation.Options) { o.Groups = nil }},
		{name: "no_spec", mutate: func(o *validation.Options) { o.Spec = nil }},
		{name: "unknown_member", mutate: func(o *validation.Options) { o.Groups[0].Datasets[2] = "ERA5" }},
		{name: "reference_not_member", mutate: func(o *validation.Options) { o.Groups[0].Reference = "ERA5" }},
		{name: "bad_window", mutate: func(o *validation.Options) { o.Groups[0].Window = temporal.Window{Before: -time.Minute} }},
		{name: "bad_policy", mutate: func(o *validation.Options) { o.Groups[0].Policy = "loose" }},
		{name: "no_calculator_for_size", mutate: func(o *validation.Options) { o.Groups[0].Datasets = o.Groups[0].Datasets[:2] }},
		{name: "duplicate_dataset", mutate: func(o *validation.Options) { o.Datasets = append(o.Datasets, o.Datasets[0]) }},
		{name: "column_name", mutate: func(o *validation.Options) {
			f, _ := fetch.New(series.Descriptor{Name: "ERA5", Columns: []string{"a, b"}}, readers.NewMemoryReader("ERA5"), fetch.ByID)
			o.Datasets = append(o.Datasets, validation.Dataset{Fetcher: f})
		}},
		{name: "scaling_reference_column", mutate: func(o *validation.Options) {
			o.Scaling = scaling.MeanStd()
			o.ScalingReference = series.ColumnKey{Dataset: "ISMN", Column: "ts"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := options(t, newFixture(), temporal.Strict)
			tt.mutate(&opts)

			_, err := validation.NewEngine(opts)
			require.ErrorIs(t, err, validation.ErrInvalidOptions)
		})
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fetched", validation.StateFetched.String())
	assert.Equal(t, "aggregated", validation.StateAggregated.String())
	assert.Equal(t, "unknown", validation.State(42).String())
}

package combination_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geoval/pkg/combination"
	"github.com/Sumatoshi-tech/geoval/pkg/metrics"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
)

var (
	ref   = series.ColumnKey{Dataset: "ISMN", Column: "sm"}
	ascat = series.ColumnKey{Dataset: "ASCAT", Column: "sm"}
	smap  = series.ColumnKey{Dataset: "SMAP", Column: "sm"}
	flag  = series.ColumnKey{Dataset: "ISMN", Column: "flag"}
)

// recorder captures the aligned tables it sees.
type recorder struct {
	metrics.Meta

	seen []*metrics.Aligned
	fail bool
}

func newRecorder(k int, fail bool) *recorder {
	return &recorder{Meta: metrics.Meta{CalcName: "recorder", CalcColumns: k}, fail: fail}
}

func (r *recorder) Calc(a *metrics.Aligned) (metrics.Values, error) {
	r.seen = append(r.seen, a)
	if r.fail {
		return metrics.Values{}, errors.New("boom")
	}

	v := metrics.NewValues()
	v.Scalars["rows"] = float64(a.Len())

	return v, nil
}

type panicker struct{ metrics.Meta }

func (panicker) Calc(*metrics.Aligned) (metrics.Values, error) { panic("index out of range") }

func matched(t *testing.T) *temporal.Matched {
	t.Helper()

	index := []time.Time{
		time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2016, 5, 3, 0, 0, 0, 0, time.UTC),
	}

	m, err := temporal.NewMatched("ISMN", index,
		[]series.ColumnKey{ref, flag, ascat, smap},
		map[series.ColumnKey][]float64{
			ref:   {0.2, 0.3, 0.25},
			flag:  {0, 0, 0},
			ascat: {0.21, math.NaN(), 0.27},
			smap:  {0.19, 0.31, 0.24},
		}, nil)
	require.NoError(t, err)

	return m
}

func TestNewSpec_Validation(t *testing.T) {
	t.Parallel()

	basic := metrics.NewBasicMetrics(0)

	tests := []struct {
		name    string
		sizes   []int
		entries []combination.Entry
	}{
		{name: "no_group", sizes: []int{3}, entries: []combination.Entry{{N: 2, K: 2, Calculator: basic}}},
		{name: "k_too_big", sizes: []int{2}, entries: []combination.Entry{{N: 2, K: 3, Calculator: basic}}},
		{name: "k_too_small", sizes: []int{2}, entries: []combination.Entry{{N: 2, K: 1, Calculator: basic}}},
		{name: "wrong_columns", sizes: []int{3}, entries: []combination.Entry{{N: 3, K: 3, Calculator: basic}}},
		{name: "nil_calculator", sizes: []int{2}, entries: []combination.Entry{{N: 2, K: 2}}},
		{
			name:    "duplicate",
			sizes:   []int{2},
			entries: []combination.Entry{{N: 2, K: 2, Calculator: basic}, {N: 2, K: 2, Calculator: basic}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := combination.NewSpec(tt.sizes, tt.entries...)
			require.ErrorIs(t, err, combination.ErrInvalidSpec)
		})
	}

	spec, err := combination.NewSpec([]int{2, 3},
		combination.Entry{N: 3, K: 3, Calculator: metrics.NewTripleCollocationMetrics(0)},
		combination.Entry{N: 3, K: 2, Calculator: basic},
		combination.Entry{N: 2, K: 2, Calculator: basic},
	)
	require.NoError(t, err)

	entries := spec.For(3)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].K)
	assert.Len(t, spec.Entries(), 3)
}

func TestCanonicalOrderAndCombinations(t *testing.T) {
	t.Parallel()

	keys := combination.CanonicalOrder([]series.ColumnKey{flag, smap, ref, ascat}, ref)
	assert.Equal(t, []series.ColumnKey{ref, ascat, flag, smap}, keys)

	all := combination.Combinations(keys, 2, ref, false)
	assert.Equal(t, [][]series.ColumnKey{
		{ref, ascat}, {ref, smap}, {ascat, flag}, {ascat, smap}, {flag, smap},
	}, all)

	refOnly := combination.Combinations(keys, 2, ref, true)
	assert.Equal(t, [][]series.ColumnKey{{ref, ascat}, {ref, smap}}, refOnly)

	assert.Nil(t, combination.Combinations(keys, 5, ref, false))
}

func TestDispatch_DropsNaNRowsAndRenames(t *testing.T) {
	t.Parallel()

	calc := newRecorder(2, false)

	spec, err := combination.NewSpec([]int{3}, combination.Entry{N: 3, K: 2, Calculator: calc, ReferenceOnly: true})
	require.NoError(t, err)

	out := combination.Dispatch(context.Background(), matched(t), 3, ref, spec)
	require.Len(t, out, 2)

	withASCAT := out[results.NewKey(ref, ascat)]
	require.NoError(t, withASCAT.Err)
	assert.InDelta(t, 2.0, withASCAT.Values.Scalars["rows"], 0)

	withSMAP := out[results.NewKey(ref, smap)]
	assert.InDelta(t, 3.0, withSMAP.Values.Scalars["rows"], 0)

	require.Len(t, calc.seen, 2)
	assert.Equal(t, []string{"ref", "k1"}, calc.seen[0].Roles)
}

func TestDispatch_ErrorsAreIsolated(t *testing.T) {
	t.Parallel()

	failing := newRecorder(2, true)
	triple := panicker{Meta: metrics.Meta{CalcName: "panicker", CalcColumns: 3}}

	spec, err := combination.NewSpec([]int{3},
		combination.Entry{N: 3, K: 2, Calculator: failing},
		combination.Entry{N: 3, K: 3, Calculator: triple},
	)
	require.NoError(t, err)

	out := combination.Dispatch(context.Background(), matched(t), 3, ref, spec)

	pair := out[results.NewKey(ref, ascat)]
	require.ErrorIs(t, pair.Err, combination.ErrMetricComputation)
	assert.Equal(t, "recorder", pair.Calculator)

	tc := out[results.NewKey(ref, ascat, smap)]
	require.ErrorIs(t, tc.Err, combination.ErrMetricComputation)
	assert.Contains(t, tc.Err.Error(), "panic")
}

func TestDispatch_OtherGroupSizeAndCancel(t *testing.T) {
	t.Parallel()

	spec, err := combination.NewSpec([]int{2, 3}, combination.Entry{N: 2, K: 2, Calculator: newRecorder(2, false)})
	require.NoError(t, err)

	assert.Empty(t, combination.Dispatch(context.Background(), matched(t), 3, ref, spec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, combination.Dispatch(ctx, matched(t), 2, ref, spec))
}

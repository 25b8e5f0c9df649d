package masking_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geoval/pkg/masking"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
)

var t0 = time.Date(2018, 7, 1, 0, 0, 0, 0, time.UTC)

func hours(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * time.Hour)
	}

	return out
}

func flags(index []time.Time, vals ...float64) *series.Table {
	return series.MustTable(index, []string{"flag"}, map[string][]float64{"flag": vals})
}

func reference() *series.Table {
	return series.MustTable(hours(5), []string{"sm"}, map[string][]float64{"sm": {1, 2, 3, 4, 5}})
}

func TestApply_AllFalseKeepsEverything(t *testing.T) {
	t.Parallel()

	mask := flags(hours(5), 0, 0, 0, 0, 0)

	out, err := masking.Apply(reference(), []*series.Table{mask}, temporal.Symmetric(0), masking.Open)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Len())
}

func TestApply_NoMasksReturnsReference(t *testing.T) {
	t.Parallel()

	ref := reference()

	out, err := masking.Apply(ref, nil, temporal.Symmetric(0), masking.Open)
	require.NoError(t, err)
	assert.Same(t, ref, out)
}

func TestApply_RemovesFlaggedRows(t *testing.T) {
	t.Parallel()

	frozen := flags(hours(5), 0, 1, 0, 0, 0)
	snow := flags(hours(5), 0, 0, 0, 1, 0)

	out, err := masking.Apply(reference(), []*series.Table{frozen, snow}, temporal.Symmetric(0), masking.Open)
	require.NoError(t, err)

	sm, _ := out.Column("sm")
	assert.Equal(t, []float64{1, 3, 5}, sm)
}

func TestCombine_UnmatchedPolicy(t *testing.T) {
	t.Parallel()

	// Mask covers only the first two hours, one of them NaN.
	mask := flags(hours(2), 0, math.NaN())

	tests := []struct {
		name   string
		policy masking.UnmatchedPolicy
		want   []bool
	}{
		{name: "open", policy: masking.Open, want: []bool{true, true, true, true, true}},
		{name: "closed", policy: masking.Closed, want: []bool{true, false, false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			keep, err := masking.Combine(reference(), []*series.Table{mask}, temporal.Symmetric(10*time.Minute), tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keep)
		})
	}
}

func TestApply_AddingMaskNeverIncreasesRows(t *testing.T) {
	t.Parallel()

	masks := []*series.Table{
		flags(hours(5), 0, 1, 0, 0, 0),
		flags(hours(3), 0, 0, 1),
		flags(hours(5), 1, 0, 0, 0, 0),
	}

	for _, policy := range []masking.UnmatchedPolicy{masking.Open, masking.Closed} {
		prev := reference().Len()

		for n := 1; n <= len(masks); n++ {
			out, err := masking.Apply(reference(), masks[:n], temporal.Symmetric(0), policy)
			require.NoError(t, err)
			assert.LessOrEqual(t, out.Len(), prev, "policy %s, %d masks", policy, n)

			prev = out.Len()
		}
	}
}

func TestParseUnmatchedPolicy(t *testing.T) {
	t.Parallel()

	p, err := masking.ParseUnmatchedPolicy("")
	require.NoError(t, err)
	assert.Equal(t, masking.Open, p)

	_, err = masking.ParseUnmatchedPolicy("ajar")
	require.ErrorIs(t, err, masking.ErrUnknownUnmatchedPolicy)

	_, err = masking.Combine(reference(), nil, temporal.Symmetric(0), masking.UnmatchedPolicy("ajar"))
	require.ErrorIs(t, err, masking.ErrUnknownUnmatchedPolicy)
}

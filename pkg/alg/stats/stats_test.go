package stats_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/geoval/pkg/alg/stats"
)

func TestMedian(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []float64
		want  float64
	}{
		{name: "empty", input: nil, want: 0},
		{name: "single", input: []float64{7}, want: 7},
		{name: "odd", input: []float64{9, 1, 5}, want: 5},
		{name: "even", input: []float64{4, 1, 3, 2}, want: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tt.want, stats.Median(tt.input), 1e-12)
		})
	}

	input := []float64{3, 1, 2}
	stats.Median(input)
	assert.Equal(t, []float64{3, 1, 2}, input)
}

func TestPercentileSorted(t *testing.T) {
	t.Parallel()

	seq := make([]float64, 100)
	for i := range seq {
		seq[i] = float64(i + 1)
	}

	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{name: "empty", sorted: nil, p: 0.5, want: 0},
		{name: "p95", sorted: seq, p: 0.95, want: 95.05},
		{name: "min", sorted: []float64{1, 5, 9}, p: 0, want: 1},
		{name: "max", sorted: []float64{1, 5, 9}, p: 1, want: 9},
		{name: "clamped_high", sorted: []float64{1, 5, 9}, p: 1.5, want: 9},
		{name: "clamped_low", sorted: []float64{1, 5, 9}, p: -1, want: 1},
		{name: "interpolated", sorted: []float64{0, 10}, p: 0.25, want: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tt.want, stats.PercentileSorted(tt.sorted, tt.p), 1e-9)
		})
	}
}

func TestMeanStdDev(t *testing.T) {
	t.Parallel()

	mean, sd := stats.MeanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	assert.InDelta(t, 2.0, sd, 1e-12)

	mean, sd = stats.MeanStdDev(nil)
	assert.Zero(t, mean)
	assert.Zero(t, sd)
}

func TestAverageRanks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []float64
		want  []float64
	}{
		{name: "distinct", input: []float64{30, 10, 20}, want: []float64{3, 1, 2}},
		{name: "pair_tie", input: []float64{1, 2, 2, 3}, want: []float64{1, 2.5, 2.5, 4}},
		{name: "all_tied", input: []float64{5, 5, 5}, want: []float64{2, 2, 2}},
		{name: "empty", input: nil, want: []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, stats.AverageRanks(tt.input))
		})
	}
}

func TestValidAndPick(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	sm := []float64{1, nan, 3, 4}
	ref := []float64{5, 6, nan, 8}

	rows := stats.Valid(sm, ref)
	assert.Equal(t, []int{0, 3}, rows)
	assert.Equal(t, []float64{1, 4}, stats.Pick(sm, rows))
	assert.Nil(t, stats.Valid())
}

// Package stats holds the numeric helpers shared by scaling, metrics and
// reporting. NaN marks a missing observation; deviations are population
// deviations.
package stats

import (
	"cmp"
	"math"
	"slices"
)

// MeanStdDev returns the mean and population standard deviation of values,
// or (0, 0) when values is empty.
func MeanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	n := float64(len(values))

	for _, v := range values {
		mean += v
	}

	mean /= n

	var ss float64

	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}

	return mean, math.Sqrt(ss / n)
}

// Median returns the middle of values, averaging the two central elements
// for an even count. It returns 0 for no values and leaves values untouched.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	return PercentileSorted(slices.Sorted(slices.Values(values)), 0.5)
}

// PercentileSorted interpolates the p-th quantile, p in [0, 1], of an
// ascending slice.
func PercentileSorted(sorted []float64, p float64) float64 {
	last := len(sorted) - 1
	if last < 0 {
		return 0
	}

	pos := max(0, min(p, 1)) * float64(last)
	lo := int(pos)

	if lo == last {
		return sorted[last]
	}

	frac := pos - float64(lo)

	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// AverageRanks returns 1-based ranks of values; ties share the mean of the
// ranks they cover.
func AverageRanks(values []float64) []float64 {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}

	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(values[a], values[b]) })

	ranks := make([]float64, len(values))

	for lo := 0; lo < len(order); {
		hi := lo + 1
		for hi < len(order) && values[order[hi]] == values[order[lo]] {
			hi++
		}

		shared := float64(lo+hi+1) / 2
		for _, i := range order[lo:hi] {
			ranks[i] = shared
		}

		lo = hi
	}

	return ranks
}

// Valid lists the rows at which every column is non-NaN. Columns must be
// equally long.
func Valid(columns ...[]float64) []int {
	if len(columns) == 0 {
		return nil
	}

	rows := make([]int, 0, len(columns[0]))

rowLoop:
	for i := range columns[0] {
		for _, col := range columns {
			if math.IsNaN(col[i]) {
				continue rowLoop
			}
		}

		rows = append(rows, i)
	}

	return rows
}

// Pick gathers values at rows.
func Pick(values []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = values[row]
	}

	return out
}

package temporal

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// Match aligns every candidate onto the reference timestamps.
//
// For each reference time t and each candidate, the observation with the
// smallest |dt| inside the window is taken; ties go to the earlier
// observation. Columns are ordered reference first, then candidates by
// dataset name. A result without rows is not an error: callers check
// Matched.Empty and report ErrNoTemporalOverlap.
func Match(ref *series.Table, refName string, candidates map[string]*series.Table, w Window, policy Policy) (*Matched, error) {
	err := w.Validate()
	if err != nil {
		return nil, err
	}

	if policy != Strict && policy != Lenient {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	if ref == nil {
		ref = series.Empty()
	}

	refIndex := ref.Index()
	keys := make([]series.ColumnKey, 0, len(ref.Names()))
	values := make(map[series.ColumnKey][]float64)
	offsets := make(map[string][]time.Duration, len(candidates))

	for _, name := range ref.Names() {
		key := series.ColumnKey{Dataset: refName, Column: name}
		col, _ := ref.Column(name)
		keys = append(keys, key)
		values[key] = col
	}

	names := make([]string, 0, len(candidates))
	for name := range candidates {
		if name != refName {
			names = append(names, name)
		}
	}

	slices.Sort(names)

	for _, name := range names {
		cand := candidates[name]
		if cand == nil {
			continue
		}

		picks := Nearest(refIndex, cand.Index(), w)
		off := make([]time.Duration, len(refIndex))
		candIndex := cand.Index()

		for i, p := range picks {
			off[i] = Unmatched
			if p >= 0 {
				off[i] = candIndex[p].Sub(refIndex[i])
			}
		}

		offsets[name] = off

		for _, column := range cand.Names() {
			key := series.ColumnKey{Dataset: name, Column: column}
			src, _ := cand.Column(column)
			col := make([]float64, len(refIndex))

			for i, p := range picks {
				col[i] = math.NaN()
				if p >= 0 {
					col[i] = src[p]
				}
			}

			keys = append(keys, key)
			values[key] = col
		}
	}

	matched, err := NewMatched(refName, refIndex, keys, values, offsets)
	if err != nil {
		return nil, err
	}

	if policy == Lenient {
		return matched, nil
	}

	return matched.Filter(strictRows(matched, names)), nil
}

// Nearest returns, for each reference timestamp, the position of the nearest
// candidate timestamp inside the window, or -1. Both slices must be sorted.
// It performs a single merge-scan over the two indexes.
func Nearest(ref, cand []time.Time, w Window) []int {
	picks := make([]int, len(ref))
	p := 0

	for i, t := range ref {
		for p < len(cand) && cand[p].Before(t) {
			p++
		}

		best := -1

		var bestAbs time.Duration

		if p > 0 {
			dt := cand[p-1].Sub(t)
			if w.Contains(dt) {
				best, bestAbs = p-1, -dt
			}
		}

		if p < len(cand) {
			dt := cand[p].Sub(t)
			if w.Contains(dt) && (best < 0 || dt < bestAbs) {
				best = p
			}
		}

		picks[i] = best
	}

	return picks
}

func strictRows(m *Matched, candidates []string) []bool {
	keep := make([]bool, m.Len())

	for row := range keep {
		keep[row] = true

		for _, name := range candidates {
			off := m.Offsets(name)
			if off != nil && off[row] == Unmatched {
				keep[row] = false

				break
			}
		}

		if !keep[row] {
			continue
		}

		for _, key := range m.keys {
			if math.IsNaN(m.values[key][row]) {
				keep[row] = false

				break
			}
		}
	}

	return keep
}

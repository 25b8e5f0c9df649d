// Package combination runs metric calculators on every admissible subset of
// matched columns.
package combination

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/geoval/pkg/metrics"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
)

// Sentinel combination errors.
var (
	// ErrMetricComputation marks a calculator failure on one combination.
	ErrMetricComputation = errors.New("metric computation failed")
	// ErrInvalidSpec is returned for an inconsistent combination spec.
	ErrInvalidSpec = errors.New("invalid combination spec")
)

// Entry binds a calculator to match groups of N datasets and combinations of K columns.
type Entry struct {
	N          int
	K          int
	Calculator metrics.Calculator

	// ReferenceOnly restricts combinations to those containing the reference column.
	ReferenceOnly bool
}

// Spec is the validated set of entries, keyed by (N, K).
type Spec struct {
	entries []Entry
}

// NewSpec validates entries against the configured match-group sizes.
func NewSpec(groupSizes []int, entries ...Entry) (*Spec, error) {
	seen := make(map[[2]int]bool, len(entries))

	for _, e := range entries {
		switch {
		case e.Calculator == nil:
			return nil, fmt.Errorf("%w: (%d,%d) has no calculator", ErrInvalidSpec, e.N, e.K)
		case e.K < 2 || e.K > e.N:
			return nil, fmt.Errorf("%w: (%d,%d) needs 2 <= k <= n", ErrInvalidSpec, e.N, e.K)
		case !slices.Contains(groupSizes, e.N):
			return nil, fmt.Errorf("%w: (%d,%d) matches no group of size %d (sizes %v)", ErrInvalidSpec, e.N, e.K, e.N, groupSizes)
		case e.Calculator.Columns() != e.K:
			return nil, fmt.Errorf("%w: (%d,%d) calculator %s expects %d columns",
				ErrInvalidSpec, e.N, e.K, e.Calculator.Name(), e.Calculator.Columns())
		case seen[[2]int{e.N, e.K}]:
			return nil, fmt.Errorf("%w: (%d,%d) registered twice", ErrInvalidSpec, e.N, e.K)
		}

		seen[[2]int{e.N, e.K}] = true
	}

	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.N, b.N), cmp.Compare(a.K, b.K))
	})

	return &Spec{entries: sorted}, nil
}

// For returns the entries of a group size, ordered by K.
func (s *Spec) For(n int) []Entry {
	var out []Entry

	for _, e := range s.entries {
		if e.N == n {
			out = append(out, e)
		}
	}

	return out
}

// Entries returns every entry ordered by (N, K).
func (s *Spec) Entries() []Entry {
	return slices.Clone(s.entries)
}

// CanonicalOrder puts ref first, then the remaining keys by dataset name,
// keeping column order within a dataset. Keys not in the table are ignored.
func CanonicalOrder(keys []series.ColumnKey, ref series.ColumnKey) []series.ColumnKey {
	out := make([]series.ColumnKey, 0, len(keys))
	rest := make([]series.ColumnKey, 0, len(keys))

	for _, k := range keys {
		if k == ref {
			out = append(out, k)

			continue
		}

		rest = append(rest, k)
	}

	slices.SortStableFunc(rest, func(a, b series.ColumnKey) int {
		return cmp.Compare(a.Dataset, b.Dataset)
	})

	return append(out, rest...)
}

// Combinations returns every k-subset of keys in lexicographic position order,
// skipping subsets with two columns of one dataset. With refOnly only subsets
// holding ref are kept.
func Combinations(keys []series.ColumnKey, k int, ref series.ColumnKey, refOnly bool) [][]series.ColumnKey {
	var out [][]series.ColumnKey

	n := len(keys)
	if k <= 0 || k > n {
		return nil
	}

	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}

	for {
		combo := make([]series.ColumnKey, k)
		for i, j := range idx {
			combo[i] = keys[j]
		}

		if admissible(combo, ref, refOnly) {
			out = append(out, combo)
		}

		// Advance to the next index tuple.
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}

		if i < 0 {
			return out
		}

		idx[i]++

		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

func admissible(combo []series.ColumnKey, ref series.ColumnKey, refOnly bool) bool {
	if refOnly && !slices.Contains(combo, ref) {
		return false
	}

	for i := range combo {
		for j := i + 1; j < len(combo); j++ {
			if combo[i].Dataset == combo[j].Dataset {
				return false
			}
		}
	}

	return true
}

// Dispatch runs every entry of the group size over its combinations. Rows
// with NaN in the selected columns are dropped before a calculator runs. A
// calculator failure is recorded in the outcome; other combinations go on.
// Cancellation stops dispatch and returns the outcomes gathered so far.
func Dispatch(ctx context.Context, m *temporal.Matched, groupSize int, ref series.ColumnKey, spec *Spec) map[results.Key]results.Outcome {
	out := make(map[results.Key]results.Outcome)
	keys := CanonicalOrder(m.Keys(), ref)

	for _, entry := range spec.For(groupSize) {
		for _, combo := range Combinations(keys, entry.K, ref, entry.ReferenceOnly) {
			if ctx.Err() != nil {
				return out
			}

			out[results.NewKey(combo...)] = run(entry.Calculator, m, combo)
		}
	}

	return out
}

func run(calc metrics.Calculator, m *temporal.Matched, combo []series.ColumnKey) (outcome results.Outcome) {
	outcome.Calculator = calc.Name()

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("%w: %s on %s: panic: %v", ErrMetricComputation, calc.Name(), results.NewKey(combo...), r)
		}
	}()

	index, columns, err := m.Rows(combo...)
	if err != nil {
		outcome.Err = fmt.Errorf("%w: %w", ErrMetricComputation, err)

		return outcome
	}

	values, err := calc.Calc(metrics.NewAligned(index, columns))
	if err != nil {
		outcome.Err = fmt.Errorf("%w: %s on %s: %w", ErrMetricComputation, calc.Name(), results.NewKey(combo...), err)

		return outcome
	}

	outcome.Values = values

	return outcome
}

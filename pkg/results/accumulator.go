package results

import (
	"cmp"
	"slices"
	"sync"
)

// Accumulator merges per-job results. It is safe for concurrent use.
type Accumulator struct {
	mu   sync.Mutex
	data ByKey
	jobs int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{data: make(ByKey)}
}

// Add appends one job's results.
func (a *Accumulator) Add(results ByKey) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.jobs++

	for key, recs := range results {
		a.data[key] = append(a.data[key], recs...)
	}
}

// Jobs returns how many result sets were added.
func (a *Accumulator) Jobs() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.jobs
}

// Snapshot returns a copy of the accumulated records, each key's records
// sorted by (gpi, lon, lat, calculator), so the content does not depend on
// the order in which jobs finished.
func (a *Accumulator) Snapshot() ByKey {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(ByKey, len(a.data))

	for key, recs := range a.data {
		sorted := slices.Clone(recs)
		slices.SortStableFunc(sorted, compareRecords)
		out[key] = sorted
	}

	return out
}

func compareRecords(x, y Record) int {
	return cmp.Or(
		cmp.Compare(x.GPI, y.GPI),
		cmp.Compare(x.Lon, y.Lon),
		cmp.Compare(x.Lat, y.Lat),
		cmp.Compare(x.Calculator, y.Calculator),
	)
}

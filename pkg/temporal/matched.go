package temporal

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// Unmatched is the offset recorded for a reference row without a partner.
const Unmatched = time.Duration(math.MinInt64)

// ErrShapeMismatch is returned when a replacement column has the wrong length.
var ErrShapeMismatch = errors.New("column shape mismatch")

// Matched is the aligned table produced by Match: one row per surviving
// reference timestamp, one column per (dataset, column) key.
type Matched struct {
	reference string
	index     []time.Time
	keys      []series.ColumnKey
	values    map[series.ColumnKey][]float64
	offsets   map[string][]time.Duration
}

// NewMatched builds a matched table directly. Offsets may be nil.
func NewMatched(reference string, index []time.Time, keys []series.ColumnKey,
	values map[series.ColumnKey][]float64, offsets map[string][]time.Duration,
) (*Matched, error) {
	for _, key := range keys {
		col, ok := values[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", series.ErrUnknownColumn, key)
		}

		if len(col) != len(index) {
			return nil, fmt.Errorf("%w: %s has %d values, index has %d", ErrShapeMismatch, key, len(col), len(index))
		}
	}

	if offsets == nil {
		offsets = make(map[string][]time.Duration)
	}

	return &Matched{
		reference: reference,
		index:     index,
		keys:      slices.Clone(keys),
		values:    values,
		offsets:   offsets,
	}, nil
}

// Reference returns the temporal reference dataset name.
func (m *Matched) Reference() string {
	if m == nil {
		return ""
	}

	return m.reference
}

// Len returns the number of rows.
func (m *Matched) Len() int {
	if m == nil {
		return 0
	}

	return len(m.index)
}

// Empty reports whether no row survived.
func (m *Matched) Empty() bool { return m.Len() == 0 }

// Index returns the reference timestamps. The slice must not be modified.
func (m *Matched) Index() []time.Time { return m.index }

// Keys returns the column keys in canonical order.
func (m *Matched) Keys() []series.ColumnKey { return slices.Clone(m.keys) }

// Has reports whether the key is a column.
func (m *Matched) Has(key series.ColumnKey) bool {
	_, ok := m.values[key]

	return ok
}

// Column returns the values of a key. The slice must not be modified.
func (m *Matched) Column(key series.ColumnKey) ([]float64, bool) {
	col, ok := m.values[key]

	return col, ok
}

// Offsets returns, per row, the matched observation time minus the reference
// time for a candidate dataset, or Unmatched.
func (m *Matched) Offsets(dataset string) []time.Duration {
	return m.offsets[dataset]
}

// Datasets returns the dataset names in column order without repeats.
func (m *Matched) Datasets() []string {
	var names []string

	for _, key := range m.keys {
		if !slices.Contains(names, key.Dataset) {
			names = append(names, key.Dataset)
		}
	}

	return names
}

// Replace returns a copy of m whose given columns are swapped for new values.
// The receiver is not modified.
func (m *Matched) Replace(columns map[series.ColumnKey][]float64) (*Matched, error) {
	values := make(map[series.ColumnKey][]float64, len(m.values))
	for key, col := range m.values {
		values[key] = col
	}

	for key, col := range columns {
		if _, ok := m.values[key]; !ok {
			return nil, fmt.Errorf("%w: %s", series.ErrUnknownColumn, key)
		}

		if len(col) != len(m.index) {
			return nil, fmt.Errorf("%w: %s has %d values, index has %d", ErrShapeMismatch, key, len(col), len(m.index))
		}

		values[key] = col
	}

	return &Matched{
		reference: m.reference,
		index:     m.index,
		keys:      m.keys,
		values:    values,
		offsets:   m.offsets,
	}, nil
}

// Rows returns the values of the given keys restricted to rows where all of
// them are valid, along with the surviving timestamps.
func (m *Matched) Rows(keys ...series.ColumnKey) ([]time.Time, [][]float64, error) {
	cols := make([][]float64, len(keys))

	for i, key := range keys {
		col, ok := m.values[key]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", series.ErrUnknownColumn, key)
		}

		cols[i] = col
	}

	index := make([]time.Time, 0, len(m.index))
	out := make([][]float64, len(keys))

	for row, ts := range m.index {
		if !rowValid(cols, row) {
			continue
		}

		index = append(index, ts)

		for i, col := range cols {
			out[i] = append(out[i], col[row])
		}
	}

	return index, out, nil
}

// Filter returns the rows for which keep is true.
func (m *Matched) Filter(keep []bool) *Matched {
	index := make([]time.Time, 0, len(m.index))
	values := make(map[series.ColumnKey][]float64, len(m.keys))
	offsets := make(map[string][]time.Duration, len(m.offsets))

	for row, ts := range m.index {
		if !keep[row] {
			continue
		}

		index = append(index, ts)

		for _, key := range m.keys {
			values[key] = append(values[key], m.values[key][row])
		}

		for name, off := range m.offsets {
			offsets[name] = append(offsets[name], off[row])
		}
	}

	for _, key := range m.keys {
		if values[key] == nil {
			values[key] = []float64{}
		}
	}

	return &Matched{
		reference: m.reference,
		index:     index,
		keys:      m.keys,
		values:    values,
		offsets:   offsets,
	}
}

func rowValid(cols [][]float64, row int) bool {
	for _, col := range cols {
		if math.IsNaN(col[row]) {
			return false
		}
	}

	return true
}

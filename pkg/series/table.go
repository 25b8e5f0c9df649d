// Package series defines the time-indexed tables, dataset descriptors and
// job identities shared by every stage of a validation run.
package series

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Sentinel table errors.
var (
	ErrUnsortedIndex  = errors.New("index must be strictly increasing")
	ErrLengthMismatch = errors.New("column length does not match index length")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrDuplicateName  = errors.New("duplicate column name")
)

// Table is a time-indexed sequence of rows with named float64 columns.
// NaN marks a missing value. Boolean series store 0 (false) and 1 (true).
type Table struct {
	index   []time.Time
	names   []string
	columns map[string][]float64
}

// NewTable validates and builds a table. Columns are stored in the order of names.
// The slices are taken over; callers must not modify them afterwards.
func NewTable(index []time.Time, names []string, values map[string][]float64) (*Table, error) {
	for i := 1; i < len(index); i++ {
		if !index[i].After(index[i-1]) {
			return nil, fmt.Errorf("%w: position %d (%s)", ErrUnsortedIndex, i, index[i].Format(time.RFC3339))
		}
	}

	columns := make(map[string][]float64, len(names))

	for _, name := range names {
		if _, dup := columns[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}

		col, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}

		if len(col) != len(index) {
			return nil, fmt.Errorf("%w: %s has %d values, index has %d", ErrLengthMismatch, name, len(col), len(index))
		}

		columns[name] = col
	}

	return &Table{
		index:   index,
		names:   slices.Clone(names),
		columns: columns,
	}, nil
}

// MustTable is NewTable that panics on error. Intended for tests and fixtures.
func MustTable(index []time.Time, names []string, values map[string][]float64) *Table {
	tbl, err := NewTable(index, names, values)
	if err != nil {
		panic(err)
	}

	return tbl
}

// Empty returns a table with the given columns and no rows.
func Empty(names ...string) *Table {
	values := make(map[string][]float64, len(names))
	for _, name := range names {
		values[name] = []float64{}
	}

	return MustTable([]time.Time{}, names, values)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.index)
}

// IsEmpty reports whether the table is nil or has no rows.
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// Index returns the row timestamps. The slice must not be modified.
func (t *Table) Index() []time.Time {
	return t.index
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	return slices.Clone(t.names)
}

// Has reports whether the table holds the named column.
func (t *Table) Has(name string) bool {
	_, ok := t.columns[name]

	return ok
}

// Column returns the values of a column. The slice must not be modified.
func (t *Table) Column(name string) ([]float64, bool) {
	col, ok := t.columns[name]

	return col, ok
}

// Select returns a table restricted to the given columns, in that order.
func (t *Table) Select(names ...string) (*Table, error) {
	values := make(map[string][]float64, len(names))

	for _, name := range names {
		col, ok := t.columns[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}

		values[name] = col
	}

	return NewTable(t.index, names, values)
}

// Filter returns the rows for which keep is true. keep must have Len() entries.
func (t *Table) Filter(keep []bool) *Table {
	index := make([]time.Time, 0, len(t.index))
	values := make(map[string][]float64, len(t.names))

	for _, name := range t.names {
		values[name] = make([]float64, 0, len(t.index))
	}

	for i, ts := range t.index {
		if !keep[i] {
			continue
		}

		index = append(index, ts)

		for _, name := range t.names {
			values[name] = append(values[name], t.columns[name][i])
		}
	}

	return &Table{index: index, names: slices.Clone(t.names), columns: values}
}

// Between returns the rows inside the period. A zero period returns t.
func (t *Table) Between(p Period) *Table {
	if p.IsZero() {
		return t
	}

	keep := make([]bool, len(t.index))
	for i, ts := range t.index {
		keep[i] = p.Contains(ts)
	}

	return t.Filter(keep)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	values := make(map[string][]float64, len(t.names))
	for _, name := range t.names {
		values[name] = slices.Clone(t.columns[name])
	}

	return &Table{index: slices.Clone(t.index), names: slices.Clone(t.names), columns: values}
}

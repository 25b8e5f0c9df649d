package series

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is an inclusive time range. A zero bound is open.
type Period struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether both bounds are open.
func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

// Contains reports whether ts lies inside the period, bounds included.
func (p Period) Contains(ts time.Time) bool {
	if !p.Start.IsZero() && ts.Before(p.Start) {
		return false
	}

	if !p.End.IsZero() && ts.After(p.End) {
		return false
	}

	return true
}

// Descriptor identifies a data source and the columns read from it.
type Descriptor struct {
	// Name is the dataset name used in results keys.
	Name string

	// Columns are the column names of interest, in output order.
	Columns []string

	// ReadArgs are extra parameters passed to the reader on every call.
	ReadArgs map[string]string

	// Period optionally restricts the series after reading.
	Period Period
}

// Validate checks the dataset name and every column name with ValidateName.
func (d Descriptor) Validate() error {
	err := ValidateName(d.Name)
	if err != nil {
		return err
	}

	for _, col := range d.Columns {
		err = ValidateName(col)
		if err != nil {
			return fmt.Errorf("dataset %s column: %w", d.Name, err)
		}
	}

	return nil
}

// ColumnKey names one column of one dataset.
type ColumnKey struct {
	Dataset string `json:"dataset"`
	Column  string `json:"column"`
}

// String renders the key as "dataset.column".
func (k ColumnKey) String() string {
	return k.Dataset + "." + k.Column
}

// Job identifies one validation point.
type Job struct {
	GPI int64   `json:"gpi"`
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// String renders the job for logs.
func (j Job) String() string {
	return fmt.Sprintf("gpi=%d lon=%s lat=%s", j.GPI,
		strconv.FormatFloat(j.Lon, 'f', -1, 64),
		strconv.FormatFloat(j.Lat, 'f', -1, 64))
}

// GridPoint is one entry of a reader's spatial index.
type GridPoint struct {
	GPI int64
	Lon float64
	Lat float64
}

// Job converts a grid point to the job identity.
func (g GridPoint) Job() Job {
	return Job(g)
}

// ParseColumnKey parses "dataset.column". The column part may not be empty.
func ParseColumnKey(s string) (ColumnKey, error) {
	ds, col, ok := strings.Cut(s, ".")
	if !ok || ds == "" || col == "" {
		return ColumnKey{}, fmt.Errorf("%w: %q, want dataset.column", ErrUnknownColumn, s)
	}

	return ColumnKey{Dataset: ds, Column: col}, nil
}

// ErrInvalidName is returned for a dataset or column name that cannot appear
// in a results key.
var ErrInvalidName = errors.New("invalid name")

// ValidateName checks that a dataset or column name can be rendered into and
// parsed back from a results key.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, ".()") || strings.Contains(name, ", ") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}

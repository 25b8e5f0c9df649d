// Package results collects metric outcomes keyed by the columns that
// produced them.
package results

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/geoval/pkg/metrics"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// ErrMalformedKey is returned when a key string cannot be parsed.
var ErrMalformedKey = errors.New("malformed results key")

// Key formatting.
const (
	keyOpen      = "("
	keyClose     = ")"
	keySeparator = ", "
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key is the canonical rendering of an ordered tuple of column keys,
// e.g. "(ISMN.sm, ASCAT.sm)".
type Key string

// NewKey renders a tuple of column keys.
func NewKey(columns ...series.ColumnKey) Key {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c.String()
	}

	return Key(keyOpen + strings.Join(parts, keySeparator) + keyClose)
}

// ParseKey parses a rendered key back into its tuple.
func ParseKey(s string) ([]series.ColumnKey, error) {
	inner, ok := strings.CutPrefix(s, keyOpen)
	if ok {
		inner, ok = strings.CutSuffix(inner, keyClose)
	}

	if !ok || inner == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	parts := strings.Split(inner, keySeparator)
	columns := make([]series.ColumnKey, len(parts))

	for i, part := range parts {
		col, err := series.ParseColumnKey(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
		}

		columns[i] = col
	}

	return columns, nil
}

// Columns returns the tuple of the key; malformed keys yield nil.
func (k Key) Columns() []series.ColumnKey {
	columns, err := ParseKey(string(k))
	if err != nil {
		return nil
	}

	return columns
}

// Slug renders the key as a file-system safe name.
func (k Key) Slug() string {
	parts := make([]string, 0, 4)
	for _, c := range k.Columns() {
		parts = append(parts, c.Dataset+"."+c.Column)
	}

	return unsafeFileChars.ReplaceAllString(strings.Join(parts, "_with_"), "_")
}

// Outcome is the result of one calculator on one column combination.
type Outcome struct {
	Calculator string
	Values     metrics.Values
	Err        error
}

// Record is one job's metric values for one key.
type Record struct {
	GPI        int64                `json:"gpi"`
	Lon        float64              `json:"lon"`
	Lat        float64              `json:"lat"`
	Calculator string               `json:"calculator"`
	Scalars    map[string]float64   `json:"scalars"`
	Arrays     map[string][]float64 `json:"arrays,omitempty"`
	Err        string               `json:"err,omitempty"`
}

// Job returns the identity of the record.
func (r Record) Job() series.Job {
	return series.Job{GPI: r.GPI, Lon: r.Lon, Lat: r.Lat}
}

// Failed reports whether the record carries an error marker.
func (r Record) Failed() bool { return r.Err != "" }

// ByKey groups records by results key.
type ByKey map[Key][]Record

// Keys returns the keys in sorted order.
func (b ByKey) Keys() []Key {
	keys := make([]Key, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// Len returns the total number of records.
func (b ByKey) Len() int {
	n := 0
	for _, recs := range b {
		n += len(recs)
	}

	return n
}

// Aggregate turns one job's outcomes into records carrying the job identity.
func Aggregate(job series.Job, outcomes map[Key]Outcome) ByKey {
	out := make(ByKey, len(outcomes))

	for key, outcome := range outcomes {
		rec := Record{
			GPI:        job.GPI,
			Lon:        job.Lon,
			Lat:        job.Lat,
			Calculator: outcome.Calculator,
			Scalars:    outcome.Values.Scalars,
			Arrays:     outcome.Values.Arrays,
		}

		if outcome.Err != nil {
			rec.Err = outcome.Err.Error()
		}

		if rec.Scalars == nil {
			rec.Scalars = map[string]float64{}
		}

		out[key] = append(out[key], rec)
	}

	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

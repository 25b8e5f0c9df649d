// Package metrics provides the calculators run on aligned series.
//
// A Calculator sees an Aligned table whose columns are named by position:
// "ref" for the reference, then "k1", "k2" and so on. It returns named scalar
// and array values. Calculators must tolerate short input (two rows) and
// report undefined quantities as NaN rather than failing.
package metrics

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// RefRole is the positional name of the reference column.
const RefRole = "ref"

// Sentinel metric errors.
var (
	// ErrInsufficientObservations signals fewer rows than a calculator accepts.
	ErrInsufficientObservations = errors.New("insufficient observations")
	// ErrColumnCount signals an aligned table with the wrong number of columns.
	ErrColumnCount = errors.New("unexpected column count")
	// ErrUnknownCalculator is returned by the registry for an unknown name.
	ErrUnknownCalculator = errors.New("unknown metric calculator")
	// ErrDuplicateCalculator is returned when a registry receives a name twice.
	ErrDuplicateCalculator = errors.New("duplicate metric calculator")
)

// Roles returns the positional column names for k columns: ref, k1, k2, ...
func Roles(k int) []string {
	roles := make([]string, 0, k)

	for i := range k {
		if i == 0 {
			roles = append(roles, RefRole)

			continue
		}

		roles = append(roles, "k"+strconv.Itoa(i))
	}

	return roles
}

// Aligned is a fully valid positional table handed to a calculator.
type Aligned struct {
	Index   []time.Time
	Roles   []string
	Columns [][]float64
}

// NewAligned builds an aligned table; column i gets role Roles(len)[i].
func NewAligned(index []time.Time, columns [][]float64) *Aligned {
	return &Aligned{Index: index, Roles: Roles(len(columns)), Columns: columns}
}

// Len returns the number of rows.
func (a *Aligned) Len() int { return len(a.Index) }

// Column returns the values of a role.
func (a *Aligned) Column(role string) ([]float64, bool) {
	i := slices.Index(a.Roles, role)
	if i < 0 {
		return nil, false
	}

	return a.Columns[i], true
}

// Values holds the output of a calculator.
type Values struct {
	Scalars map[string]float64   `json:"scalars"`
	Arrays  map[string][]float64 `json:"arrays,omitempty"`
}

// NewValues creates empty result maps.
func NewValues() Values {
	return Values{Scalars: make(map[string]float64), Arrays: make(map[string][]float64)}
}

// Names returns scalar names followed by array names, each sorted.
func (v Values) Names() []string {
	scalars := make([]string, 0, len(v.Scalars))
	for name := range v.Scalars {
		scalars = append(scalars, name)
	}

	arrays := make([]string, 0, len(v.Arrays))
	for name := range v.Arrays {
		arrays = append(arrays, name)
	}

	slices.Sort(scalars)
	slices.Sort(arrays)

	return append(scalars, arrays...)
}

// Calculator computes metrics on an aligned table.
type Calculator interface {
	// Name returns the machine-readable identifier (snake_case, unique).
	Name() string

	// Description returns what the calculator produces.
	Description() string

	// Columns returns the number of columns the calculator expects.
	Columns() int

	// Calc computes the metrics.
	Calc(a *Aligned) (Values, error)
}

// Meta holds the common metadata for a calculator.
// Embed this in calculator implementations to satisfy metadata methods.
type Meta struct {
	CalcName        string
	CalcDescription string
	CalcColumns     int
}

// Name returns the machine-readable identifier.
func (m Meta) Name() string { return m.CalcName }

// Description returns what the calculator produces.
func (m Meta) Description() string { return m.CalcDescription }

// Columns returns the number of columns the calculator expects.
func (m Meta) Columns() int { return m.CalcColumns }

func checkShape(m Meta, a *Aligned, minObs int) error {
	if len(a.Columns) != m.CalcColumns {
		return fmt.Errorf("%w: %s needs %d, got %d", ErrColumnCount, m.CalcName, m.CalcColumns, len(a.Columns))
	}

	if a.Len() < minObs {
		return fmt.Errorf("%w: %s needs %d, got %d", ErrInsufficientObservations, m.CalcName, minObs, a.Len())
	}

	return nil
}

// Constructor builds a calculator from a minimum observation count.
type Constructor func(minObs int) Calculator

// Registry maps calculator names to constructors.
type Registry struct {
	index map[string]Constructor
}

// NewRegistry creates an empty calculator registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]Constructor)}
}

// DefaultRegistry holds the bundled calculators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.index[BasicName] = func(minObs int) Calculator { return NewBasicMetrics(minObs) }
	r.index[TripleCollocationName] = func(minObs int) Calculator { return NewTripleCollocationMetrics(minObs) }

	return r
}

// Register adds a constructor.
func (r *Registry) Register(name string, ctor Constructor) error {
	if _, exists := r.index[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCalculator, name)
	}

	r.index[name] = ctor

	return nil
}

// New builds the named calculator.
func (r *Registry) New(name string, minObs int) (Calculator, error) {
	ctor, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCalculator, name)
	}

	return ctor(minObs), nil
}

// Names returns all registered calculator names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.index))

	for name := range r.index {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

package scaling

import (
	"errors"
	"fmt"
	"slices"
)

// ErrDuplicateMethod is returned when a registry receives a name twice.
var ErrDuplicateMethod = errors.New("duplicate scaling method")

// Constructor builds a Method.
type Constructor func() Method

// Registry maps method names to constructors with deterministic ordering.
type Registry struct {
	ordered []string
	index   map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]Constructor)}
}

// DefaultRegistry holds every bundled method.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for name, ctor := range map[string]Constructor{
		IdentityName: Identity,
		MeanStdName:  MeanStd,
		MinMaxName:   MinMax,
		LinRegName:   LinReg,
		CDFMatchName: CDFMatch,
		TColName:     TCol,
	} {
		// Names are distinct.
		_ = r.Register(name, ctor)
	}

	return r
}

// Register adds a constructor.
func (r *Registry) Register(name string, ctor Constructor) error {
	if _, exists := r.index[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, name)
	}

	r.index[name] = ctor
	r.ordered = append(r.ordered, name)
	slices.Sort(r.ordered)

	return nil
}

// New builds the named method.
func (r *Registry) New(name string) (Method, error) {
	ctor, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownMethod, name, r.ordered)
	}

	return ctor(), nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.ordered)
}

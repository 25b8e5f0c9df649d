// Package masking removes reference observations flagged by auxiliary
// boolean series before temporal matching.
package masking

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
)

// ErrUnknownUnmatchedPolicy is returned for an unrecognized policy name.
var ErrUnknownUnmatchedPolicy = errors.New("unknown unmatched-mask policy")

// UnmatchedPolicy decides the fate of a reference row that a mask cannot
// speak for: no mask observation inside the window, or a NaN one.
type UnmatchedPolicy string

// Unmatched-row policies.
const (
	// Open treats an unmatched row as unmasked.
	Open UnmatchedPolicy = "open"
	// Closed treats an unmatched row as masked.
	Closed UnmatchedPolicy = "closed"
)

// ParseUnmatchedPolicy converts a configuration value. The empty string selects Open.
func ParseUnmatchedPolicy(s string) (UnmatchedPolicy, error) {
	switch UnmatchedPolicy(s) {
	case "", Open:
		return Open, nil
	case Closed:
		return Closed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownUnmatchedPolicy, s)
	}
}

// Combine returns, per reference row, whether the row survives every mask.
// A mask value other than 0 in any of its columns marks the row for removal.
func Combine(reference *series.Table, masks []*series.Table, w temporal.Window, policy UnmatchedPolicy) ([]bool, error) {
	err := w.Validate()
	if err != nil {
		return nil, err
	}

	if policy != Open && policy != Closed {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUnmatchedPolicy, policy)
	}

	keep := make([]bool, reference.Len())
	for i := range keep {
		keep[i] = true
	}

	for _, mask := range masks {
		if mask == nil {
			mask = series.Empty()
		}

		picks := temporal.Nearest(reference.Index(), mask.Index(), w)

		for row, p := range picks {
			if !keep[row] {
				continue
			}

			if p < 0 {
				keep[row] = policy == Open

				continue
			}

			keep[row] = evaluate(mask, p, policy)
		}
	}

	return keep, nil
}

// Apply removes the reference rows flagged by any mask. With no masks the
// reference is returned unchanged.
func Apply(reference *series.Table, masks []*series.Table, w temporal.Window, policy UnmatchedPolicy) (*series.Table, error) {
	if len(masks) == 0 {
		return reference, nil
	}

	keep, err := Combine(reference, masks, w, policy)
	if err != nil {
		return nil, err
	}

	return reference.Filter(keep), nil
}

// evaluate reports whether mask row p leaves the reference row in place.
func evaluate(mask *series.Table, p int, policy UnmatchedPolicy) bool {
	for _, name := range mask.Names() {
		col, _ := mask.Column(name)

		v := col[p]
		if math.IsNaN(v) {
			if policy == Closed {
				return false
			}

			continue
		}

		if v != 0 {
			return false
		}
	}

	return true
}

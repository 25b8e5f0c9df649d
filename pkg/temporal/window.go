// Package temporal aligns time series sampled at different instants onto the
// timestamps of a reference series.
package temporal

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel matcher errors.
var (
	// ErrNoTemporalOverlap signals that no reference row survived matching.
	ErrNoTemporalOverlap = errors.New("no temporal overlap")
	// ErrInvalidWindow is returned for a window with a negative bound.
	ErrInvalidWindow = errors.New("invalid matching window")
	// ErrUnknownPolicy is returned for an unrecognized row policy.
	ErrUnknownPolicy = errors.New("unknown matching policy")
)

// Window bounds the offset dt = candidate - reference accepted by the
// matcher: -Before <= dt <= After.
type Window struct {
	Before time.Duration
	After  time.Duration
}

// Symmetric returns a window accepting |dt| <= d.
func Symmetric(d time.Duration) Window {
	return Window{Before: d, After: d}
}

// Validate rejects negative bounds.
func (w Window) Validate() error {
	if w.Before < 0 || w.After < 0 {
		return fmt.Errorf("%w: before=%s after=%s", ErrInvalidWindow, w.Before, w.After)
	}

	return nil
}

// Contains reports whether a candidate offset lies inside the window.
func (w Window) Contains(dt time.Duration) bool {
	return dt >= -w.Before && dt <= w.After
}

// String renders the window as "-before/+after".
func (w Window) String() string {
	return fmt.Sprintf("-%s/+%s", w.Before, w.After)
}

// Policy decides which matched rows survive.
type Policy string

// Row policies.
const (
	// Strict keeps a row only when every dataset, reference included, has a
	// value for each of its columns.
	Strict Policy = "strict"
	// Lenient keeps every reference row; absent cells are NaN.
	Lenient Policy = "lenient"
)

// ParsePolicy converts a configuration value. The empty string selects Strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", Strict:
		return Strict, nil
	case Lenient:
		return Lenient, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

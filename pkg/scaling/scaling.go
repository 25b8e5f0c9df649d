// Package scaling transforms matched series into the data space of a
// reference column.
//
// A Method receives the reference values and every target column at once and
// returns new target columns. Most methods treat each target independently;
// they are written as a FitApplyFunc and wrapped with Pairwise. Fitting only
// sees rows where both reference and target are valid; NaN stays NaN.
package scaling

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/geoval/pkg/alg/stats"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
)

// Sentinel scaling errors.
var (
	// ErrDegenerateDistribution signals a constant (or too short) series.
	ErrDegenerateDistribution = errors.New("degenerate distribution")
	// ErrInsufficientColumns signals that a method needs more columns.
	ErrInsufficientColumns = errors.New("insufficient columns for scaling method")
	// ErrUnknownMethod is returned by the registry for an unknown name.
	ErrUnknownMethod = errors.New("unknown scaling method")
	// ErrUnknownReference is returned when the scaling reference is not a column.
	ErrUnknownReference = errors.New("scaling reference not in matched table")
	// ErrShape is returned when a method produces columns of the wrong length.
	ErrShape = errors.New("scaled column shape mismatch")
)

// Method rescales targets into the data space of ref.
type Method interface {
	Name() string
	Apply(ref []float64, targets [][]float64) ([][]float64, error)
}

// Transform maps one target value into reference space.
type Transform func(v float64) float64

// FitApplyFunc fits a transform from paired valid observations.
type FitApplyFunc func(ref, target []float64) (Transform, error)

type pairwise struct {
	name string
	fit  FitApplyFunc
}

// Pairwise turns a per-target fit into a Method.
func Pairwise(name string, fit FitApplyFunc) Method {
	return pairwise{name: name, fit: fit}
}

func (p pairwise) Name() string { return p.name }

func (p pairwise) Apply(ref []float64, targets [][]float64) ([][]float64, error) {
	out := make([][]float64, len(targets))

	for i, target := range targets {
		idx := stats.Valid(ref, target)

		transform, err := p.fit(stats.Pick(ref, idx), stats.Pick(target, idx))
		if err != nil {
			return nil, fmt.Errorf("%s target %d: %w", p.name, i, err)
		}

		out[i] = mapValid(target, transform)
	}

	return out, nil
}

func mapValid(values []float64, transform Transform) []float64 {
	out := make([]float64, len(values))

	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = v

			continue
		}

		out[i] = transform(v)
	}

	return out
}

// Scale rescales every column of m except ref. The input is not modified.
func Scale(m *temporal.Matched, ref series.ColumnKey, method Method) (*temporal.Matched, error) {
	refCol, ok := m.Column(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReference, ref)
	}

	var (
		keys    []series.ColumnKey
		targets [][]float64
	)

	for _, key := range m.Keys() {
		if key == ref {
			continue
		}

		col, _ := m.Column(key)
		keys = append(keys, key)
		targets = append(targets, col)
	}

	scaled, err := method.Apply(refCol, targets)
	if err != nil {
		return nil, err
	}

	if len(scaled) != len(keys) {
		return nil, fmt.Errorf("%w: %s returned %d columns for %d targets", ErrShape, method.Name(), len(scaled), len(keys))
	}

	replace := make(map[series.ColumnKey][]float64, len(keys))
	for i, key := range keys {
		replace[key] = scaled[i]
	}

	out, err := m.Replace(replace)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShape, err)
	}

	return out, nil
}

package readers

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/geoval/pkg/fetch"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// MaskColumn is the column name of every series produced by MaskAdapter.
const MaskColumn = "mask"

// ErrUnknownOperator is returned for an unsupported comparison operator.
var ErrUnknownOperator = errors.New("unknown comparison operator")

// Operator compares an observation with a threshold.
type Operator func(value, threshold float64) bool

var operators = map[string]Operator{
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"==": func(v, t float64) bool { return v == t },
	"!=": func(v, t float64) bool { return v != t },
}

// ParseOperator resolves an operator symbol such as "<" or ">=".
func ParseOperator(symbol string) (Operator, error) {
	op, ok := operators[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, symbol)
	}

	return op, nil
}

// MaskAdapter turns any reader into a boolean series reader: an observation
// whose column satisfies "value <op> threshold" is marked 1 (drop), others 0.
// NaN observations stay NaN and are resolved by the masking policy.
type MaskAdapter struct {
	name      string
	inner     fetch.Readable
	column    string
	op        Operator
	symbol    string
	threshold float64
}

// NewMaskAdapter wraps a reader.
func NewMaskAdapter(name string, inner fetch.Readable, column, symbol string, threshold float64) (*MaskAdapter, error) {
	op, err := ParseOperator(symbol)
	if err != nil {
		return nil, err
	}

	return &MaskAdapter{
		name:      name,
		inner:     inner,
		column:    column,
		op:        op,
		symbol:    symbol,
		threshold: threshold,
	}, nil
}

// Name implements fetch.Readable.
func (m *MaskAdapter) Name() string {
	return fmt.Sprintf("%s(%s.%s %s %g)", m.name, m.inner.Name(), m.column, m.symbol, m.threshold)
}

// ReadByID implements fetch.IDReader.
func (m *MaskAdapter) ReadByID(ctx context.Context, gpi int64, args map[string]string) (*series.Table, error) {
	reader, ok := m.inner.(fetch.IDReader)
	if !ok {
		return nil, fmt.Errorf("%w: %s by id", fetch.ErrConvention, m.inner.Name())
	}

	tbl, err := reader.ReadByID(ctx, gpi, args)
	if err != nil {
		return nil, err
	}

	return m.apply(tbl)
}

// ReadByCoords implements fetch.CoordReader.
func (m *MaskAdapter) ReadByCoords(ctx context.Context, lon, lat float64, args map[string]string) (*series.Table, error) {
	reader, ok := m.inner.(fetch.CoordReader)
	if !ok {
		return nil, fmt.Errorf("%w: %s by coordinates", fetch.ErrConvention, m.inner.Name())
	}

	tbl, err := reader.ReadByCoords(ctx, lon, lat, args)
	if err != nil {
		return nil, err
	}

	return m.apply(tbl)
}

func (m *MaskAdapter) apply(tbl *series.Table) (*series.Table, error) {
	col, ok := tbl.Column(m.column)
	if !ok {
		return nil, fmt.Errorf("%w: %s", series.ErrUnknownColumn, m.column)
	}

	out := make([]float64, len(col))

	for i, v := range col {
		switch {
		case math.IsNaN(v):
			out[i] = math.NaN()
		case m.op(v, m.threshold):
			out[i] = 1
		default:
			out[i] = 0
		}
	}

	return series.NewTable(tbl.Index(), []string{MaskColumn}, map[string][]float64{MaskColumn: out})
}

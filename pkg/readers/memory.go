package readers

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// coordTolerance is the maximum lon/lat distance (degrees) accepted by
// MemoryReader.ReadByCoords when resolving a point.
const coordTolerance = 1e-6

// MemoryReader serves pre-built tables keyed by grid point.
// It is safe for concurrent reads once populated.
type MemoryReader struct {
	name string

	mu     sync.RWMutex
	points map[int64]series.GridPoint
	tables map[int64]*series.Table
	order  []int64
}

// NewMemoryReader creates an empty in-memory reader.
func NewMemoryReader(name string) *MemoryReader {
	return &MemoryReader{
		name:   name,
		points: make(map[int64]series.GridPoint),
		tables: make(map[int64]*series.Table),
	}
}

// Add registers a table for a grid point, replacing any previous one.
func (r *MemoryReader) Add(point series.GridPoint, tbl *series.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.points[point.GPI]; !exists {
		r.order = append(r.order, point.GPI)
	}

	r.points[point.GPI] = point
	r.tables[point.GPI] = tbl
}

// Name implements fetch.Readable.
func (r *MemoryReader) Name() string { return r.name }

// Grid implements fetch.Gridded in insertion order.
func (r *MemoryReader) Grid() []series.GridPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grid := make([]series.GridPoint, 0, len(r.order))
	for _, gpi := range r.order {
		grid = append(grid, r.points[gpi])
	}

	return grid
}

// ReadByID implements fetch.IDReader.
func (r *MemoryReader) ReadByID(_ context.Context, gpi int64, _ map[string]string) (*series.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tbl, ok := r.tables[gpi]
	if !ok {
		return nil, fmt.Errorf("%w: %s gpi %d", ErrPointNotFound, r.name, gpi)
	}

	return tbl, nil
}

// ReadByCoords implements fetch.CoordReader with an exact-position lookup.
func (r *MemoryReader) ReadByCoords(_ context.Context, lon, lat float64, _ map[string]string) (*series.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, gpi := range r.order {
		p := r.points[gpi]
		if math.Abs(p.Lon-lon) <= coordTolerance && math.Abs(p.Lat-lat) <= coordTolerance {
			return r.tables[gpi], nil
		}
	}

	return nil, fmt.Errorf("%w: %s lon %g lat %g", ErrPointNotFound, r.name, lon, lat)
}

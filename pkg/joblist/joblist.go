// Package joblist builds the list of validation points.
package joblist

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/Sumatoshi-tech/geoval/pkg/fetch"
	"github.com/Sumatoshi-tech/geoval/pkg/readers"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// ErrNoGrid is returned when a reader exposes no spatial index.
var ErrNoGrid = errors.New("reader has no grid")

// BBox is an inclusive lon/lat bounding box.
type BBox struct {
	MinLon float64 `mapstructure:"min_lon"`
	MinLat float64 `mapstructure:"min_lat"`
	MaxLon float64 `mapstructure:"max_lon"`
	MaxLat float64 `mapstructure:"max_lat"`
}

// IsZero reports whether the box is unset.
func (b BBox) IsZero() bool { return b == BBox{} }

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Filter restricts the grid points turned into jobs.
type Filter struct {
	BBox BBox
	GPIs []int64
}

func (f Filter) keep(p series.GridPoint) bool {
	if !f.BBox.IsZero() && !f.BBox.Contains(p.Lon, p.Lat) {
		return false
	}

	if len(f.GPIs) == 0 {
		return true
	}

	for _, gpi := range f.GPIs {
		if gpi == p.GPI {
			return true
		}
	}

	return false
}

// Apply returns the jobs the filter keeps, in input order.
func (f Filter) Apply(jobs []series.Job) []series.Job {
	out := make([]series.Job, 0, len(jobs))

	for _, job := range jobs {
		if f.keep(series.GridPoint(job)) {
			out = append(out, job)
		}
	}

	return out
}

// FromGrid turns a reader's grid into jobs, in grid order.
func FromGrid(reader fetch.Readable, filter Filter) ([]series.Job, error) {
	g, ok := reader.(fetch.Gridded)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGrid, reader.Name())
	}

	grid := g.Grid()
	jobs := make([]series.Job, 0, len(grid))

	for _, p := range grid {
		if filter.keep(p) {
			jobs = append(jobs, p.Job())
		}
	}

	return jobs, nil
}

// NearestFunc returns the grid point of another dataset closest to (lon, lat)
// and its distance, or ok=false when there is none.
type NearestFunc func(lon, lat float64) (point series.GridPoint, distance float64, ok bool)

// LinearNearest returns a NearestFunc scanning grid with planar lon/lat distance.
func LinearNearest(grid []series.GridPoint) NearestFunc {
	return func(lon, lat float64) (series.GridPoint, float64, bool) {
		best, bestDist := series.GridPoint{}, math.Inf(1)

		for _, p := range grid {
			d := math.Hypot(p.Lon-lon, p.Lat-lat)
			if d < bestDist {
				best, bestDist = p, d
			}
		}

		return best, bestDist, !math.IsInf(bestDist, 1)
	}
}

// Lookup maps each job's gpi to the nearest gpi of another dataset within
// maxDistance. Jobs without a partner are absent from the table.
func Lookup(jobs []series.Job, nearest NearestFunc, maxDistance float64) map[int64]int64 {
	lut := make(map[int64]int64, len(jobs))

	for _, job := range jobs {
		p, d, ok := nearest(job.Lon, job.Lat)
		if !ok || d > maxDistance {
			continue
		}

		lut[job.GPI] = p.GPI
	}

	return lut
}

// ReadCSV loads a job list from a gpi,lon,lat document with a header row.
func ReadCSV(r io.Reader) ([]series.Job, error) {
	grid, err := readers.ReadGridCSV(r)
	if err != nil {
		return nil, fmt.Errorf("job list: %w", err)
	}

	jobs := make([]series.Job, len(grid))
	for i, p := range grid {
		jobs[i] = p.Job()
	}

	return jobs, nil
}

// LoadCSV reads a job list file.
func LoadCSV(path string) ([]series.Job, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("job list: %w", err)
	}
	defer file.Close()

	return ReadCSV(file)
}

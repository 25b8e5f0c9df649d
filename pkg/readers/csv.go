// Package readers provides bundled dataset readers: a CSV directory reader,
// a SQLite reader, an in-memory reader, and the boolean mask adapter.
package readers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// Sentinel reader errors.
var (
	ErrPointNotFound = errors.New("point not found")
	ErrMissingTime   = errors.New("missing time column")
	ErrBadRecord     = errors.New("malformed record")
)

// CSV layout constants.
const (
	csvExtension     = ".csv"
	gridFileName     = "grid" + csvExtension
	defaultTimeField = "time"
)

// missingTokens are cell values read as NaN.
var missingTokens = map[string]struct{}{"": {}, "NA": {}, "NaN": {}, "nan": {}, "null": {}}

// timeLayouts are tried in order when parsing the time column.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CSVReader reads one CSV file per grid point from a directory.
// Files are named "<gpi>.csv" with a header whose first column is the time.
// An optional "grid.csv" (gpi,lon,lat) provides the spatial index.
type CSVReader struct {
	name      string
	dir       string
	timeField string
	grid      []series.GridPoint
}

// NewCSVReader opens a CSV directory. The grid file is loaded when present.
func NewCSVReader(name, dir string) (*CSVReader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open csv dataset %s: %w", name, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("open csv dataset %s: %s is not a directory", name, dir)
	}

	reader := &CSVReader{name: name, dir: dir, timeField: defaultTimeField}

	gridPath := filepath.Join(dir, gridFileName)

	file, err := os.Open(gridPath)
	if err == nil {
		defer file.Close()

		reader.grid, err = ReadGridCSV(file)
		if err != nil {
			return nil, fmt.Errorf("read grid of %s: %w", name, err)
		}
	}

	return reader, nil
}

// Name implements fetch.Readable.
func (r *CSVReader) Name() string { return r.name }

// Grid implements fetch.Gridded.
func (r *CSVReader) Grid() []series.GridPoint { return r.grid }

// ReadByID reads "<gpi>.csv". The "time_field" read argument overrides the time column name.
func (r *CSVReader) ReadByID(_ context.Context, gpi int64, args map[string]string) (*series.Table, error) {
	path := filepath.Join(r.dir, strconv.FormatInt(gpi, 10)+csvExtension)

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s gpi %d", ErrPointNotFound, r.name, gpi)
		}

		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	timeField := r.timeField
	if v, ok := args["time_field"]; ok && v != "" {
		timeField = v
	}

	return ReadTableCSV(file, timeField)
}

// ReadTableCSV parses a CSV document with a header row into a table.
// Rows are sorted by time; duplicate timestamps are rejected by the table.
func ReadTableCSV(r io.Reader, timeField string) (*series.Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	timeIdx := -1
	names := make([]string, 0, len(header))
	colIdx := make([]int, 0, len(header))

	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == timeField {
			timeIdx = i

			continue
		}

		names = append(names, h)
		colIdx = append(colIdx, i)
	}

	if timeIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingTime, timeField)
	}

	var rows []csvRow

	for line := 2; ; line++ {
		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("read line %d: %w", line, readErr)
		}

		ts, parseErr := parseTime(record[timeIdx])
		if parseErr != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrBadRecord, line, parseErr)
		}

		vals := make([]float64, len(colIdx))

		for j, idx := range colIdx {
			vals[j], parseErr = parseValue(record[idx])
			if parseErr != nil {
				return nil, fmt.Errorf("%w: line %d column %s: %w", ErrBadRecord, line, names[j], parseErr)
			}
		}

		rows = append(rows, csvRow{ts: ts, vals: vals})
	}

	return rowsToTable(rows, names)
}

// ReadGridCSV parses a gpi,lon,lat document with a header row.
func ReadGridCSV(r io.Reader) ([]series.GridPoint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read grid: %w", err)
	}

	grid := make([]series.GridPoint, 0, len(records))

	for i, rec := range records {
		if i == 0 {
			continue
		}

		if len(rec) < 3 {
			return nil, fmt.Errorf("%w: grid line %d", ErrBadRecord, i+1)
		}

		gpi, gpiErr := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)

		joined := errors.Join(gpiErr, lonErr, latErr)
		if joined != nil {
			return nil, fmt.Errorf("%w: grid line %d: %w", ErrBadRecord, i+1, joined)
		}

		grid = append(grid, series.GridPoint{GPI: gpi, Lon: lon, Lat: lat})
	}

	return grid, nil
}

type csvRow struct {
	ts   time.Time
	vals []float64
}

func rowsToTable(rows []csvRow, names []string) (*series.Table, error) {
	sortRows(rows)

	index := make([]time.Time, len(rows))
	values := make(map[string][]float64, len(names))

	for _, name := range names {
		values[name] = make([]float64, len(rows))
	}

	for i, row := range rows {
		index[i] = row.ts

		for j, name := range names {
			values[name][i] = row.vals[j]
		}
	}

	return series.NewTable(index, names, values)
}

func sortRows(rows []csvRow) {
	slices.SortStableFunc(rows, func(a, b csvRow) int {
		return a.ts.Compare(b.ts)
	})
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range timeLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if _, missing := missingTokens[s]; missing {
		return math.NaN(), nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse value: %w", err)
	}

	return v, nil
}

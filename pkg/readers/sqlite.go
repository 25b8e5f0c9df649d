package readers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Sumatoshi-tech/geoval/pkg/fetch"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// SQLite schema used by SQLiteReader.
const (
	sqliteDriver = "sqlite3"

	sqliteSchema = `
CREATE TABLE IF NOT EXISTS grid (
	gpi INTEGER PRIMARY KEY,
	lon REAL NOT NULL,
	lat REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	gpi      INTEGER NOT NULL,
	time     TEXT    NOT NULL,
	variable TEXT    NOT NULL,
	value    REAL,
	PRIMARY KEY (gpi, time, variable)
);`

	selectObservations = `SELECT time, variable, value FROM observations WHERE gpi = ? ORDER BY time`
	selectNearestGPI   = `SELECT gpi FROM grid WHERE abs(lon - ?) <= ? AND abs(lat - ?) <= ?
ORDER BY (lon - ?) * (lon - ?) + (lat - ?) * (lat - ?), gpi LIMIT 1`
	selectGrid        = `SELECT gpi, lon, lat FROM grid ORDER BY gpi`
	insertGridPoint   = `INSERT OR REPLACE INTO grid (gpi, lon, lat) VALUES (?, ?, ?)`
	insertObservation = `INSERT OR REPLACE INTO observations (gpi, time, variable, value) VALUES (?, ?, ?, ?)`
)

// defaultSearchRadius is the lon/lat distance (degrees) searched by ReadByCoords.
const defaultSearchRadius = 0.1

// SQLiteReader reads long-format observations (gpi, time, variable, value)
// from a SQLite database and pivots them into a table.
type SQLiteReader struct {
	name   string
	db     *sql.DB
	radius float64
}

// OpenSQLiteReader opens (and if needed initializes) a SQLite dataset.
func OpenSQLiteReader(name, path string) (*SQLiteReader, error) {
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite dataset %s: %w", name, err)
	}

	_, err = db.Exec(sqliteSchema)
	if err != nil {
		closeErr := db.Close()

		return nil, errors.Join(fmt.Errorf("init sqlite dataset %s: %w", name, err), closeErr)
	}

	return &SQLiteReader{name: name, db: db, radius: defaultSearchRadius}, nil
}

// Close releases the database handle.
func (r *SQLiteReader) Close() error {
	return r.db.Close()
}

// Name implements fetch.Readable.
func (r *SQLiteReader) Name() string { return r.name }

// Grid implements fetch.Gridded. Query failures yield an empty grid.
func (r *SQLiteReader) Grid() []series.GridPoint {
	rows, err := r.db.Query(selectGrid)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var grid []series.GridPoint

	for rows.Next() {
		var gp series.GridPoint

		scanErr := rows.Scan(&gp.GPI, &gp.Lon, &gp.Lat)
		if scanErr != nil {
			return nil
		}

		grid = append(grid, gp)
	}

	return grid
}

// Put stores a grid point and its table. Used to load datasets and in tests.
func (r *SQLiteReader) Put(ctx context.Context, point series.GridPoint, tbl *series.Table) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	_, err = tx.ExecContext(ctx, insertGridPoint, point.GPI, point.Lon, point.Lat)
	if err != nil {
		return errors.Join(fmt.Errorf("insert grid point: %w", err), tx.Rollback())
	}

	for _, name := range tbl.Names() {
		col, _ := tbl.Column(name)

		for i, ts := range tbl.Index() {
			var value any
			if !math.IsNaN(col[i]) {
				value = col[i]
			}

			_, err = tx.ExecContext(ctx, insertObservation, point.GPI, ts.UTC().Format(time.RFC3339Nano), name, value)
			if err != nil {
				return errors.Join(fmt.Errorf("insert observation: %w", err), tx.Rollback())
			}
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// ReadByID implements fetch.IDReader.
func (r *SQLiteReader) ReadByID(ctx context.Context, gpi int64, _ map[string]string) (*series.Table, error) {
	rows, err := r.db.QueryContext(ctx, selectObservations, gpi)
	if err != nil {
		return nil, r.wrap(err)
	}
	defer rows.Close()

	byTime := make(map[time.Time]map[string]float64)

	var (
		names []string
		index []time.Time
	)

	for rows.Next() {
		var (
			raw      string
			variable string
			value    sql.NullFloat64
		)

		scanErr := rows.Scan(&raw, &variable, &value)
		if scanErr != nil {
			return nil, r.wrap(scanErr)
		}

		ts, parseErr := parseTime(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %s gpi %d: %w", ErrBadRecord, r.name, gpi, parseErr)
		}

		row, ok := byTime[ts]
		if !ok {
			row = make(map[string]float64)
			byTime[ts] = row
			index = append(index, ts)
		}

		if !slices.Contains(names, variable) {
			names = append(names, variable)
		}

		row[variable] = math.NaN()
		if value.Valid {
			row[variable] = value.Float64
		}
	}

	iterErr := rows.Err()
	if iterErr != nil {
		return nil, r.wrap(iterErr)
	}

	if len(index) == 0 {
		return nil, fmt.Errorf("%w: %s gpi %d", ErrPointNotFound, r.name, gpi)
	}

	slices.SortFunc(index, time.Time.Compare)

	values := make(map[string][]float64, len(names))

	for _, name := range names {
		col := make([]float64, len(index))

		for i, ts := range index {
			v, ok := byTime[ts][name]
			if !ok {
				v = math.NaN()
			}

			col[i] = v
		}

		values[name] = col
	}

	return series.NewTable(index, names, values)
}

// ReadByCoords implements fetch.CoordReader using the nearest grid point inside the search radius.
func (r *SQLiteReader) ReadByCoords(ctx context.Context, lon, lat float64, args map[string]string) (*series.Table, error) {
	var gpi int64

	err := r.db.QueryRowContext(ctx, selectNearestGPI,
		lon, r.radius, lat, r.radius, lon, lon, lat, lat).Scan(&gpi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s lon %g lat %g", ErrPointNotFound, r.name, lon, lat)
	}

	if err != nil {
		return nil, r.wrap(err)
	}

	return r.ReadByID(ctx, gpi, args)
}

// wrap marks busy/locked database errors as transient.
func (r *SQLiteReader) wrap(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %s: %w", fetch.ErrTransient, r.name, err)
	}

	return fmt.Errorf("%s: %w", r.name, err)
}

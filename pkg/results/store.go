package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	// Registers the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

const (
	resultsSchema = `
CREATE TABLE IF NOT EXISTS results (
	run_id     TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	gpi        INTEGER NOT NULL,
	lon        REAL    NOT NULL,
	lat        REAL    NOT NULL,
	calculator TEXT    NOT NULL,
	metric     TEXT    NOT NULL,
	idx        INTEGER NOT NULL,
	value      REAL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS results_key ON results (run_id, key);`

	insertResult = `INSERT INTO results (run_id, key, gpi, lon, lat, calculator, metric, idx, value, err)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// scalarIdx marks a scalar metric row; array entries use their position.
	scalarIdx = -1

	// errorMetric is the metric name of the row recorded for a failed combination.
	errorMetric = "error"

	parquetParallelism = 4
)

// metricRow is one long-format value of a record.
type metricRow struct {
	Metric string
	Idx    int
	Value  float64
}

// flatten expands a record into one row per scalar and per array entry.
// Failed records become a single error row.
func flatten(rec Record) []metricRow {
	if rec.Failed() {
		return []metricRow{{Metric: errorMetric, Idx: scalarIdx, Value: math.NaN()}}
	}

	rows := make([]metricRow, 0, len(rec.Scalars))

	for _, name := range sortedNames(rec.Scalars) {
		rows = append(rows, metricRow{Metric: name, Idx: scalarIdx, Value: rec.Scalars[name]})
	}

	for _, name := range sortedNames(rec.Arrays) {
		for i, v := range rec.Arrays[name] {
			rows = append(rows, metricRow{Metric: name, Idx: i, Value: v})
		}
	}

	return rows
}

// SQLiteSink appends long-format rows to a results table.
type SQLiteSink struct {
	runID string
	db    *sql.DB
}

// OpenSQLiteSink opens (and if needed initializes) a results database.
func OpenSQLiteSink(path, runID string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: %w", err)
	}

	_, err = db.Exec(resultsSchema)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("sqlite sink schema: %w", err), db.Close())
	}

	return &SQLiteSink{runID: runID, db: db}, nil
}

// Write implements Sink with one transaction per job.
func (s *SQLiteSink) Write(ctx context.Context, _ series.Job, results ByKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite sink begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertResult)
	if err != nil {
		return errors.Join(fmt.Errorf("sqlite sink prepare: %w", err), tx.Rollback())
	}
	defer stmt.Close()

	for _, key := range results.Keys() {
		for _, rec := range results[key] {
			for _, row := range flatten(rec) {
				var value any
				if !math.IsNaN(row.Value) && !math.IsInf(row.Value, 0) {
					value = row.Value
				}

				var errText any
				if rec.Failed() {
					errText = rec.Err
				}

				_, err = stmt.ExecContext(ctx, s.runID, string(key), rec.GPI, rec.Lon, rec.Lat,
					rec.Calculator, row.Metric, row.Idx, value, errText)
				if err != nil {
					return errors.Join(fmt.Errorf("sqlite sink insert: %w", err), tx.Rollback())
				}
			}
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("sqlite sink commit: %w", err)
	}

	return nil
}

// Count returns the number of rows stored for the sink's run.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM results WHERE run_id = ?`, s.runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite sink count: %w", err)
	}

	return n, nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// parquetRow is the Parquet schema of the long-format results.
type parquetRow struct {
	RunID      string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	GPI        int64   `parquet:"name=gpi, type=INT64"`
	Lon        float64 `parquet:"name=lon, type=DOUBLE"`
	Lat        float64 `parquet:"name=lat, type=DOUBLE"`
	Calculator string  `parquet:"name=calculator, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metric     string  `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8"`
	Idx        int32   `parquet:"name=idx, type=INT32"`
	Value      float64 `parquet:"name=value, type=DOUBLE"`
	Err        string  `parquet:"name=err, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ParquetSink buffers records and writes one snappy-compressed Parquet file
// per key on Close.
type ParquetSink struct {
	dir    string
	runID  string
	acc    *Accumulator
	mu     sync.Mutex
	closed bool
}

// NewParquetSink creates the output directory and the sink.
func NewParquetSink(dir, runID string) (*ParquetSink, error) {
	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("parquet sink: %w", err)
	}

	return &ParquetSink{dir: dir, runID: runID, acc: NewAccumulator()}, nil
}

// Write implements Sink.
func (s *ParquetSink) Write(_ context.Context, _ series.Job, results ByKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	s.acc.Add(results)

	return nil
}

// Close implements Sink and writes the files.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	snap := s.acc.Snapshot()

	for _, key := range snap.Keys() {
		err := s.writeKey(key, snap[key])
		if err != nil {
			return fmt.Errorf("parquet sink %s: %w", key, err)
		}
	}

	return nil
}

func (s *ParquetSink) writeKey(key Key, records []Record) error {
	file, err := os.Create(filepath.Join(s.dir, key.Slug()+".parquet"))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(parquetRow), parquetParallelism)
	if err != nil {
		return errors.Join(fmt.Errorf("writer: %w", err), file.Close())
	}

	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		for _, row := range flatten(rec) {
			writeErr := pw.Write(parquetRow{
				RunID:      s.runID,
				GPI:        rec.GPI,
				Lon:        rec.Lon,
				Lat:        rec.Lat,
				Calculator: rec.Calculator,
				Metric:     row.Metric,
				Idx:        int32(row.Idx), //nolint:gosec // array metrics are short.
				Value:      row.Value,
				Err:        rec.Err,
			})
			if writeErr != nil {
				return errors.Join(fmt.Errorf("write: %w", writeErr), pw.WriteStop(), file.Close())
			}
		}
	}

	err = pw.WriteStop()
	if err != nil {
		return errors.Join(fmt.Errorf("finish: %w", err), file.Close())
	}

	return file.Close()
}

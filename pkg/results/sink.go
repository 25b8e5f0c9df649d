package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sumatoshi-tech/geoval/pkg/persist"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// ErrSinkClosed is returned when writing to a closed sink.
var ErrSinkClosed = errors.New("sink closed")

// Sink receives every job's results. A failing sink aborts the run.
type Sink interface {
	Write(ctx context.Context, job series.Job, results ByKey) error
	Close() error
}

// Snapshot is the persisted form of one key's records.
type Snapshot struct {
	RunID   string
	Key     Key
	Records []Record
}

// FileSink buffers records and, on Close, stores one lz4-compressed gob file
// per key in a directory.
type FileSink struct {
	runID     string
	persister *persist.Persister[Snapshot]
	acc       *Accumulator
	closed    bool
	mu        sync.Mutex
}

// NewFileSink creates the directory and the sink.
func NewFileSink(dir, runID string) (*FileSink, error) {
	p, err := persist.NewPersister[Snapshot](dir, persist.NewLZ4Codec(persist.NewGobCodec()))
	if err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}

	return &FileSink{runID: runID, persister: p, acc: NewAccumulator()}, nil
}

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, _ series.Job, results ByKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	s.acc.Add(results)

	return nil
}

// Close implements Sink and writes the files.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	snap := s.acc.Snapshot()

	for _, key := range snap.Keys() {
		err := s.persister.Save(key.Slug(), &Snapshot{RunID: s.runID, Key: key, Records: snap[key]})
		if err != nil {
			return fmt.Errorf("file sink %s: %w", key, err)
		}
	}

	return nil
}

// LoadDir reads every snapshot written by a FileSink.
func LoadDir(dir string) (ByKey, string, error) {
	p, err := persist.NewPersister[Snapshot](dir, persist.NewLZ4Codec(persist.NewGobCodec()))
	if err != nil {
		return nil, "", err
	}

	names, err := p.Names()
	if err != nil {
		return nil, "", err
	}

	out := make(ByKey, len(names))

	var runID string

	for _, name := range names {
		snap, loadErr := p.Load(name)
		if loadErr != nil {
			return nil, "", loadErr
		}

		runID = snap.RunID
		out[snap.Key] = snap.Records
	}

	return out, runID, nil
}

// jsonLine is one record of the JSON lines output. NaN is written as null.
type jsonLine struct {
	RunID      string                `json:"run_id"`
	Key        Key                   `json:"key"`
	GPI        int64                 `json:"gpi"`
	Lon        float64               `json:"lon"`
	Lat        float64               `json:"lat"`
	Calculator string                `json:"calculator"`
	Scalars    map[string]*float64   `json:"scalars"`
	Arrays     map[string][]*float64 `json:"arrays,omitempty"`
	Err        string                `json:"err,omitempty"`
}

func toJSONLine(runID string, key Key, rec Record) jsonLine {
	line := jsonLine{
		RunID:      runID,
		Key:        key,
		GPI:        rec.GPI,
		Lon:        rec.Lon,
		Lat:        rec.Lat,
		Calculator: rec.Calculator,
		Scalars:    make(map[string]*float64, len(rec.Scalars)),
		Err:        rec.Err,
	}

	for name, v := range rec.Scalars {
		line.Scalars[name] = nullable(v)
	}

	if len(rec.Arrays) > 0 {
		line.Arrays = make(map[string][]*float64, len(rec.Arrays))
	}

	for name, values := range rec.Arrays {
		arr := make([]*float64, len(values))
		for i, v := range values {
			arr[i] = nullable(v)
		}

		line.Arrays[name] = arr
	}

	return line
}

func (l jsonLine) record() Record {
	rec := Record{
		GPI:        l.GPI,
		Lon:        l.Lon,
		Lat:        l.Lat,
		Calculator: l.Calculator,
		Scalars:    make(map[string]float64, len(l.Scalars)),
		Err:        l.Err,
	}

	for name, v := range l.Scalars {
		rec.Scalars[name] = deref(v)
	}

	if len(l.Arrays) > 0 {
		rec.Arrays = make(map[string][]float64, len(l.Arrays))
	}

	for name, values := range l.Arrays {
		arr := make([]float64, len(values))
		for i, v := range values {
			arr[i] = deref(v)
		}

		rec.Arrays[name] = arr
	}

	return rec
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return &v
}

func deref(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}

	return *v
}

// JSONSink streams one JSON object per record.
type JSONSink struct {
	runID string
	mu    sync.Mutex
	enc   *json.Encoder
	c     io.Closer
}

// NewJSONSink writes JSON lines to w; w is closed on Close when it is an io.Closer.
func NewJSONSink(w io.Writer, runID string) *JSONSink {
	s := &JSONSink{runID: runID, enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}

	return s
}

// CreateJSONSink creates (truncating) a JSON lines file.
func CreateJSONSink(path, runID string) (*JSONSink, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("json sink: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("json sink: %w", err)
	}

	return NewJSONSink(file, runID), nil
}

// Write implements Sink.
func (s *JSONSink) Write(_ context.Context, _ series.Job, results ByKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return ErrSinkClosed
	}

	for _, key := range results.Keys() {
		for _, rec := range results[key] {
			err := s.enc.Encode(toJSONLine(s.runID, key, rec))
			if err != nil {
				return fmt.Errorf("json sink: %w", err)
			}
		}
	}

	return nil
}

// Close implements Sink.
func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enc = nil

	if s.c == nil {
		return nil
	}

	err := s.c.Close()
	s.c = nil

	return err
}

// ReadJSONLines reads a JSON lines file produced by JSONSink.
func ReadJSONLines(r io.Reader) (ByKey, string, error) {
	dec := json.NewDecoder(r)
	out := make(ByKey)

	var runID string

	for {
		var line jsonLine

		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, "", fmt.Errorf("read json lines: %w", err)
		}

		runID = line.RunID
		out[line.Key] = append(out[line.Key], line.record())
	}

	return out, runID, nil
}

// MultiSink fans out to several sinks.
type MultiSink []Sink

// Write implements Sink; the first failure stops the fan-out.
func (m MultiSink) Write(ctx context.Context, job series.Job, results ByKey) error {
	for _, s := range m {
		err := s.Write(ctx, job, results)
		if err != nil {
			return err
		}
	}

	return nil
}

// Close implements Sink and closes every sink.
func (m MultiSink) Close() error {
	errs := make([]error, 0, len(m))
	for _, s := range m {
		errs = append(errs, s.Close())
	}

	return errors.Join(errs...)
}

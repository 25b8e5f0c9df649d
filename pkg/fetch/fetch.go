// Package fetch wraps heterogeneous dataset readers behind one call contract.
//
// A Fetcher is configured once per dataset with the calling convention its
// reader accepts. Read failures degrade to ErrEmpty so a missing dataset for
// one job never aborts a run; infrastructure failures surface as ErrTransient
// so the job boundary can retry.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// Sentinel fetch errors.
var (
	// ErrEmpty signals that the reader produced no data for the job.
	ErrEmpty = errors.New("no data")
	// ErrTransient signals an infrastructure failure worth retrying the job for.
	ErrTransient = errors.New("transient read failure")
	// ErrConvention is returned when a reader does not support the configured convention.
	ErrConvention = errors.New("reader does not support calling convention")
	// ErrUnknownConvention is returned for an unrecognized convention name.
	ErrUnknownConvention = errors.New("unknown calling convention")
)

// Convention selects how a reader is addressed.
type Convention string

// Calling conventions.
const (
	ByID     Convention = "by_id"
	ByCoords Convention = "by_coords"
)

// ParseConvention converts a configuration value into a Convention.
// The empty string selects ByID.
func ParseConvention(s string) (Convention, error) {
	switch Convention(s) {
	case "", ByID:
		return ByID, nil
	case ByCoords:
		return ByCoords, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownConvention, s)
	}
}

// Readable is the marker capability of every dataset reader.
type Readable interface {
	// Name identifies the reader in logs.
	Name() string
}

// IDReader reads a series by grid point id.
type IDReader interface {
	Readable
	ReadByID(ctx context.Context, gpi int64, args map[string]string) (*series.Table, error)
}

// CoordReader reads a series by longitude and latitude.
type CoordReader interface {
	Readable
	ReadByCoords(ctx context.Context, lon, lat float64, args map[string]string) (*series.Table, error)
}

// Gridded is the optional spatial-index capability of a reader.
type Gridded interface {
	Grid() []series.GridPoint
}

// temporary matches errors that self-report as retryable.
type temporary interface {
	Temporary() bool
}

// Fetcher reads one dataset for a job.
type Fetcher struct {
	desc       series.Descriptor
	reader     Readable
	convention Convention
	limiter    *rate.Limiter
	cache      *tableCache
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRateLimit throttles reads to rps requests per second with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fetcher) {
		if rps <= 0 {
			f.limiter = nil

			return
		}

		f.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithCache keeps the last maxEntries raw reads in memory, so jobs sharing a
// grid point through a lookup table read it once. Non-positive disables it.
func WithCache(maxEntries int) Option {
	return func(f *Fetcher) {
		if maxEntries <= 0 {
			f.cache = nil

			return
		}

		f.cache = newTableCache(maxEntries)
	}
}

// New builds a Fetcher and checks that the reader supports the convention.
func New(desc series.Descriptor, reader Readable, convention Convention, opts ...Option) (*Fetcher, error) {
	switch convention {
	case ByID:
		if _, ok := reader.(IDReader); !ok {
			return nil, fmt.Errorf("%w: %s (%s) by id", ErrConvention, desc.Name, reader.Name())
		}
	case ByCoords:
		if _, ok := reader.(CoordReader); !ok {
			return nil, fmt.Errorf("%w: %s (%s) by coordinates", ErrConvention, desc.Name, reader.Name())
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConvention, convention)
	}

	f := &Fetcher{desc: desc, reader: reader, convention: convention}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Descriptor returns the dataset descriptor.
func (f *Fetcher) Descriptor() series.Descriptor {
	return f.desc
}

// Reader returns the underlying reader.
func (f *Fetcher) Reader() Readable {
	return f.reader
}

// CacheStats returns the read cache counters; zero without a cache.
func (f *Fetcher) CacheStats() CacheStats {
	if f.cache == nil {
		return CacheStats{}
	}

	f.cache.mu.Lock()
	entries := len(f.cache.entries)
	f.cache.mu.Unlock()

	return CacheStats{Hits: f.cache.hits.Load(), Misses: f.cache.misses.Load(), Entries: entries}
}

// Fetch reads the descriptor columns for the job and applies the period filter.
// It returns an error wrapping ErrEmpty when the reader has nothing usable and
// one wrapping ErrTransient when the failure looks retryable.
func (f *Fetcher) Fetch(ctx context.Context, job series.Job) (*series.Table, error) {
	key := f.key(job)

	if f.cache != nil {
		if tbl, ok := f.cache.get(key); ok {
			return f.shape(tbl)
		}
	}

	if f.limiter != nil {
		waitErr := f.limiter.Wait(ctx)
		if waitErr != nil {
			return nil, fmt.Errorf("%w: %s: rate limiter: %w", ErrTransient, f.desc.Name, waitErr)
		}
	}

	tbl, err := f.read(ctx, job)
	if err != nil {
		return nil, classify(f.desc.Name, err)
	}

	if f.cache != nil && tbl != nil {
		f.cache.put(key, tbl)
	}

	return f.shape(tbl)
}

// shape selects the descriptor columns and applies the period filter.
func (f *Fetcher) shape(tbl *series.Table) (*series.Table, error) {
	var err error

	if tbl.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, f.desc.Name)
	}

	if len(f.desc.Columns) > 0 {
		tbl, err = tbl.Select(f.desc.Columns...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrEmpty, f.desc.Name, err)
		}
	}

	tbl = tbl.Between(f.desc.Period)
	if tbl.IsEmpty() {
		return nil, fmt.Errorf("%w: %s: nothing inside period", ErrEmpty, f.desc.Name)
	}

	return tbl, nil
}

func (f *Fetcher) key(job series.Job) readKey {
	if f.convention == ByCoords {
		return readKey{lon: job.Lon, lat: job.Lat}
	}

	return readKey{gpi: job.GPI}
}

func (f *Fetcher) read(ctx context.Context, job series.Job) (*series.Table, error) {
	if f.convention == ByCoords {
		//nolint:forcetypeassert // convention checked in New.
		return f.reader.(CoordReader).ReadByCoords(ctx, job.Lon, job.Lat, f.desc.ReadArgs)
	}

	//nolint:forcetypeassert // convention checked in New.
	return f.reader.(IDReader).ReadByID(ctx, job.GPI, f.desc.ReadArgs)
}

func classify(name string, err error) error {
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTransient, name, err)
	}

	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return fmt.Errorf("%w: %s: %w", ErrTransient, name, err)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrEmpty, name, err)
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/Sumatoshi-tech/geoval/pkg/combination"
	"github.com/Sumatoshi-tech/geoval/pkg/fetch"
	"github.com/Sumatoshi-tech/geoval/pkg/joblist"
	"github.com/Sumatoshi-tech/geoval/pkg/masking"
	"github.com/Sumatoshi-tech/geoval/pkg/metrics"
	"github.com/Sumatoshi-tech/geoval/pkg/observability"
	"github.com/Sumatoshi-tech/geoval/pkg/readers"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/scaling"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
	"github.com/Sumatoshi-tech/geoval/pkg/validation"
)

// ErrNotGridded is returned when a nearest-point lookup targets a reader
// without a grid.
var ErrNotGridded = errors.New("dataset has no grid for lookup")

// Setup is everything a run needs, built from a Config.
type Setup struct {
	Options validation.Options
	Jobs    []series.Job

	closers []io.Closer
}

// Close releases every opened reader.
func (s *Setup) Close() error {
	var errs []error

	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}

	s.closers = nil

	return errors.Join(errs...)
}

// Build opens the readers, loads the job list and assembles engine options.
// On error every reader opened so far is closed.
func Build(cfg *Config, logger *slog.Logger, jm *observability.JobMetrics) (*Setup, error) {
	setup := &Setup{}

	err := setup.build(cfg)
	if err != nil {
		return nil, errors.Join(err, setup.Close())
	}

	setup.Options.Logger = logger
	setup.Options.Metrics = jm

	return setup, nil
}

func (s *Setup) build(cfg *Config) error {
	maskPolicy, err := masking.ParseUnmatchedPolicy(cfg.MaskPolicy)
	if err != nil {
		return err
	}

	s.Options.SpatialReference = cfg.SpatialReference
	s.Options.MaskPolicy = maskPolicy

	sources := make(map[string]fetch.Readable, len(cfg.Datasets))

	for _, dc := range cfg.Datasets {
		reader, openErr := s.open(dc.Name, dc.Reader)
		if openErr != nil {
			return openErr
		}

		sources[dc.Name] = reader
	}

	s.Jobs, err = LoadJobs(cfg.Run, sources[cfg.SpatialReference])
	if err != nil {
		return err
	}

	for _, dc := range cfg.Datasets {
		ds, dsErr := s.dataset(dc, sources[dc.Name])
		if dsErr != nil {
			return dsErr
		}

		s.Options.Datasets = append(s.Options.Datasets, ds)
	}

	for _, mc := range cfg.Masks {
		mask, maskErr := s.mask(mc)
		if maskErr != nil {
			return maskErr
		}

		s.Options.Masks = append(s.Options.Masks, mask)
	}

	for _, gc := range cfg.Groups {
		policy, policyErr := temporal.ParsePolicy(gc.Policy)
		if policyErr != nil {
			return policyErr
		}

		s.Options.Groups = append(s.Options.Groups, validation.MatchGroup{
			Datasets:  gc.Datasets,
			Reference: gc.Reference,
			Window:    gc.MatchWindow(),
			Policy:    policy,
		})
	}

	if cfg.Scaling.Enabled() {
		s.Options.Scaling, err = scaling.DefaultRegistry().New(cfg.Scaling.Method)
		if err != nil {
			return err
		}

		s.Options.ScalingReference, err = series.ParseColumnKey(cfg.Scaling.Reference)
		if err != nil {
			return err
		}
	}

	s.Options.Spec, err = BuildSpec(cfg.Groups, cfg.Metrics, metrics.DefaultRegistry())

	return err
}

func (s *Setup) open(name string, rc ReaderConfig) (fetch.Readable, error) {
	switch rc.Type {
	case ReaderCSV:
		return readers.NewCSVReader(name, rc.Path)
	case ReaderSQLite:
		reader, err := readers.OpenSQLiteReader(name, rc.Path)
		if err != nil {
			return nil, err
		}

		s.closers = append(s.closers, reader)

		return reader, nil
	default:
		return nil, fmt.Errorf("%s: %w: %q", name, ErrUnknownReader, rc.Type)
	}
}

func (s *Setup) dataset(dc DatasetConfig, reader fetch.Readable) (validation.Dataset, error) {
	conv, err := fetch.ParseConvention(dc.Convention)
	if err != nil {
		return validation.Dataset{}, err
	}

	period, err := dc.Period.Parse()
	if err != nil {
		return validation.Dataset{}, fmt.Errorf("dataset %s: %w", dc.Name, err)
	}

	desc := series.Descriptor{Name: dc.Name, Columns: dc.Columns, ReadArgs: dc.ReadArgs, Period: period}

	fetcher, err := fetch.New(desc, reader, conv,
		fetch.WithRateLimit(dc.RateLimit.RPS, dc.RateLimit.Burst), fetch.WithCache(dc.CacheEntries))
	if err != nil {
		return validation.Dataset{}, err
	}

	ds := validation.Dataset{Fetcher: fetcher}

	if dc.LookupDistance > 0 {
		gridded, ok := reader.(fetch.Gridded)
		if !ok || len(gridded.Grid()) == 0 {
			return validation.Dataset{}, fmt.Errorf("%w: %s", ErrNotGridded, dc.Name)
		}

		ds.Lookup = joblist.Lookup(s.Jobs, joblist.LinearNearest(gridded.Grid()), dc.LookupDistance)
	}

	return ds, nil
}

func (s *Setup) mask(mc MaskConfig) (*fetch.Fetcher, error) {
	inner, err := s.open(mc.Name, mc.Reader)
	if err != nil {
		return nil, err
	}

	adapter, err := readers.NewMaskAdapter(mc.Name, inner, mc.Column, mc.Operator, mc.Threshold)
	if err != nil {
		return nil, fmt.Errorf("mask %s: %w", mc.Name, err)
	}

	conv, err := fetch.ParseConvention(mc.Convention)
	if err != nil {
		return nil, err
	}

	desc := series.Descriptor{Name: mc.Name, Columns: []string{readers.MaskColumn}}

	return fetch.New(desc, adapter, conv)
}

// BuildSpec resolves the metric entries against a calculator registry and
// validates them against the configured group sizes.
func BuildSpec(groups []GroupConfig, entries []MetricConfig, registry *metrics.Registry) (*combination.Spec, error) {
	sizes := make([]int, 0, len(groups))

	for _, g := range groups {
		if !slices.Contains(sizes, len(g.Datasets)) {
			sizes = append(sizes, len(g.Datasets))
		}
	}

	specEntries := make([]combination.Entry, 0, len(entries))

	for _, mc := range entries {
		calc, err := registry.New(mc.Calculator, mc.MinObs)
		if err != nil {
			return nil, err
		}

		specEntries = append(specEntries, combination.Entry{
			N:             mc.N,
			K:             mc.K,
			Calculator:    calc,
			ReferenceOnly: mc.ReferenceOnly,
		})
	}

	return combination.NewSpec(sizes, specEntries...)
}

// LoadJobs reads the configured job list, or derives it from the spatial
// reference grid, and applies the bounding box and gpi filters.
func LoadJobs(rc RunConfig, spatial fetch.Readable) ([]series.Job, error) {
	filter := joblist.Filter{BBox: rc.BBox, GPIs: rc.GPIs}

	if rc.JobList == "" {
		return joblist.FromGrid(spatial, filter)
	}

	jobs, err := joblist.LoadCSV(rc.JobList)
	if err != nil {
		return nil, err
	}

	return filter.Apply(jobs), nil
}

// OpenSinks creates the configured result sinks under out.Dir. Each format
// gets its own location: lz4 and parquet a directory, json and sqlite a file.
func OpenSinks(out OutputConfig, runID string) (results.Sink, error) {
	err := os.MkdirAll(out.Dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var sinks results.MultiSink

	for _, format := range out.Formats {
		sink, openErr := openSink(out.Dir, format, runID)
		if openErr != nil {
			return nil, errors.Join(openErr, sinks.Close())
		}

		sinks = append(sinks, sink)
	}

	return sinks, nil
}

func openSink(dir, format, runID string) (results.Sink, error) {
	switch format {
	case FormatLZ4:
		return results.NewFileSink(filepath.Join(dir, "lz4"), runID)
	case FormatJSON:
		return results.CreateJSONSink(filepath.Join(dir, "results.jsonl"), runID)
	case FormatSQLite:
		return results.OpenSQLiteSink(filepath.Join(dir, "results.db"), runID)
	case FormatParquet:
		return results.NewParquetSink(filepath.Join(dir, "parquet"), runID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

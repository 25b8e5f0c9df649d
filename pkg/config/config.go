// Package config provides YAML-based run configuration for geoval.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/geoval/pkg/fetch"
	"github.com/Sumatoshi-tech/geoval/pkg/joblist"
	"github.com/Sumatoshi-tech/geoval/pkg/masking"
	"github.com/Sumatoshi-tech/geoval/pkg/readers"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
)

// Sentinel validation errors.
var (
	ErrNoDatasets       = errors.New("no datasets configured")
	ErrUnknownDataset   = errors.New("unknown dataset")
	ErrDuplicateDataset = errors.New("duplicate dataset")
	ErrUnknownReader    = errors.New("unknown reader type")
	ErrMissingPath      = errors.New("reader path is required")
	ErrNoGroups         = errors.New("no match groups configured")
	ErrInvalidGroup     = errors.New("invalid match group")
	ErrInvalidPeriod    = errors.New("invalid period")
	ErrNoMetrics        = errors.New("no metric calculators configured")
	ErrUnknownFormat    = errors.New("unknown output format")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidWorkers   = errors.New("workers must not be negative")
)

// periodLayouts are accepted for period bounds.
var periodLayouts = []string{time.RFC3339, "2006-01-02"}

// Config holds a complete validation run.
type Config struct {
	Run              RunConfig       `mapstructure:"run"`
	Datasets         []DatasetConfig `mapstructure:"datasets"`
	Masks            []MaskConfig    `mapstructure:"masks"`
	MaskPolicy       string          `mapstructure:"mask_policy"`
	SpatialReference string          `mapstructure:"spatial_reference"`
	Groups           []GroupConfig   `mapstructure:"groups"`
	Scaling          ScalingConfig   `mapstructure:"scaling"`
	Metrics          []MetricConfig  `mapstructure:"metrics"`
	Output           OutputConfig    `mapstructure:"output"`
	Logging          LoggingConfig   `mapstructure:"logging"`
	Telemetry        TelemetryConfig `mapstructure:"telemetry"`
}

// RunConfig selects the jobs and the worker pool size.
type RunConfig struct {
	Workers int          `mapstructure:"workers"`
	JobList string       `mapstructure:"job_list"`
	BBox    joblist.BBox `mapstructure:"bbox"`
	GPIs    []int64      `mapstructure:"gpis"`
}

// ReaderConfig describes where a dataset is read from.
type ReaderConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

// PeriodConfig is an inclusive period; either bound may be empty.
type PeriodConfig struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// RateLimitConfig throttles reads of one dataset.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// DatasetConfig describes one dataset.
type DatasetConfig struct {
	Name       string            `mapstructure:"name"`
	Reader     ReaderConfig      `mapstructure:"reader"`
	Convention string            `mapstructure:"convention"`
	Columns    []string          `mapstructure:"columns"`
	ReadArgs   map[string]string `mapstructure:"read_args"`
	Period     PeriodConfig      `mapstructure:"period"`
	RateLimit  RateLimitConfig   `mapstructure:"rate_limit"`

	// LookupDistance, when positive, reads this dataset at its own nearest
	// grid point within that distance of each job.
	LookupDistance float64 `mapstructure:"lookup_distance"`

	// CacheEntries keeps that many raw reads in memory. Zero disables it.
	CacheEntries int `mapstructure:"cache_entries"`
}

// MaskConfig turns a reader column into a mask through a comparison.
type MaskConfig struct {
	Name       string       `mapstructure:"name"`
	Reader     ReaderConfig `mapstructure:"reader"`
	Convention string       `mapstructure:"convention"`
	Column     string       `mapstructure:"column"`
	Operator   string       `mapstructure:"operator"`
	Threshold  float64      `mapstructure:"threshold"`
}

// GroupConfig is one match group. Before and After override Window.
type GroupConfig struct {
	Datasets  []string      `mapstructure:"datasets"`
	Reference string        `mapstructure:"reference"`
	Window    time.Duration `mapstructure:"window"`
	Before    time.Duration `mapstructure:"before"`
	After     time.Duration `mapstructure:"after"`
	Policy    string        `mapstructure:"policy"`
}

// ScalingConfig enables scaling when Method is set.
type ScalingConfig struct {
	Method    string `mapstructure:"method"`
	Reference string `mapstructure:"reference"`
}

// Enabled reports whether scaling runs.
func (s ScalingConfig) Enabled() bool {
	return s.Method != "" && s.Method != "none"
}

// MetricConfig binds a calculator to groups of N datasets and combinations of K columns.
type MetricConfig struct {
	N             int    `mapstructure:"n"`
	K             int    `mapstructure:"k"`
	Calculator    string `mapstructure:"calculator"`
	MinObs        int    `mapstructure:"min_obs"`
	ReferenceOnly bool   `mapstructure:"reference_only"`
}

// OutputConfig selects the result sinks.
type OutputConfig struct {
	Dir     string   `mapstructure:"dir"`
	Formats []string `mapstructure:"formats"`
}

// LoggingConfig controls the slog logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string  `mapstructure:"otlp_headers"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
	Prometheus     bool    `mapstructure:"prometheus"`
	PrometheusAddr string  `mapstructure:"prometheus_addr"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	Environment    string  `mapstructure:"environment"`
}

// MatchWindow returns the group's matching window.
func (g GroupConfig) MatchWindow() temporal.Window {
	if g.Before > 0 || g.After > 0 {
		return temporal.Window{Before: g.Before, After: g.After}
	}

	return temporal.Symmetric(g.Window)
}

// Parse converts the configured bounds.
func (p PeriodConfig) Parse() (series.Period, error) {
	var (
		out series.Period
		err error
	)

	if p.Start != "" {
		out.Start, err = parseTime(p.Start)
		if err != nil {
			return series.Period{}, err
		}
	}

	if p.End != "" {
		out.End, err = parseTime(p.End)
		if err != nil {
			return series.Period{}, err
		}
	}

	if !out.Start.IsZero() && !out.End.IsZero() && out.End.Before(out.Start) {
		return series.Period{}, fmt.Errorf("%w: %s is before %s", ErrInvalidPeriod, p.End, p.Start)
	}

	return out, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range periodLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(l.Level))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

// Validate checks the configuration for consistency. Names referenced by
// groups, scaling and metrics must exist; factories resolved at build time
// report unknown methods and calculators.
func (c *Config) Validate() error {
	if c.Run.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Run.Workers)
	}

	if len(c.Datasets) == 0 {
		return ErrNoDatasets
	}

	names := make([]string, 0, len(c.Datasets)+len(c.Masks))

	for _, ds := range c.Datasets {
		err := validateSource(ds.Name, ds.Reader, ds.Convention, names)
		if err != nil {
			return err
		}

		for _, col := range ds.Columns {
			err = series.ValidateName(col)
			if err != nil {
				return fmt.Errorf("dataset %s column: %w", ds.Name, err)
			}
		}

		if _, err = ds.Period.Parse(); err != nil {
			return fmt.Errorf("dataset %s: %w", ds.Name, err)
		}

		names = append(names, ds.Name)
	}

	datasets := slices.Clone(names)

	for _, m := range c.Masks {
		err := validateSource(m.Name, m.Reader, m.Convention, names)
		if err != nil {
			return err
		}

		if _, err = readers.ParseOperator(m.Operator); err != nil {
			return fmt.Errorf("mask %s: %w", m.Name, err)
		}

		names = append(names, m.Name)
	}

	if _, err := masking.ParseUnmatchedPolicy(c.MaskPolicy); err != nil {
		return err
	}

	if !slices.Contains(datasets, c.SpatialReference) {
		return fmt.Errorf("%w: spatial reference %q", ErrUnknownDataset, c.SpatialReference)
	}

	err := c.validateGroups(datasets)
	if err != nil {
		return err
	}

	if c.Scaling.Enabled() {
		ref, parseErr := series.ParseColumnKey(c.Scaling.Reference)
		if parseErr != nil {
			return fmt.Errorf("scaling reference: %w", parseErr)
		}

		if !slices.Contains(datasets, ref.Dataset) {
			return fmt.Errorf("%w: scaling reference %q", ErrUnknownDataset, ref.Dataset)
		}
	}

	if len(c.Metrics) == 0 {
		return ErrNoMetrics
	}

	for _, format := range c.Output.Formats {
		if !slices.Contains([]string{FormatLZ4, FormatJSON, FormatSQLite, FormatParquet}, format) {
			return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
		}
	}

	_, err = c.Logging.SlogLevel()

	return err
}

func validateSource(name string, reader ReaderConfig, convention string, seen []string) error {
	err := series.ValidateName(name)
	if err != nil {
		return err
	}

	if slices.Contains(seen, name) {
		return fmt.Errorf("%w: %s", ErrDuplicateDataset, name)
	}

	switch reader.Type {
	case ReaderCSV, ReaderSQLite:
	default:
		return fmt.Errorf("%s: %w: %q", name, ErrUnknownReader, reader.Type)
	}

	if strings.TrimSpace(reader.Path) == "" {
		return fmt.Errorf("%s: %w", name, ErrMissingPath)
	}

	if _, err = fetch.ParseConvention(convention); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

func (c *Config) validateGroups(datasets []string) error {
	if len(c.Groups) == 0 {
		return ErrNoGroups
	}

	for i, g := range c.Groups {
		if len(g.Datasets) < 2 {
			return fmt.Errorf("%w %d: needs at least two datasets", ErrInvalidGroup, i)
		}

		for _, name := range g.Datasets {
			if !slices.Contains(datasets, name) {
				return fmt.Errorf("%w %d: %w: %q", ErrInvalidGroup, i, ErrUnknownDataset, name)
			}
		}

		if !slices.Contains(g.Datasets, g.Reference) {
			return fmt.Errorf("%w %d: reference %q is not a member", ErrInvalidGroup, i, g.Reference)
		}

		err := g.MatchWindow().Validate()
		if err != nil {
			return fmt.Errorf("%w %d: %w", ErrInvalidGroup, i, err)
		}

		if _, err = temporal.ParsePolicy(g.Policy); err != nil {
			return fmt.Errorf("%w %d: %w", ErrInvalidGroup, i, err)
		}
	}

	return nil
}

// Package validation runs the per-job pipeline and distributes jobs over a
// worker pool.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Sumatoshi-tech/geoval/pkg/combination"
	"github.com/Sumatoshi-tech/geoval/pkg/fetch"
	"github.com/Sumatoshi-tech/geoval/pkg/masking"
	"github.com/Sumatoshi-tech/geoval/pkg/observability"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/scaling"
	"github.com/Sumatoshi-tech/geoval/pkg/series"
	"github.com/Sumatoshi-tech/geoval/pkg/temporal"
)

var (
	// ErrInvalidOptions is returned by NewEngine for an inconsistent setup.
	ErrInvalidOptions = errors.New("invalid validation options")
	// ErrAllMasked is recorded when the masks remove every reference row.
	ErrAllMasked = errors.New("every reference row masked")
)

// Reasons a match group is skipped within a job.
const (
	SkipEmptyReference = "empty_reference"
	SkipMasked         = "masked"
	SkipNoOverlap      = "no_overlap"
	SkipScaling        = "scaling"
)

// Dataset is one configured data source.
type Dataset struct {
	Fetcher *fetch.Fetcher

	// Lookup maps a job gpi to this dataset's own gpi. Nil passes the job
	// through unchanged; a job missing from a non-nil table reads nothing.
	Lookup map[int64]int64
}

// Name returns the dataset name.
func (d Dataset) Name() string { return d.Fetcher.Descriptor().Name }

// MatchGroup is a set of datasets aligned together on one temporal reference.
type MatchGroup struct {
	Datasets  []string
	Reference string
	Window    temporal.Window
	Policy    temporal.Policy
}

// Options configure an Engine.
type Options struct {
	Datasets []Dataset

	// SpatialReference names the dataset whose grid defines the jobs. A job
	// with no data for it ends with an empty result.
	SpatialReference string

	// Masks are applied to each group's temporal reference before matching.
	Masks      []*fetch.Fetcher
	MaskPolicy masking.UnmatchedPolicy

	Groups []MatchGroup

	// Scaling is nil when scaling is disabled.
	Scaling          scaling.Method
	ScalingReference series.ColumnKey

	Spec *combination.Spec

	Logger  *slog.Logger
	Metrics *observability.JobMetrics
}

// Engine holds the read-only setup shared by every job.
type Engine struct {
	datasets map[string]Dataset
	order    []string
	opts     Options
	logger   *slog.Logger
	metrics  *observability.JobMetrics
}

// NewEngine validates opts and builds an Engine.
func NewEngine(opts Options) (*Engine, error) {
	e := &Engine{
		datasets: make(map[string]Dataset, len(opts.Datasets)),
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.metrics == nil {
		e.metrics = observability.NoopJobMetrics()
	}

	if e.opts.MaskPolicy == "" {
		e.opts.MaskPolicy = masking.Open
	}

	for _, ds := range opts.Datasets {
		if ds.Fetcher == nil {
			return nil, fmt.Errorf("%w: dataset without fetcher", ErrInvalidOptions)
		}

		name := ds.Name()

		descErr := ds.Fetcher.Descriptor().Validate()
		if descErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, descErr)
		}

		if _, dup := e.datasets[name]; dup {
			return nil, fmt.Errorf("%w: dataset %s configured twice", ErrInvalidOptions, name)
		}

		e.datasets[name] = ds
		e.order = append(e.order, name)
	}

	err := e.validate()
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) validate() error {
	if _, ok := e.datasets[e.opts.SpatialReference]; !ok {
		return fmt.Errorf("%w: spatial reference %q is not a dataset", ErrInvalidOptions, e.opts.SpatialReference)
	}

	if len(e.opts.Groups) == 0 {
		return fmt.Errorf("%w: no match groups", ErrInvalidOptions)
	}

	if e.opts.Spec == nil {
		return fmt.Errorf("%w: no combination spec", ErrInvalidOptions)
	}

	for i, g := range e.opts.Groups {
		err := e.validateGroup(g)
		if err != nil {
			return fmt.Errorf("group %d: %w", i, err)
		}
	}

	return nil
}

func (e *Engine) validateGroup(g MatchGroup) error {
	if len(g.Datasets) < 2 {
		return fmt.Errorf("%w: a group needs at least two datasets", ErrInvalidOptions)
	}

	for _, name := range g.Datasets {
		if _, ok := e.datasets[name]; !ok {
			return fmt.Errorf("%w: unknown dataset %q", ErrInvalidOptions, name)
		}
	}

	if !slices.Contains(g.Datasets, g.Reference) {
		return fmt.Errorf("%w: reference %q is not a member", ErrInvalidOptions, g.Reference)
	}

	err := g.Window.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	if _, err = temporal.ParsePolicy(string(g.Policy)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	if len(e.opts.Spec.For(len(g.Datasets))) == 0 {
		return fmt.Errorf("%w: no calculator registered for groups of %d", ErrInvalidOptions, len(g.Datasets))
	}

	if e.opts.Scaling == nil {
		return nil
	}

	ref := e.opts.ScalingReference
	if !slices.Contains(g.Datasets, ref.Dataset) {
		return fmt.Errorf("%w: scaling reference %s is not a member", ErrInvalidOptions, ref)
	}

	if !slices.Contains(e.datasets[ref.Dataset].Fetcher.Descriptor().Columns, ref.Column) {
		return fmt.Errorf("%w: scaling reference column %s is not read", ErrInvalidOptions, ref)
	}

	return nil
}

// Datasets returns the configured dataset names in configuration order.
func (e *Engine) Datasets() []string {
	return slices.Clone(e.order)
}

// ProcessJob runs one job through fetch, mask, match, scale, dispatch and
// aggregate. Read failures degrade the job; an error is returned only for a
// transient read failure or cancellation, and the job may then be retried
// in full.
func (e *Engine) ProcessJob(ctx context.Context, job series.Job) (results.ByKey, JobReport, error) {
	report := JobReport{Job: job, State: StateFetched}
	ctx = observability.WithJob(ctx, job.GPI)
	logger := e.logger

	tables, err := e.fetchAll(ctx, job, &report)
	if err != nil {
		return nil, report, err
	}

	if tables[e.opts.SpatialReference] == nil {
		logger.DebugContext(ctx, "spatial reference empty", "dataset", e.opts.SpatialReference)

		return results.ByKey{}, report, nil
	}

	masks, err := e.fetchMasks(ctx, job)
	if err != nil {
		return nil, report, err
	}

	report.State = StateMasked
	outcomes := make(map[results.Key]results.Outcome)

	for i, g := range e.opts.Groups {
		err = ctx.Err()
		if err != nil {
			return nil, report, fmt.Errorf("job %d: %w", job.GPI, err)
		}

		groupOutcomes, skip := e.processGroup(ctx, g, tables, masks, &report)
		if skip != nil {
			skip.Group = i
			report.Skipped = append(report.Skipped, *skip)
			e.metrics.RecordGroupSkipped(ctx, skip.Reason)
			logger.DebugContext(ctx, "group skipped", "group", i, "reason", skip.Reason, "error", skip.Err)

			continue
		}

		for key, outcome := range groupOutcomes {
			if _, seen := outcomes[key]; seen {
				continue
			}

			if outcome.Err != nil {
				report.FailedCombinations++
				e.metrics.RecordCombinationFailed(ctx, outcome.Calculator)
				logger.DebugContext(ctx, "metric computation failed", "key", key, "error", outcome.Err)
			}

			outcomes[key] = outcome
		}
	}

	// Aggregated only counts when some group produced outcomes.
	if report.State == StateDispatched {
		report.State = StateAggregated
	}

	return results.Aggregate(job, outcomes), report, nil
}

func (e *Engine) processGroup(
	ctx context.Context, g MatchGroup, tables map[string]*series.Table, masks []*series.Table, report *JobReport,
) (map[results.Key]results.Outcome, *GroupSkip) {
	ref := tables[g.Reference]
	if ref == nil {
		return nil, &GroupSkip{Reference: g.Reference, Reason: SkipEmptyReference, Err: fetch.ErrEmpty}
	}

	ref, err := masking.Apply(ref, masks, g.Window, e.opts.MaskPolicy)
	if err != nil {
		return nil, &GroupSkip{Reference: g.Reference, Reason: SkipMasked, Err: err}
	}

	if ref.IsEmpty() {
		return nil, &GroupSkip{Reference: g.Reference, Reason: SkipMasked, Err: ErrAllMasked}
	}

	candidates := make(map[string]*series.Table, len(g.Datasets))

	for _, name := range g.Datasets {
		if name == g.Reference {
			continue
		}

		tbl := tables[name]
		if tbl == nil {
			tbl = series.Empty(e.datasets[name].Fetcher.Descriptor().Columns...)
		}

		candidates[name] = tbl
	}

	matched, err := temporal.Match(ref, g.Reference, candidates, g.Window, g.Policy)
	if err != nil {
		return nil, &GroupSkip{Reference: g.Reference, Reason: SkipNoOverlap, Err: err}
	}

	if matched.Empty() {
		return nil, &GroupSkip{Reference: g.Reference, Reason: SkipNoOverlap, Err: temporal.ErrNoTemporalOverlap}
	}

	report.State = max(report.State, StateMatched)

	if e.opts.Scaling != nil {
		matched, err = scaling.Scale(matched, e.opts.ScalingReference, e.opts.Scaling)
		if err != nil {
			return nil, &GroupSkip{Reference: g.Reference, Reason: SkipScaling, Err: err}
		}

		report.State = max(report.State, StateScaled)
	}

	dispatchRef := series.ColumnKey{Dataset: matched.Reference(), Column: firstColumn(ref)}
	if e.opts.Scaling != nil {
		dispatchRef = e.opts.ScalingReference
	}

	outcomes := combination.Dispatch(ctx, matched, len(g.Datasets), dispatchRef, e.opts.Spec)
	report.State = max(report.State, StateDispatched)

	return outcomes, nil
}

func firstColumn(t *series.Table) string {
	names := t.Names()
	if len(names) == 0 {
		return ""
	}

	return names[0]
}

// fetchAll reads every dataset. Empty datasets are absent from the result.
func (e *Engine) fetchAll(ctx context.Context, job series.Job, report *JobReport) (map[string]*series.Table, error) {
	tables := make(map[string]*series.Table, len(e.order))

	for _, name := range e.order {
		ds := e.datasets[name]

		dsJob, ok := lookupJob(ds, job)
		if !ok {
			report.Empty = append(report.Empty, name)

			continue
		}

		tbl, err := ds.Fetcher.Fetch(ctx, dsJob)
		if errors.Is(err, fetch.ErrEmpty) {
			report.Empty = append(report.Empty, name)

			continue
		}

		if err != nil {
			return nil, fmt.Errorf("job %d: %w", job.GPI, err)
		}

		tables[name] = tbl
	}

	return tables, nil
}

// fetchMasks reads every mask. A mask without data for the job is left out,
// so it neither keeps nor drops rows under either unmatched policy.
func (e *Engine) fetchMasks(ctx context.Context, job series.Job) ([]*series.Table, error) {
	masks := make([]*series.Table, 0, len(e.opts.Masks))

	for _, f := range e.opts.Masks {
		tbl, err := f.Fetch(ctx, job)
		if errors.Is(err, fetch.ErrEmpty) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("job %d: mask: %w", job.GPI, err)
		}

		masks = append(masks, tbl)
	}

	return masks, nil
}

func lookupJob(ds Dataset, job series.Job) (series.Job, bool) {
	if ds.Lookup == nil {
		return job, true
	}

	gpi, ok := ds.Lookup[job.GPI]
	if !ok {
		return series.Job{}, false
	}

	return series.Job{GPI: gpi, Lon: job.Lon, Lat: job.Lat}, true
}

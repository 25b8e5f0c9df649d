// Package report renders run summaries and per-key metric statistics for
// the terminal and as an HTML chart page.
package report

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Sumatoshi-tech/geoval/pkg/alg/stats"
	"github.com/Sumatoshi-tech/geoval/pkg/metrics"
	"github.com/Sumatoshi-tech/geoval/pkg/results"
	"github.com/Sumatoshi-tech/geoval/pkg/validation"
)

// DefaultMetrics are the scalar columns shown when none are requested.
var DefaultMetrics = []string{metrics.R, metrics.Rho, metrics.Bias, metrics.RMSD, metrics.URMSD}

const missing = "-"

// Options controls terminal rendering.
type Options struct {
	NoColor bool
	Metrics []string
}

func (o Options) metrics() []string {
	if len(o.Metrics) == 0 {
		return DefaultMetrics
	}

	return o.Metrics
}

// KeyStat summarizes the records of one results key.
type KeyStat struct {
	Key        results.Key
	Calculator string
	Records    int
	Failed     int

	// Medians holds the median of each requested scalar over jobs where it
	// is finite; NaN when no job has a finite value or the scalar is absent.
	Medians map[string]float64
}

// Stats computes per-key statistics in key order.
func Stats(byKey results.ByKey, names []string) []KeyStat {
	out := make([]KeyStat, 0, len(byKey))

	for _, key := range byKey.Keys() {
		records := byKey[key]
		stat := KeyStat{Key: key, Records: len(records), Medians: make(map[string]float64, len(names))}

		values := make(map[string][]float64, len(names))

		for _, rec := range records {
			if stat.Calculator == "" {
				stat.Calculator = rec.Calculator
			}

			if rec.Failed() {
				stat.Failed++

				continue
			}

			for _, name := range names {
				v, ok := rec.Scalars[name]
				if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
					values[name] = append(values[name], v)
				}
			}
		}

		for _, name := range names {
			stat.Medians[name] = math.NaN()
			if len(values[name]) > 0 {
				stat.Medians[name] = stats.Median(values[name])
			}
		}

		out = append(out, stat)
	}

	return out
}

// WriteSummary writes the run counters followed by the per-key table.
func WriteSummary(w io.Writer, s validation.Summary, byKey results.ByKey, opts Options) error {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed)

	if opts.NoColor {
		for _, c := range []*color.Color{ok, warn, bad} {
			c.DisableColor()
		}
	}

	fmt.Fprintf(w, "run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	ok.Fprintf(w, "  jobs: %s ok, %s empty\n", humanize.Comma(int64(s.OK)), humanize.Comma(int64(s.Empty)))

	if s.Degraded > 0 || s.Retried > 0 {
		warn.Fprintf(w, "  degraded: %s, retried: %s, groups skipped: %s, combinations failed: %s\n",
			humanize.Comma(int64(s.Degraded)), humanize.Comma(int64(s.Retried)),
			humanize.Comma(int64(s.GroupsSkipped)), humanize.Comma(int64(s.CombinationsFailed)))
	}

	if len(s.Failed) > 0 {
		bad.Fprintf(w, "  failed: %s\n", humanize.Comma(int64(len(s.Failed))))

		for _, f := range s.Failed {
			bad.Fprintf(w, "    - %s: %v\n", f.Job, f.Err)
		}
	}

	fmt.Fprintf(w, "  records: %s\n", humanize.Comma(int64(s.Records)))

	return WriteTable(w, byKey, opts)
}

// WriteTable writes the per-key statistics table.
func WriteTable(w io.Writer, byKey results.ByKey, opts Options) error {
	if len(byKey) == 0 {
		_, err := fmt.Fprintln(w, "no results")

		return err
	}

	names := opts.metrics()

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Format.Header = text.FormatDefault
	tbl.Style().Format.Footer = text.FormatDefault

	header := table.Row{"key", "calculator", "records", "failed"}
	for _, name := range names {
		header = append(header, "median "+name)
	}

	tbl.AppendHeader(header)

	total := 0

	for _, stat := range Stats(byKey, names) {
		row := table.Row{string(stat.Key), stat.Calculator, humanize.Comma(int64(stat.Records)), stat.Failed}
		for _, name := range names {
			row = append(row, formatValue(stat.Medians[name]))
		}

		tbl.AppendRow(row)

		total += stat.Records
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d keys", len(byKey)), "", humanize.Comma(int64(total))})

	_, err := fmt.Fprintln(w, tbl.Render())

	return err
}

// ParseMetrics splits a comma separated list of scalar names.
func ParseMetrics(s string) []string {
	var out []string

	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !slices.Contains(out, part) {
			out = append(out, part)
		}
	}

	return out
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return missing
	}

	return fmt.Sprintf("%.4f", v)
}

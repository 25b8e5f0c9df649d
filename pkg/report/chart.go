package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/geoval/pkg/results"
)

const (
	chartWidth   = "100%"
	chartHeight  = "500px"
	symbolSize   = 8
	rotateLabels = 30
)

var mapPalette = []string{"#313695", "#74add1", "#ffffbf", "#f46d43", "#a50026"}

// WriteChart renders an HTML page with a bar chart of per-key medians and,
// for each key, a lon/lat scatter of the first requested metric.
func WriteChart(w io.Writer, byKey results.ByKey, names []string) error {
	if len(names) == 0 {
		names = DefaultMetrics
	}

	page := components.NewPage()
	page.PageTitle = "geoval results"

	page.AddCharts(medianChart(Stats(byKey, names), names))

	for _, key := range byKey.Keys() {
		scatter := mapChart(key, byKey[key], names[0])
		if scatter != nil {
			page.AddCharts(scatter)
		}
	}

	err := page.Render(w)
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}

func medianChart(stats []KeyStat, names []string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: "Median metrics per key"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "8%"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: rotateLabels, Interval: "0"}}),
		charts.WithGridOpts(opts.Grid{Bottom: "25%"}),
	)

	labels := make([]string, len(stats))
	for i, s := range stats {
		labels[i] = string(s.Key)
	}

	bar.SetXAxis(labels)

	for _, name := range names {
		data := make([]opts.BarData, len(stats))

		for i, s := range stats {
			data[i] = opts.BarData{Value: chartValue(s.Medians[name])}
		}

		bar.AddSeries(name, data)
	}

	return bar
}

// mapChart returns nil when no record has a finite value for metric.
func mapChart(key results.Key, records []results.Record, metric string) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(records))
	lo, hi := math.Inf(1), math.Inf(-1)

	for _, rec := range records {
		v, ok := rec.Scalars[metric]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}

		lo, hi = math.Min(lo, v), math.Max(hi, v)
		data = append(data, opts.ScatterData{
			Name:       fmt.Sprintf("gpi %d", rec.GPI),
			Value:      []any{rec.Lon, rec.Lat, v},
			SymbolSize: symbolSize,
		})
	}

	if len(data) == 0 {
		return nil
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: string(key), Subtitle: metric}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lon", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "lat", Type: "value"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: mapPalette},
		}),
	)
	scatter.AddSeries(metric, data)

	return scatter
}

// chartValue maps NaN to the ECharts missing-value marker.
func chartValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return missing
	}

	return v
}

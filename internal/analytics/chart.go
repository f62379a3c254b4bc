package analytics

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/speedcam/internal/eventlog"
)

// ChartPage renders an HTML page with the speed distribution per direction
// and detections per hour of day.
func ChartPage(w io.Writer, title string, events []eventlog.Event, binKMH float64) error {
	sum := Summarize(events, 0)

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(speedChart(title, events, binKMH), hourChart(sum))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("analytics: render chart: %w", err)
	}
	return nil
}

func speedChart(title string, events []eventlog.Event, binKMH float64) *charts.Bar {
	byDir := make(map[string][]eventlog.Event)
	for _, e := range events {
		if !e.Removed {
			byDir[e.Direction] = append(byDir[e.Direction], e)
		}
	}
	all := Histogram(events, binKMH)
	labels := make([]string, len(all))
	for i, b := range all {
		labels[i] = fmt.Sprintf("%.0f-%.0f", b.Low, b.High)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Speed distribution", Subtitle: fmt.Sprintf("%d detections", len(events))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "km/h", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count"}),
	)
	bar.SetXAxis(labels)

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		bins := Histogram(byDir[d], binKMH)
		data := make([]opts.BarData, len(all))
		for i := range data {
			v := 0
			if i < len(bins) {
				v = bins[i].Count
			}
			data[i] = opts.BarData{Value: v}
		}
		bar.AddSeries(d, data, charts.WithBarChartOpts(opts.BarChart{Stack: "speed"}))
	}
	return bar
}

func hourChart(sum Summary) *charts.Line {
	hours := make([]string, 24)
	data := make([]opts.LineData, 24)
	for h := 0; h < 24; h++ {
		hours[h] = fmt.Sprintf("%02d", h)
		data[h] = opts.LineData{Value: sum.ByHour[h]}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Detections by hour"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(hours).AddSeries("detections", data)
	return line
}

package analytics

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/speedcam/internal/eventlog"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("analytics: no data")

// HistogramPNG writes a speed histogram as a PNG image.
func HistogramPNG(w io.Writer, events []eventlog.Event, bins int) error {
	values := make(plotter.Values, 0, len(events))
	for _, e := range events {
		if !e.Removed {
			values = append(values, e.SpeedKMH)
		}
	}
	if len(values) == 0 {
		return ErrNoData
	}
	if bins <= 0 {
		bins = 20
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Speed distribution (%d detections)", len(values))
	p.X.Label.Text = "km/h"
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return fmt.Errorf("analytics: histogram: %w", err)
	}
	h.LineStyle.Width = vg.Points(0.5)
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("analytics: render png: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("analytics: write png: %w", err)
	}
	return nil
}

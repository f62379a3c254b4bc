package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/pipeline"
	"github.com/banshee-data/speedcam/internal/tracking"
)

var (
	roiColor     = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	l2rColor     = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	r2lColor     = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	unknownColor = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	textColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	boxColor     = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// Renderer draws the live overlay and detection annotations with OpenCV.
type Renderer struct {
	Quality     int // stored detection images
	LiveQuality int // live view
}

// NewRenderer returns a Renderer with the given JPEG qualities.
func NewRenderer(quality, liveQuality int) *Renderer {
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	if liveQuality <= 0 || liveQuality > 100 {
		liveQuality = 80
	}
	return &Renderer{Quality: quality, LiveQuality: liveQuality}
}

// Overlay draws the ROI, reference lines, active tracks and counters.
func (r *Renderer) Overlay(f frame.Frame, v pipeline.View) ([]byte, error) {
	img, err := toMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	gocv.Rectangle(&img, rect(v.ROI.Rect()), roiColor, 2)
	top, bottom := v.ROI.Top, v.ROI.Bottom
	if bottom <= top {
		top, bottom = 0, f.Height
	}
	gocv.Line(&img, image.Pt(v.L2RLineX, top), image.Pt(v.L2RLineX, bottom), l2rColor, 2)
	gocv.PutText(&img, "L2R", image.Pt(v.L2RLineX+5, top+20), gocv.FontHersheySimplex, 0.6, l2rColor, 2)
	gocv.Line(&img, image.Pt(v.R2LLineX, top), image.Pt(v.R2LLineX, bottom), r2lColor, 2)
	gocv.PutText(&img, "R2L", image.Pt(v.R2LLineX+5, top+20), gocv.FontHersheySimplex, 0.6, r2lColor, 2)

	for _, tr := range v.Tracks {
		c := directionColor(tr.Direction)
		gocv.Rectangle(&img, rect(tr.Box), c, 2)
		label := fmt.Sprintf("#%d %s", tr.ID, tr.Direction)
		gocv.PutText(&img, label, image.Pt(tr.Box.X, max(tr.Box.Y-5, 12)), gocv.FontHersheySimplex, 0.5, c, 1)
	}

	stats := fmt.Sprintf("Objects: %d | L2R: %d | R2L: %d", len(v.Tracks), v.Stats.L2RCount, v.Stats.R2LCount)
	gocv.PutText(&img, stats, image.Pt(10, 30), gocv.FontHersheySimplex, 0.7, textColor, 2)
	buf := fmt.Sprintf("Buffer: %d/%d | Dropped: %d", v.Buffer.Depth, v.Buffer.Capacity, v.Buffer.Dropped)
	gocv.PutText(&img, buf, image.Pt(10, 60), gocv.FontHersheySimplex, 0.6, textColor, 1)
	if !v.Stats.Running {
		gocv.PutText(&img, "PAUSED", image.Pt(10, 90), gocv.FontHersheySimplex, 0.7, r2lColor, 2)
	}
	return encodeJPEG(img, r.LiveQuality)
}

// Annotate draws the detection box with the speed above it and the
// direction, color and label below it.
func (r *Renderer) Annotate(f frame.Frame, a pipeline.Annotation) ([]byte, error) {
	img, err := toMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	gocv.Rectangle(&img, rect(a.Box), boxColor, 2)
	gocv.PutText(&img, a.SpeedText, image.Pt(a.Box.X, max(a.Box.Y-10, 20)), gocv.FontHersheySimplex, 0.9, boxColor, 2)
	gocv.PutText(&img, a.InfoText, image.Pt(a.Box.X, min(a.Box.Y+a.Box.H+25, f.Height-5)), gocv.FontHersheySimplex, 0.6, boxColor, 2)
	return encodeJPEG(img, r.Quality)
}

func directionColor(d tracking.Direction) color.RGBA {
	switch d {
	case tracking.LeftToRight:
		return l2rColor
	case tracking.RightToLeft:
		return r2lColor
	default:
		return unknownColor
	}
}

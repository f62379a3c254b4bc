package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/tracking"
)

// FrameSource yields decoded frames; *framebuffer.Buffer implements it.
type FrameSource interface {
	Get(ctx context.Context) (frame.Frame, error)
	Stats() framebuffer.Stats
}

// Detector finds moving regions in a frame. Boxes are in frame coordinates.
type Detector interface {
	Detect(f frame.Frame) ([]frame.Rect, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(f frame.Frame) ([]frame.Rect, error)

// Detect calls fn(f).
func (fn DetectorFunc) Detect(f frame.Frame) ([]frame.Rect, error) { return fn(f) }

// View is what the live overlay shows.
type View struct {
	ROI      frame.ROI
	L2RLineX int
	R2LLineX int
	Tracks   []tracking.Track
	Stats    Stats
	Buffer   framebuffer.Stats
}

// Annotation is drawn on a stored detection image.
type Annotation struct {
	Box       frame.Rect
	SpeedText string
	InfoText  string
}

// Renderer draws overlays and encodes JPEGs.
type Renderer interface {
	Overlay(f frame.Frame, v View) ([]byte, error)
	Annotate(f frame.Frame, a Annotation) ([]byte, error)
}

// ImageSink stores an encoded image and returns the name it was stored as.
type ImageSink interface {
	Save(name string, data []byte) (string, error)
}

// EventSink receives every persisted event. Implementations must not block
// the caller for long.
type EventSink interface {
	HandleEvent(ctx context.Context, e eventlog.Event)
}

// Alerter reports failures that need operator attention.
type Alerter interface {
	Alert(err error, msg string, args ...any)
}

// Observer receives per-frame and per-event measurements.
type Observer interface {
	FrameProcessed(elapsed time.Duration, detections int)
	EventLogged(e eventlog.Event)
	TrackDropped(reason string)
}

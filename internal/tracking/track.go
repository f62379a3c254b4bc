package tracking

import (
	"time"

	"github.com/banshee-data/speedcam/internal/frame"
)

// Direction is the horizontal direction of travel in image space.
type Direction int

const (
	Unknown Direction = iota
	LeftToRight
	RightToLeft
)

// String returns the short label used in logs, file names and the event log.
func (d Direction) String() string {
	switch d {
	case LeftToRight:
		return "L2R"
	case RightToLeft:
		return "R2L"
	default:
		return "unknown"
	}
}

// ParseDirection accepts "L2R"/"R2L" (any case) and the long forms.
func ParseDirection(s string) Direction {
	switch s {
	case "L2R", "l2r", "left_to_right", "LeftToRight":
		return LeftToRight
	case "R2L", "r2l", "right_to_left", "RightToLeft":
		return RightToLeft
	default:
		return Unknown
	}
}

// Sample is one observed track center.
type Sample struct {
	X, Y float64
	T    time.Time
}

// Track is a provisional identity for a moving object across frames.
type Track struct {
	ID         int
	CreatedAt  time.Time
	LastUpdate time.Time
	Start      frame.Point
	Current    frame.Point
	Box        frame.Rect
	Width      int
	Height     int
	History    []Sample
	Direction  Direction
	Missed     int // consecutive cycles without a matching detection

	// Speed state. SpeedCalculated flips to true at most once.
	SpeedKMH        float64
	SpeedMPH        float64
	SpeedCalculated bool
	CrossedLine     bool
	// Rejected marks a track whose crossing produced an out-of-bounds speed.
	Rejected bool

	// Classification results filled in after the speed is known.
	Label      string
	Color      string
	Confidence float64
	Logged     bool
}

// Terminal reports whether the track needs no further speed evaluation.
func (t *Track) Terminal() bool {
	return t.SpeedCalculated || t.Rejected
}

// Age returns the time since the track was created.
func (t *Track) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// DisplacementX returns current_x - start_x.
func (t *Track) DisplacementX() float64 {
	return t.Current.X - t.Start.X
}

// ValidForLogging reports whether a terminal track carries everything an
// event needs.
func (t *Track) ValidForLogging() bool {
	return t.SpeedCalculated && t.Direction != Unknown && t.SpeedKMH > 0 && t.Label != ""
}

// Snapshot returns a copy that shares no memory with t.
func (t *Track) Snapshot() Track {
	c := *t
	c.History = append([]Sample(nil), t.History...)
	return c
}

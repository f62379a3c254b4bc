// Package speed turns a track's line crossing into a calibrated speed.
//
// Distance is measured along x between two history samples and converted to
// meters with the per-direction calibration ratio (reference millimeters per
// reference pixels).
package speed

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/speedcam/internal/tracking"
	"github.com/banshee-data/speedcam/internal/units"
)

// Defaults
const (
	DefaultMinTimeDiff    = 300 * time.Millisecond
	DefaultMinTrackLength = 50.0
	DefaultMinPositions   = 5
	DefaultMinSpeed       = 5.0
	DefaultMaxSpeed       = 200.0
)

// ErrCalibration is returned for calibrations that cannot produce a ratio.
var ErrCalibration = errors.New("speed: invalid calibration")

// Calibration relates a known physical length to its span in pixels.
type Calibration struct {
	ReferencePixels      float64
	ReferenceMillimeters float64
}

// Validate checks both values are positive.
func (c Calibration) Validate() error {
	if c.ReferencePixels <= 0 || c.ReferenceMillimeters <= 0 {
		return fmt.Errorf("%w: reference_pixels=%v reference_millimeters=%v", ErrCalibration, c.ReferencePixels, c.ReferenceMillimeters)
	}
	return nil
}

// MillimetersPerPixel returns the calibration ratio.
func (c Calibration) MillimetersPerPixel() float64 {
	return c.ReferenceMillimeters / c.ReferencePixels
}

// Line is a reference line for one direction of travel.
type Line struct {
	Enabled     bool
	X           float64
	Calibration Calibration
}

// Config holds the estimator parameters.
type Config struct {
	L2R            Line
	R2L            Line
	MinTimeDiff    time.Duration
	MinTrackLength float64 // px
	MinPositions   int
	MinSpeed       float64 // in the selected unit, inclusive
	MaxSpeed       float64 // in the selected unit, inclusive
	UnitMPH        bool
	// RejectTerminal marks a track terminal when its speed falls outside
	// [MinSpeed, MaxSpeed] instead of leaving it for re-evaluation.
	RejectTerminal bool
}

// Outcome of one evaluation.
type Outcome int

const (
	NotYet Outcome = iota
	Calculated
	Rejected
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Calculated:
		return "calculated"
	case Rejected:
		return "rejected"
	case Skipped:
		return "skipped"
	default:
		return "not_yet"
	}
}

// Result describes an evaluation.
type Result struct {
	Outcome    Outcome
	Speed      units.Speed
	DistancePx float64
	TimeDiff   time.Duration
	Reason     string
}

// Estimator evaluates tracks against the reference lines.
type Estimator struct {
	cfg Config
}

// New returns an Estimator. Zero thresholds take defaults; MinSpeed and
// MaxSpeed are used as given except that MaxSpeed 0 means the default.
func New(cfg Config) *Estimator {
	if cfg.MinTimeDiff <= 0 {
		cfg.MinTimeDiff = DefaultMinTimeDiff
	}
	if cfg.MinTrackLength <= 0 {
		cfg.MinTrackLength = DefaultMinTrackLength
	}
	if cfg.MinPositions <= 0 {
		cfg.MinPositions = DefaultMinPositions
	}
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = DefaultMaxSpeed
	}
	return &Estimator{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Evaluate runs one evaluation cycle on tr and applies the result to it.
// Terminal tracks are skipped, so SpeedCalculated changes at most once.
func (e *Estimator) Evaluate(tr *tracking.Track) Result {
	if tr.Terminal() {
		return Result{Outcome: Skipped, Reason: "terminal"}
	}
	if len(tr.History) < e.cfg.MinPositions {
		return Result{Outcome: NotYet, Reason: "history"}
	}
	line, ok := e.lineFor(tr.Direction)
	if !ok {
		return Result{Outcome: NotYet, Reason: "direction"}
	}
	if _, crossed := Crossing(tr.History, tr.Direction, line.X); !crossed {
		return Result{Outcome: NotYet, Reason: "no crossing"}
	}

	// Step 1: endpoints.
	start, end := Endpoints(tr.History)

	// Step 2: raw displacement.
	distancePx := math.Abs(end.X - start.X)
	timeDiff := end.T.Sub(start.T)
	res := Result{DistancePx: distancePx, TimeDiff: timeDiff}

	// Step 3: measurement quality.
	if timeDiff <= e.cfg.MinTimeDiff {
		res.Reason = "time"
		return res
	}
	if distancePx <= e.cfg.MinTrackLength {
		res.Reason = "length"
		return res
	}

	// Steps 4-5: calibrated speed.
	res.Speed = Compute(distancePx, timeDiff, line.Calibration)
	tr.SpeedKMH, tr.SpeedMPH = res.Speed.KMPH, res.Speed.MPH

	// Step 6: bounds in the configured unit.
	check := res.Speed.KMPH
	if e.cfg.UnitMPH {
		check = res.Speed.MPH
	}
	if check < e.cfg.MinSpeed || check > e.cfg.MaxSpeed {
		res.Reason = "bounds"
		if e.cfg.RejectTerminal {
			tr.Rejected = true
			res.Outcome = Rejected
		}
		return res
	}

	// Step 7: commit.
	tr.SpeedCalculated = true
	tr.CrossedLine = true
	res.Outcome = Calculated
	return res
}

func (e *Estimator) lineFor(d tracking.Direction) (Line, bool) {
	switch d {
	case tracking.LeftToRight:
		return e.cfg.L2R, e.cfg.L2R.Enabled
	case tracking.RightToLeft:
		return e.cfg.R2L, e.cfg.R2L.Enabled
	default:
		return Line{}, false
	}
}

// Crossing returns the index i of the first history pair (i, i+1) that
// straddles lineX in the direction of travel.
func Crossing(history []tracking.Sample, d tracking.Direction, lineX float64) (int, bool) {
	for i := 0; i+1 < len(history); i++ {
		a, b := history[i].X, history[i+1].X
		switch d {
		case tracking.LeftToRight:
			if a < lineX && lineX <= b {
				return i, true
			}
		case tracking.RightToLeft:
			if a > lineX && lineX >= b {
				return i, true
			}
		}
	}
	return 0, false
}

// Endpoints picks the samples used for measurement: the first and third
// quartile samples when there are more than four, otherwise the first and
// last.
func Endpoints(history []tracking.Sample) (start, end tracking.Sample) {
	n := len(history)
	if n == 0 {
		return
	}
	if n > 4 {
		return history[n/4], history[3*n/4]
	}
	return history[0], history[n-1]
}

// Compute converts a pixel displacement over timeDiff to a speed.
func Compute(distancePx float64, timeDiff time.Duration, cal Calibration) units.Speed {
	if timeDiff <= 0 || cal.ReferencePixels <= 0 {
		return units.Speed{}
	}
	distanceM := distancePx * cal.MillimetersPerPixel() / 1000
	return units.FromMPS(distanceM / timeDiff.Seconds())
}

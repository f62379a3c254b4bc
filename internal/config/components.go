package config

import (
	"time"

	"github.com/banshee-data/speedcam/internal/classify"
	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/speed"
	"github.com/banshee-data/speedcam/internal/stream"
	"github.com/banshee-data/speedcam/internal/tracking"
)

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// StreamConfig returns the stream source settings.
func (c *Config) StreamConfig() stream.Config {
	return stream.Config{
		URL:                  c.StreamURL(),
		FPS:                  c.Camera.FPS,
		ProbeFrames:          c.Camera.ProbeFrames,
		MaxConsecutiveErrors: c.Camera.MaxConsecutiveErrors,
		EmitEvery:            c.Camera.EmitEvery,
		MaxBackoff:           c.Camera.MaxBackoff,
	}
}

// BufferConfig returns the frame buffer settings.
func (c *Config) BufferConfig() framebuffer.Config {
	return framebuffer.Config{
		Capacity:   c.Buffer.Capacity,
		PutTimeout: c.Buffer.PutTimeout,
		GetTimeout: c.Buffer.GetTimeout,
	}
}

// TrackingConfig returns the track table settings. Tracks expire at the
// configured maximum track age.
func (c *Config) TrackingConfig() tracking.Config {
	return tracking.Config{
		MatchDistance:      c.Tracking.MatchDistance,
		DirectionThreshold: c.Tracking.DirectionThreshold,
		HistoryLength:      c.Tracking.History,
		MaxAge:             seconds(c.Speed.MaxTrackAge),
		StickyDirection:    c.Tracking.StickyDirection,
		MaxMissed:          c.Tracking.MaxMissed,
	}
}

// SpeedConfig returns the estimator settings.
func (c *Config) SpeedConfig() speed.Config {
	return speed.Config{
		L2R: speed.Line{
			Enabled:     c.Zones.L2REnabled,
			X:           float64(c.Zones.L2RLineX),
			Calibration: speed.Calibration(c.Calibration.L2R),
		},
		R2L: speed.Line{
			Enabled:     c.Zones.R2LEnabled,
			X:           float64(c.Zones.R2LLineX),
			Calibration: speed.Calibration(c.Calibration.R2L),
		},
		MinTimeDiff:    seconds(c.Speed.MinTimeDiff),
		MinTrackLength: float64(c.Speed.MinTrackLength),
		MinPositions:   c.Speed.MinPositions,
		MinSpeed:       c.Speed.MinSpeedOver,
		MaxSpeed:       c.Speed.MaxSpeedOver,
		UnitMPH:        c.Speed.SpeedUnitIsMPH,
		RejectTerminal: c.Speed.RejectTerminal,
	}
}

// Policy returns the classification policy.
func (c *Config) Policy() classify.Policy {
	return classify.Policy{
		AllowedLabels:       append([]string(nil), c.Vehicle.AllowedLabels...),
		ConfidenceThreshold: c.Vehicle.ConfidenceThreshold,
		IgnoreValidation:    c.Vehicle.IgnoreClassifierValidation,
		RequireValidation:   c.Vehicle.RequireClassifierValidation,
		AcceptGeneric:       c.Vehicle.AcceptGenericVehicle,
	}
}

// RunnerConfig returns the classifier worker pool settings.
func (c *Config) RunnerConfig() classify.RunnerConfig {
	return classify.RunnerConfig{
		Workers: c.Vehicle.Workers,
		Queue:   c.Vehicle.Queue,
		Timeout: c.Vehicle.ClassifierTimeout,
	}
}

// ROI returns the detection region.
func (c *Config) ROI() frame.ROI {
	return frame.ROI{
		Top:    c.Zones.ROITop,
		Bottom: c.Zones.ROIBottom,
		Left:   c.Zones.ROILeft,
		Right:  c.Zones.ROIRight,
	}
}

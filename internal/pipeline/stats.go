package pipeline

import "time"

// Reasons passed to Observer.TrackDropped.
const (
	DropStationary     = "stationary"
	DropSpeedRejected  = "speed_rejected"
	DropClassification = "classification_rejected"
	DropInvalid        = "invalid"
	DropPersistence    = "persistence"
)

// Stats are the cumulative pipeline counters.
type Stats struct {
	RunID                  string    `json:"run_id"`
	StartedAt              time.Time `json:"started_at"`
	Running                bool      `json:"running"`
	FramesProcessed        int64     `json:"frames_processed"`
	DetectErrors           int64     `json:"detect_errors"`
	MovingLogged           int64     `json:"moving_logged"`
	StationaryIgnored      int64     `json:"stationary_ignored"`
	SpeedRejected          int64     `json:"speed_rejected"`
	ClassificationRejected int64     `json:"classification_rejected"`
	PersistenceFailures    int64     `json:"persistence_failures"`
	L2RCount               int64     `json:"l2r_count"`
	R2LCount               int64     `json:"r2l_count"`
	ActiveTracks           int       `json:"active_tracks"`
	PendingClassifications int       `json:"pending_classifications"`
}

// Package config loads speed camera settings from defaults, an optional
// config file and SPEEDCAM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/banshee-data/speedcam/internal/monitoring"
)

// EnvPrefix prefixes every environment override, e.g. SPEEDCAM_SERVER_LISTEN.
const EnvPrefix = "SPEEDCAM"

// ErrInvalid marks configuration that prevents startup.
var ErrInvalid = errors.New("config: invalid")

// Config is the root of all settings.
type Config struct {
	Camera      CameraConfig      `mapstructure:"camera"`
	Buffer      BufferConfig      `mapstructure:"buffer"`
	Zones       ZonesConfig       `mapstructure:"zones"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Tracking    TrackingConfig    `mapstructure:"tracking"`
	Speed       SpeedConfig       `mapstructure:"speed"`
	Detection   DetectionConfig   `mapstructure:"detection"`
	Vehicle     VehicleConfig     `mapstructure:"vehicle"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Server      ServerConfig      `mapstructure:"server"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type CameraConfig struct {
	StreamURLs           []string      `mapstructure:"stream_urls"`
	FPS                  int           `mapstructure:"fps"`
	ProbeFrames          int           `mapstructure:"probe_frames"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	EmitEvery            int           `mapstructure:"emit_every"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
}

type BufferConfig struct {
	Capacity   int           `mapstructure:"capacity"`
	PutTimeout time.Duration `mapstructure:"put_timeout"`
	GetTimeout time.Duration `mapstructure:"get_timeout"`
}

type ZonesConfig struct {
	L2REnabled bool `mapstructure:"l2r_enabled"`
	R2LEnabled bool `mapstructure:"r2l_enabled"`
	L2RLineX   int  `mapstructure:"l2r_line_x"`
	R2LLineX   int  `mapstructure:"r2l_line_x"`
	ROITop     int  `mapstructure:"roi_top"`
	ROIBottom  int  `mapstructure:"roi_bottom"`
	ROILeft    int  `mapstructure:"roi_left"`
	ROIRight   int  `mapstructure:"roi_right"`
}

type CalibrationConfig struct {
	L2R Reference `mapstructure:"l2r"`
	R2L Reference `mapstructure:"r2l"`
}

// Reference is a measured object: its length on the road and in the image.
type Reference struct {
	ReferencePixels      float64 `mapstructure:"reference_pixels"`
	ReferenceMillimeters float64 `mapstructure:"reference_millimeters"`
}

type TrackingConfig struct {
	MatchDistance      float64 `mapstructure:"match_distance"`
	DirectionThreshold float64 `mapstructure:"direction_threshold"`
	History            int     `mapstructure:"history"`
	StickyDirection    bool    `mapstructure:"sticky_direction"`
	MaxMissed          int     `mapstructure:"max_missed"` // 0 disables
}

type SpeedConfig struct {
	MinTimeDiff    float64 `mapstructure:"min_time_diff"` // seconds
	MinTrackLength int     `mapstructure:"min_track_length"`
	MinSpeedOver   float64 `mapstructure:"min_speed_over"`
	MaxSpeedOver   float64 `mapstructure:"max_speed_over"`
	SpeedUnitIsMPH bool    `mapstructure:"speed_unit_is_mph"`
	MaxTrackAge    float64 `mapstructure:"max_track_age"` // seconds
	MinPositions   int     `mapstructure:"min_positions"`
	RejectTerminal bool    `mapstructure:"reject_terminal"`
}

type DetectionConfig struct {
	MinArea  int `mapstructure:"min_area"`
	MaxArea  int `mapstructure:"max_area"`
	BlurSize int `mapstructure:"blur_size"`
}

type VehicleConfig struct {
	AllowedLabels               []string      `mapstructure:"allowed_labels"`
	IgnoreClassifierValidation  bool          `mapstructure:"ignore_classifier_validation"`
	RequireClassifierValidation bool          `mapstructure:"require_classifier_validation"`
	AcceptGenericVehicle        bool          `mapstructure:"accept_generic_vehicle"`
	ConfidenceThreshold         float64       `mapstructure:"confidence_threshold"`
	ClassifierURL               string        `mapstructure:"classifier_url"`
	ClassifierTimeout           time.Duration `mapstructure:"classifier_timeout"`
	Workers                     int           `mapstructure:"workers"`
	Queue                       int           `mapstructure:"queue"`
}

type StorageConfig struct {
	Backend         string        `mapstructure:"backend"`
	CSVPath         string        `mapstructure:"csv_path"`
	DBPath          string        `mapstructure:"db_path"`
	ImageDir        string        `mapstructure:"image_dir"`
	SaveImages      bool          `mapstructure:"save_images"`
	ImageQuality    int           `mapstructure:"image_quality"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type ServerConfig struct {
	Listen        string  `mapstructure:"listen"`
	SpeedLimitKMH float64 `mapstructure:"speed_limit_kmh"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type NotifyConfig struct {
	URLs          []string `mapstructure:"urls"`
	SpeedLimitKMH float64  `mapstructure:"speed_limit_kmh"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level         string        `mapstructure:"level"`
	Format        string        `mapstructure:"format"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// New returns a viper instance with every default registered and
// environment overrides bound.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides, normalizes optional values and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for maintenance commands that never
// open the camera.
func Read(path string) (*Config, error) {
	v := New()
	if path != "" {
		cleanPath := filepath.Clean(path)
		if _, err := os.Stat(cleanPath); err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		v.SetConfigFile(cleanPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

// FromViper decodes v into a Config, then normalizes and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// Comma-separated environment values arrive as one string.
	cfg.Camera.StreamURLs = splitList(cfg.Camera.StreamURLs)
	cfg.Vehicle.AllowedLabels = splitList(cfg.Vehicle.AllowedLabels)
	cfg.Notify.URLs = splitList(cfg.Notify.URLs)

	cfg.Normalize(monitoring.Component("config").Logger())
	return cfg, nil
}

// Default returns the built-in defaults without reading files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(err)
	}
	return cfg
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// StreamURL returns the first configured stream target.
func (c *Config) StreamURL() string {
	if len(c.Camera.StreamURLs) == 0 {
		return ""
	}
	return c.Camera.StreamURLs[0]
}

// Validate reports settings that make startup impossible.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StreamURL()) == "" {
		errs = append(errs, errors.New("camera.stream_urls must name at least one stream"))
	}
	if c.Zones.L2REnabled {
		if err := c.Calibration.L2R.validate("l2r"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Zones.R2LEnabled {
		if err := c.Calibration.R2L.validate("r2l"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Zones.ROITop >= c.Zones.ROIBottom {
		errs = append(errs, fmt.Errorf("zones.roi_top (%d) must be above zones.roi_bottom (%d)", c.Zones.ROITop, c.Zones.ROIBottom))
	}
	if c.Zones.ROILeft >= c.Zones.ROIRight {
		errs = append(errs, fmt.Errorf("zones.roi_left (%d) must be left of zones.roi_right (%d)", c.Zones.ROILeft, c.Zones.ROIRight))
	}
	if c.Detection.MinArea > c.Detection.MaxArea {
		errs = append(errs, fmt.Errorf("detection.min_area (%d) exceeds detection.max_area (%d)", c.Detection.MinArea, c.Detection.MaxArea))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (r Reference) validate(dir string) error {
	if r.ReferencePixels <= 0 || r.ReferenceMillimeters <= 0 {
		return fmt.Errorf("calibration.%s needs positive reference_pixels and reference_millimeters, got %v and %v",
			dir, r.ReferencePixels, r.ReferenceMillimeters)
	}
	return nil
}

// Normalize replaces invalid optional values with their defaults, logging a
// warning for each, and returns the keys it changed.
func (c *Config) Normalize(logger *slog.Logger) []string {
	d := Default()
	var fixed []string
	warn := func(key string, got, want any) {
		fixed = append(fixed, key)
		if logger != nil {
			logger.Warn("invalid config value, using default", "key", key, "value", got, "default", want)
		}
	}

	if c.Camera.FPS <= 0 {
		warn("camera.fps", c.Camera.FPS, d.Camera.FPS)
		c.Camera.FPS = d.Camera.FPS
	}
	if c.Camera.MaxBackoff <= 0 {
		warn("camera.max_backoff", c.Camera.MaxBackoff, d.Camera.MaxBackoff)
		c.Camera.MaxBackoff = d.Camera.MaxBackoff
	}
	if c.Buffer.Capacity <= 0 {
		warn("buffer.capacity", c.Buffer.Capacity, d.Buffer.Capacity)
		c.Buffer.Capacity = d.Buffer.Capacity
	}
	if c.Buffer.GetTimeout <= 0 {
		warn("buffer.get_timeout", c.Buffer.GetTimeout, d.Buffer.GetTimeout)
		c.Buffer.GetTimeout = d.Buffer.GetTimeout
	}
	if c.Tracking.MatchDistance <= 0 {
		warn("tracking.match_distance", c.Tracking.MatchDistance, d.Tracking.MatchDistance)
		c.Tracking.MatchDistance = d.Tracking.MatchDistance
	}
	if c.Tracking.History < 2 {
		warn("tracking.history", c.Tracking.History, d.Tracking.History)
		c.Tracking.History = d.Tracking.History
	}
	if c.Tracking.MaxMissed < 0 {
		warn("tracking.max_missed", c.Tracking.MaxMissed, d.Tracking.MaxMissed)
		c.Tracking.MaxMissed = d.Tracking.MaxMissed
	}
	if c.Speed.MinPositions > c.Tracking.History {
		if logger != nil {
			logger.Warn("speed.min_positions exceeds tracking.history, clamping",
				"min_positions", c.Speed.MinPositions, "history", c.Tracking.History)
		}
		fixed = append(fixed, "speed.min_positions")
		c.Speed.MinPositions = c.Tracking.History
	}
	if c.Speed.MinTimeDiff <= 0 {
		warn("speed.min_time_diff", c.Speed.MinTimeDiff, d.Speed.MinTimeDiff)
		c.Speed.MinTimeDiff = d.Speed.MinTimeDiff
	}
	if c.Speed.MinTrackLength <= 0 {
		warn("speed.min_track_length", c.Speed.MinTrackLength, d.Speed.MinTrackLength)
		c.Speed.MinTrackLength = d.Speed.MinTrackLength
	}
	if c.Speed.MaxTrackAge <= 0 {
		warn("speed.max_track_age", c.Speed.MaxTrackAge, d.Speed.MaxTrackAge)
		c.Speed.MaxTrackAge = d.Speed.MaxTrackAge
	}
	if c.Speed.MinSpeedOver < 0 || c.Speed.MinSpeedOver > c.Speed.MaxSpeedOver {
		warn("speed.min_speed_over", c.Speed.MinSpeedOver, d.Speed.MinSpeedOver)
		c.Speed.MinSpeedOver = d.Speed.MinSpeedOver
		c.Speed.MaxSpeedOver = max(c.Speed.MaxSpeedOver, d.Speed.MaxSpeedOver)
	}
	if c.Vehicle.ConfidenceThreshold < 0 || c.Vehicle.ConfidenceThreshold > 1 {
		warn("vehicle.confidence_threshold", c.Vehicle.ConfidenceThreshold, d.Vehicle.ConfidenceThreshold)
		c.Vehicle.ConfidenceThreshold = d.Vehicle.ConfidenceThreshold
	}
	if c.Vehicle.ClassifierTimeout <= 0 {
		warn("vehicle.classifier_timeout", c.Vehicle.ClassifierTimeout, d.Vehicle.ClassifierTimeout)
		c.Vehicle.ClassifierTimeout = d.Vehicle.ClassifierTimeout
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "csv", "sqlite":
		c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	default:
		warn("storage.backend", c.Storage.Backend, d.Storage.Backend)
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.ImageQuality < 1 || c.Storage.ImageQuality > 100 {
		warn("storage.image_quality", c.Storage.ImageQuality, d.Storage.ImageQuality)
		c.Storage.ImageQuality = d.Storage.ImageQuality
	}
	if c.Storage.RetentionDays < 0 {
		warn("storage.retention_days", c.Storage.RetentionDays, d.Storage.RetentionDays)
		c.Storage.RetentionDays = d.Storage.RetentionDays
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		warn("logging.format", c.Logging.Format, d.Logging.Format)
		c.Logging.Format = d.Logging.Format
	}
	return fixed
}

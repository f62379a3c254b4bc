package config

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("camera.stream_urls", []string{})
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.probe_frames", 3)
	v.SetDefault("camera.max_consecutive_errors", 10)
	v.SetDefault("camera.emit_every", 30)
	v.SetDefault("camera.max_backoff", 30*time.Second)

	v.SetDefault("buffer.capacity", 30)
	v.SetDefault("buffer.put_timeout", 100*time.Millisecond)
	v.SetDefault("buffer.get_timeout", time.Second)

	v.SetDefault("zones.l2r_enabled", true)
	v.SetDefault("zones.r2l_enabled", true)
	v.SetDefault("zones.l2r_line_x", 400)
	v.SetDefault("zones.r2l_line_x", 1400)
	v.SetDefault("zones.roi_top", 300)
	v.SetDefault("zones.roi_bottom", 590)
	v.SetDefault("zones.roi_left", 100)
	v.SetDefault("zones.roi_right", 1820)

	v.SetDefault("calibration.l2r.reference_pixels", 261.0)
	v.SetDefault("calibration.l2r.reference_millimeters", 4127.0)
	v.SetDefault("calibration.r2l.reference_pixels", 261.0)
	v.SetDefault("calibration.r2l.reference_millimeters", 4127.0)

	v.SetDefault("tracking.match_distance", 100.0)
	v.SetDefault("tracking.direction_threshold", 20.0)
	v.SetDefault("tracking.history", 10)
	v.SetDefault("tracking.sticky_direction", true)
	v.SetDefault("tracking.max_missed", 0)

	v.SetDefault("speed.min_time_diff", 0.3)
	v.SetDefault("speed.min_track_length", 50)
	v.SetDefault("speed.min_speed_over", 5.0)
	v.SetDefault("speed.max_speed_over", 200.0)
	v.SetDefault("speed.speed_unit_is_mph", false)
	v.SetDefault("speed.max_track_age", 10.0)
	v.SetDefault("speed.min_positions", 5)
	v.SetDefault("speed.reject_terminal", true)

	v.SetDefault("detection.min_area", 500)
	v.SetDefault("detection.max_area", 50000)
	v.SetDefault("detection.blur_size", 10)

	v.SetDefault("vehicle.allowed_labels", []string{"car", "truck", "bus", "motorcycle", "bicycle"})
	v.SetDefault("vehicle.ignore_classifier_validation", false)
	v.SetDefault("vehicle.require_classifier_validation", false)
	v.SetDefault("vehicle.accept_generic_vehicle", true)
	v.SetDefault("vehicle.confidence_threshold", 0.5)
	v.SetDefault("vehicle.classifier_url", "")
	v.SetDefault("vehicle.classifier_timeout", 500*time.Millisecond)
	v.SetDefault("vehicle.workers", 2)
	v.SetDefault("vehicle.queue", 8)

	v.SetDefault("storage.backend", "csv")
	v.SetDefault("storage.csv_path", "data/detections.csv")
	v.SetDefault("storage.db_path", "data/detections.db")
	v.SetDefault("storage.image_dir", "data/images")
	v.SetDefault("storage.save_images", true)
	v.SetDefault("storage.image_quality", 95)
	v.SetDefault("storage.retention_days", 30)
	v.SetDefault("storage.cleanup_interval", 24*time.Hour)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.speed_limit_kmh", 50.0)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "speedcam/detections")
	v.SetDefault("mqtt.client_id", "speedcam")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.speed_limit_kmh", 0.0)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.stats_interval", 60*time.Second)
}

// Package metrics exposes pipeline measurements as Prometheus metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/speedcam/internal/eventlog"
)

const namespace = "speedcam"

// PipelineMetrics records per-frame and per-event measurements. It
// implements pipeline.Observer.
type PipelineMetrics struct {
	FrameLatency  prometheus.Histogram
	Detections    prometheus.Counter
	EventsLogged  *prometheus.CounterVec
	EventSpeed    *prometheus.HistogramVec
	TracksDropped *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec
}

// NewPipelineMetrics creates the metrics and registers them with registry.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.FrameLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing one frame",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.Detections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "motion_detections_total",
		Help:      "Motion boxes returned by the detector",
	})
	m.EventsLogged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_logged_total",
		Help:      "Detection events written to the event log",
	}, []string{"direction", "label"})
	m.EventSpeed = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_speed_kmh",
		Help:      "Measured speed of logged events in km/h",
		Buckets:   prometheus.LinearBuckets(10, 10, 15),
	}, []string{"direction"})
	m.TracksDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracks_dropped_total",
		Help:      "Tracks that ended without a logged event, by reason",
	}, []string{"reason"})
	m.SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Failed deliveries to event sinks",
	}, []string{"sink"})
}

// FrameProcessed records one processing cycle.
func (m *PipelineMetrics) FrameProcessed(elapsed time.Duration, detections int) {
	m.FrameLatency.Observe(elapsed.Seconds())
	m.Detections.Add(float64(detections))
}

// EventLogged records a persisted event.
func (m *PipelineMetrics) EventLogged(e eventlog.Event) {
	m.EventsLogged.WithLabelValues(e.Direction, e.ObjectType).Inc()
	m.EventSpeed.WithLabelValues(e.Direction).Observe(e.SpeedKMH)
}

// TrackDropped records a track that produced no event.
func (m *PipelineMetrics) TrackDropped(reason string) {
	m.TracksDropped.WithLabelValues(reason).Inc()
}

// SinkFailed records a failed delivery to the named sink.
func (m *PipelineMetrics) SinkFailed(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// Describe implements prometheus.Collector.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FrameLatency.Describe(ch)
	m.Detections.Describe(ch)
	m.EventsLogged.Describe(ch)
	m.EventSpeed.Describe(ch)
	m.TracksDropped.Describe(ch)
	m.SinkErrors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FrameLatency.Collect(ch)
	m.Detections.Collect(ch)
	m.EventsLogged.Collect(ch)
	m.EventSpeed.Collect(ch)
	m.TracksDropped.Collect(ch)
	m.SinkErrors.Collect(ch)
}

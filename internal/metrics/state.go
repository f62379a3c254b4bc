package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/pipeline"
	"github.com/banshee-data/speedcam/internal/stream"
)

// Sources supplies point-in-time stats for StateCollector. Nil fields are
// skipped.
type Sources struct {
	Pipeline func() pipeline.Stats
	Buffer   func() framebuffer.Stats
	Stream   func() stream.Stats
	State    func() stream.ConnectionState
}

type desc struct {
	d     *prometheus.Desc
	kind  prometheus.ValueType
	value func() float64
}

// StateCollector reads the component counters at scrape time.
type StateCollector struct {
	descs []desc
}

// NewStateCollector builds the collector for the non-nil sources.
func NewStateCollector(src Sources) *StateCollector {
	c := &StateCollector{}
	add := func(name, help string, kind prometheus.ValueType, fn func() float64) {
		c.descs = append(c.descs, desc{
			d:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			kind:  kind,
			value: fn,
		})
	}
	if p := src.Pipeline; p != nil {
		add("frames_processed_total", "Frames run through the pipeline", prometheus.CounterValue, func() float64 { return float64(p().FramesProcessed) })
		add("detect_errors_total", "Motion detector failures", prometheus.CounterValue, func() float64 { return float64(p().DetectErrors) })
		add("persistence_failures_total", "Event log writes that failed", prometheus.CounterValue, func() float64 { return float64(p().PersistenceFailures) })
		add("active_tracks", "Tracks currently live", prometheus.GaugeValue, func() float64 { return float64(p().ActiveTracks) })
		add("pending_classifications", "Tracks waiting on the classifier", prometheus.GaugeValue, func() float64 { return float64(p().PendingClassifications) })
		add("running", "1 while detection is enabled", prometheus.GaugeValue, func() float64 { return boolValue(p().Running) })
	}
	if b := src.Buffer; b != nil {
		add("buffer_depth", "Frames waiting in the buffer", prometheus.GaugeValue, func() float64 { return float64(b().Depth) })
		add("buffer_capacity", "Frame buffer capacity", prometheus.GaugeValue, func() float64 { return float64(b().Capacity) })
		add("buffer_frames_dropped_total", "Frames dropped because the buffer was full", prometheus.CounterValue, func() float64 { return float64(b().Dropped) })
		add("buffer_error_rate", "Decode errors per accepted frame", prometheus.GaugeValue, func() float64 { return b().ErrorRate })
	}
	if s := src.Stream; s != nil {
		add("stream_connects_total", "Successful stream connections", prometheus.CounterValue, func() float64 { return float64(s().Connects) })
		add("stream_reconnects_total", "Stream reconnections", prometheus.CounterValue, func() float64 { return float64(s().Reconnects) })
		add("stream_decode_errors_total", "Frames that failed to decode", prometheus.CounterValue, func() float64 { return float64(s().DecodeErrors) })
	}
	if st := src.State; st != nil {
		add("stream_connected", "1 while the stream is connected", prometheus.GaugeValue, func() float64 { return boolValue(st().Phase == stream.Connected) })
		add("stream_backoff_seconds", "Current reconnect backoff", prometheus.GaugeValue, func() float64 { return st().BackoffSeconds })
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.d
	}
}

// Collect implements prometheus.Collector.
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.d, d.kind, d.value())
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

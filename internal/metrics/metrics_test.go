package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/pipeline"
	"github.com/banshee-data/speedcam/internal/stream"
)

func TestPipelineMetricsObserver(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	var _ pipeline.Observer = m

	m.FrameProcessed(20*time.Millisecond, 2)
	m.FrameProcessed(10*time.Millisecond, 1)
	m.EventLogged(eventlog.Event{Direction: "L2R", ObjectType: "car", SpeedKMH: 42})
	m.TrackDropped(pipeline.DropStationary)
	m.TrackDropped(pipeline.DropStationary)
	m.SinkFailed("mqtt")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Detections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsLogged.WithLabelValues("L2R", "car")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TracksDropped.WithLabelValues(pipeline.DropStationary)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("mqtt")))

	_, err = NewPipelineMetrics(registry)
	assert.Error(t, err, "second registration must fail")
}

func TestStateCollector(t *testing.T) {
	c := NewStateCollector(Sources{
		Pipeline: func() pipeline.Stats { return pipeline.Stats{FramesProcessed: 12, ActiveTracks: 3, Running: true} },
		Buffer:   func() framebuffer.Stats { return framebuffer.Stats{Depth: 4, Capacity: 30, Dropped: 1} },
		State:    func() stream.ConnectionState { return stream.ConnectionState{Phase: stream.Connected} },
	})
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	expected := `
# HELP speedcam_buffer_depth Frames waiting in the buffer
# TYPE speedcam_buffer_depth gauge
speedcam_buffer_depth 4
# HELP speedcam_frames_processed_total Frames run through the pipeline
# TYPE speedcam_frames_processed_total counter
speedcam_frames_processed_total 12
# HELP speedcam_stream_connected 1 while the stream is connected
# TYPE speedcam_stream_connected gauge
speedcam_stream_connected 1
`
	err := testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"speedcam_buffer_depth", "speedcam_frames_processed_total", "speedcam_stream_connected")
	assert.NoError(t, err)

	// Stream counters were not supplied.
	n, err := testutil.GatherAndCount(registry, "speedcam_stream_reconnects_total")
	require.NoError(t, err)
	assert.Zero(t, n)
}

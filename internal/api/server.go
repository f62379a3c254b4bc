// Package api serves the dashboard: pipeline status and control, detection
// queries and exports, analytics, stored images and the live MJPEG view.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/hybridgroup/mjpeg"

	"github.com/banshee-data/speedcam/internal/analytics"
	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/images"
	"github.com/banshee-data/speedcam/internal/monitoring"
	"github.com/banshee-data/speedcam/internal/pipeline"
	"github.com/banshee-data/speedcam/internal/retention"
	"github.com/banshee-data/speedcam/internal/stream"
	"github.com/banshee-data/speedcam/internal/timeutil"
)

var log = monitoring.Component("api")

// Pipeline is the control surface of the running orchestrator.
type Pipeline interface {
	Start()
	Stop()
	Running() bool
	Stats() pipeline.Stats
	LatestJPEG() []byte
}

// Source reports the stream connection.
type Source interface {
	State() stream.ConnectionState
	Stats() stream.Stats
}

// BufferStats reports frame buffer counters.
type BufferStats interface {
	Stats() framebuffer.Stats
}

// Options wires the server to the running components. Only Events is
// required; routes whose component is nil answer 503.
type Options struct {
	Pipeline  Pipeline
	Buffer    BufferStats
	Source    Source
	Events    eventlog.Store
	Analytics *analytics.Service
	Images    *images.Store
	Cleaner   *retention.Cleaner
	// Metrics serves /metrics, typically promhttp.HandlerFor.
	Metrics http.Handler
	// Admin mounts debug routes on the mux.
	Admin func(mux *http.ServeMux) error

	SpeedLimitKMH float64
	UnitMPH       bool
	Clock         timeutil.Clock
}

// Server handles dashboard requests.
type Server struct {
	opts    Options
	clock   timeutil.Clock
	stream  *mjpeg.Stream
	started time.Time
}

// NewServer returns a Server for opts.
func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Analytics == nil && opts.Events != nil {
		opts.Analytics = analytics.NewService(opts.Events, opts.SpeedLimitKMH, 0)
	}
	return &Server{
		opts:    opts,
		clock:   opts.Clock,
		stream:  mjpeg.NewStream(),
		started: opts.Clock.Now(),
	}
}

// ServeMux returns the routes.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/detections", s.listDetections)
	mux.HandleFunc("/api/violations", s.listViolations)
	mux.HandleFunc("/api/analytics", s.showAnalytics)
	mux.HandleFunc("/api/analytics/chart", s.showChart)
	mux.HandleFunc("/api/analytics/histogram.png", s.showHistogram)
	mux.HandleFunc("/api/images", s.listImages)
	mux.HandleFunc("/api/files/cleanup", s.handleCleanup)
	mux.HandleFunc("/api/files/{name}", s.deleteFile)
	mux.HandleFunc("/images/{name}", s.serveImage)
	mux.HandleFunc("/api/frame.jpg", s.serveFrame)
	mux.Handle("/api/stream", s.stream)
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}
	if s.opts.Admin != nil {
		if err := s.opts.Admin(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// RunStream copies the latest annotated frame into the MJPEG stream every
// interval until ctx is done.
func (s *Server) RunStream(ctx context.Context, interval time.Duration) {
	if s.opts.Pipeline == nil {
		return
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		jpeg := s.opts.Pipeline.LatestJPEG()
		if len(jpeg) == 0 || (len(last) > 0 && &jpeg[0] == &last[0]) {
			continue
		}
		last = jpeg
		s.stream.UpdateJPEG(jpeg)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		attrs := []any{
			"method", r.Method,
			"uri", r.RequestURI,
			"status", lrw.statusCode,
			"ms", float64(time.Since(start).Microseconds()) / 1e3,
		}
		if lrw.statusCode >= 500 {
			log.Ops("http request", attrs...)
			return
		}
		log.Diag("http request", attrs...)
	})
}

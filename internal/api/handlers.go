package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/speedcam/internal/analytics"
	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/httputil"
	"github.com/banshee-data/speedcam/internal/images"
	"github.com/banshee-data/speedcam/internal/pipeline"
	"github.com/banshee-data/speedcam/internal/retention"
	"github.com/banshee-data/speedcam/internal/security"
	"github.com/banshee-data/speedcam/internal/stream"
	"github.com/banshee-data/speedcam/internal/units"
	"github.com/banshee-data/speedcam/internal/version"
)

// Status is the /api/status response.
type Status struct {
	Running       bool                    `json:"running"`
	RunID         string                  `json:"run_id,omitempty"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Version       string                  `json:"version"`
	Pipeline      *pipeline.Stats         `json:"pipeline,omitempty"`
	Buffer        *framebuffer.Stats      `json:"buffer,omitempty"`
	ErrorRatePct  float64                 `json:"error_rate_pct"`
	Connection    *stream.ConnectionState `json:"connection,omitempty"`
	Source        *stream.Stats           `json:"source,omitempty"`
}

func (s *Server) status() Status {
	st := Status{
		UptimeSeconds: units.Round(s.clock.Since(s.started).Seconds(), 1),
		Version:       version.Version,
	}
	if p := s.opts.Pipeline; p != nil {
		ps := p.Stats()
		st.Running = p.Running()
		st.RunID = ps.RunID
		st.Pipeline = &ps
	}
	if b := s.opts.Buffer; b != nil {
		bs := b.Stats()
		st.Buffer = &bs
		st.ErrorRatePct = units.Round(bs.ErrorRate*100, 2)
	}
	if src := s.opts.Source; src != nil {
		cs, ss := src.State(), src.Stats()
		st.Connection, st.Source = &cs, &ss
	}
	return st
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, true)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, false)
}

// control is idempotent and echoes the resulting state.
func (s *Server) control(w http.ResponseWriter, r *http.Request, start bool) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Pipeline == nil {
		httputil.ServiceUnavailable(w, "pipeline not running")
		return
	}
	if start {
		s.opts.Pipeline.Start()
	} else {
		s.opts.Pipeline.Stop()
	}
	httputil.WriteJSONOK(w, map[string]any{"running": s.opts.Pipeline.Running()})
}

// timeWindow maps a dashboard time filter to the start of its window. The
// zero time means no lower bound.
func timeWindow(filter string, now time.Time) (time.Time, error) {
	switch strings.ToLower(filter) {
	case "", "all":
		return time.Time{}, nil
	case "1h", "hour":
		return now.Add(-time.Hour), nil
	case "3h", "3hour":
		return now.Add(-3 * time.Hour), nil
	case "1d", "day":
		return now.Add(-24 * time.Hour), nil
	case "1w", "week":
		return now.Add(-7 * 24 * time.Hour), nil
	}
	return time.Time{}, fmt.Errorf("invalid time_filter %q", filter)
}

// Detection is one row of the detections listing.
type Detection struct {
	eventlog.Event
	HasImage    bool    `json:"has_image"`
	IsViolation bool    `json:"is_violation"`
	SpeedLimit  float64 `json:"speed_limit"`
}

type detectionQuery struct {
	filter         eventlog.Filter
	timeFilter     string
	limitKMH       float64
	violationsOnly bool
	csv            bool
}

// applyLimit filters to events over the speed limit. A zero limit would
// match every event, so it is rejected.
func (dq *detectionQuery) applyLimit() error {
	if dq.limitKMH <= 0 {
		return fmt.Errorf("speed_limit_kmh must be positive for violations")
	}
	dq.filter.MinSpeedKMH = dq.limitKMH
	return nil
}

func (s *Server) parseDetectionQuery(r *http.Request) (detectionQuery, error) {
	q := r.URL.Query()
	dq := detectionQuery{
		timeFilter: q.Get("time_filter"),
		limitKMH:   s.opts.SpeedLimitKMH,
		csv:        strings.EqualFold(q.Get("format"), "csv"),
	}
	if dq.timeFilter == "" {
		dq.timeFilter = "all"
	}
	since, err := timeWindow(dq.timeFilter, s.clock.Now())
	if err != nil {
		return dq, err
	}
	dq.filter = eventlog.Filter{
		Since:     since,
		Label:     q.Get("type"),
		Direction: q.Get("direction"),
	}
	if v := q.Get("speed_limit_kmh"); v != "" {
		if dq.limitKMH, err = strconv.ParseFloat(v, 64); err != nil || dq.limitKMH < 0 {
			return dq, fmt.Errorf("invalid speed_limit_kmh %q", v)
		}
	}
	if v := q.Get("violations_only"); v != "" {
		if dq.violationsOnly, err = strconv.ParseBool(v); err != nil {
			return dq, fmt.Errorf("invalid violations_only %q", v)
		}
	}
	if dq.violationsOnly {
		if err := dq.applyLimit(); err != nil {
			return dq, err
		}
	}
	if v := q.Get("include_removed"); v != "" {
		if dq.filter.IncludeRemoved, err = strconv.ParseBool(v); err != nil {
			return dq, fmt.Errorf("invalid include_removed %q", v)
		}
	}
	if v := q.Get("limit"); v != "" && v != "all" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return dq, fmt.Errorf("invalid limit %q", v)
		}
		dq.filter.Limit = n
	}
	return dq, nil
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	dq, err := s.parseDetectionQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.writeDetections(w, r, dq)
}

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	dq, err := s.parseDetectionQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	dq.violationsOnly = true
	if err := dq.applyLimit(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.writeDetections(w, r, dq)
}

func (s *Server) writeDetections(w http.ResponseWriter, r *http.Request, dq detectionQuery) {
	if s.opts.Events == nil {
		httputil.ServiceUnavailable(w, "event log not available")
		return
	}
	events, err := s.opts.Events.Query(r.Context(), dq.filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve detections: %v", err))
		return
	}

	if dq.csv {
		prefix := "detections"
		if dq.violationsOnly {
			prefix = "violations"
		}
		var buf bytes.Buffer
		if err := eventlog.WriteCSV(&buf, events); err != nil {
			httputil.InternalServerError(w, "Failed to write csv")
			return
		}
		name := security.SanitizeFilename(prefix + "_" + dq.timeFilter)
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", name))
		_, _ = w.Write(buf.Bytes())
		return
	}

	out := make([]Detection, len(events))
	for i, e := range events {
		out[i] = Detection{
			Event:       e,
			HasImage:    strings.TrimSpace(e.ImageFile) != "",
			IsViolation: dq.limitKMH > 0 && e.SpeedKMH > dq.limitKMH,
			SpeedLimit:  dq.limitKMH,
		}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) analyticsFilter(r *http.Request) (eventlog.Filter, error) {
	q := r.URL.Query()
	since, err := timeWindow(q.Get("time_filter"), s.clock.Now())
	if err != nil {
		return eventlog.Filter{}, err
	}
	return eventlog.Filter{Since: since, Label: q.Get("type"), Direction: q.Get("direction")}, nil
}

func (s *Server) showAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Analytics == nil {
		httputil.ServiceUnavailable(w, "analytics not available")
		return
	}
	f, err := s.analyticsFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sum, err := s.opts.Analytics.Summary(r.Context(), f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to compute analytics: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sum)
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	events, ok := s.analyticsEvents(w, r)
	if !ok {
		return
	}
	bin := 5.0
	if v := r.URL.Query().Get("bin_kmh"); v != "" {
		if b, err := strconv.ParseFloat(v, 64); err == nil && b > 0 && b <= 50 {
			bin = b
		}
	}
	var buf bytes.Buffer
	if err := analytics.ChartPage(&buf, "Speed camera detections", events, bin); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) showHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	events, ok := s.analyticsEvents(w, r)
	if !ok {
		return
	}
	bins := 20
	if v := r.URL.Query().Get("bins"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			bins = n
		}
	}
	var buf bytes.Buffer
	if err := analytics.HistogramPNG(&buf, events, bins); err != nil {
		if errors.Is(err, analytics.ErrNoData) {
			httputil.NotFound(w, "no detections in range")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to render histogram: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) analyticsEvents(w http.ResponseWriter, r *http.Request) ([]eventlog.Event, bool) {
	if s.opts.Analytics == nil {
		httputil.ServiceUnavailable(w, "analytics not available")
		return nil, false
	}
	f, err := s.analyticsFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	events, err := s.opts.Analytics.Events(r.Context(), f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve detections: %v", err))
		return nil, false
	}
	return events, true
}

// ImageInfo is one entry of /api/images.
type ImageInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
	URL     string    `json:"url"`
}

func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Images == nil {
		httputil.ServiceUnavailable(w, "image storage disabled")
		return
	}
	entries, err := s.opts.Images.List()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list images: %v", err))
		return
	}
	out := make([]ImageInfo, len(entries))
	for i, e := range entries {
		out[i] = ImageInfo{Name: e.Name, Size: e.Size, ModTime: e.ModTime, URL: "/images/" + e.Name}
	}
	slices.SortFunc(out, func(a, b ImageInfo) int { return b.ModTime.Compare(a.ModTime) })
	httputil.WriteJSONOK(w, out)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Images == nil {
		httputil.NotFound(w, "image storage disabled")
		return
	}
	name := r.PathValue("name")
	if err := security.ValidateImageName(name); err != nil {
		httputil.BadRequest(w, "invalid image name")
		return
	}
	data, err := s.opts.Images.Read(name)
	switch {
	case errors.Is(err, images.ErrNotFound):
		httputil.NotFound(w, "image not found")
		return
	case err != nil:
		httputil.InternalServerError(w, "Failed to read image")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

func (s *Server) serveFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Pipeline == nil {
		httputil.ServiceUnavailable(w, "pipeline not running")
		return
	}
	jpeg := s.opts.Pipeline.LatestJPEG()
	if len(jpeg) == 0 {
		httputil.ServiceUnavailable(w, "no frame yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(jpeg)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Cleaner == nil {
		httputil.ServiceUnavailable(w, "cleanup not configured")
		return
	}
	res, err := s.opts.Cleaner.Sweep(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Cleanup failed: %v", err))
		return
	}
	s.invalidate()
	httputil.WriteJSONOK(w, res)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Cleaner == nil {
		httputil.ServiceUnavailable(w, "cleanup not configured")
		return
	}
	name := r.PathValue("name")
	if err := security.ValidateImageName(name); err != nil {
		httputil.BadRequest(w, "invalid image name")
		return
	}
	res, err := s.opts.Cleaner.Remove(r.Context(), name)
	switch {
	case errors.Is(err, retention.ErrNotFound):
		httputil.NotFound(w, "detection not found")
		return
	case err != nil:
		httputil.InternalServerError(w, fmt.Sprintf("Delete failed: %v", err))
		return
	}
	s.invalidate()
	httputil.WriteJSONOK(w, res)
}

func (s *Server) invalidate() {
	if s.opts.Analytics != nil {
		s.opts.Analytics.Invalidate()
	}
}

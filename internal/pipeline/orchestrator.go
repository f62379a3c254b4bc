// Package pipeline drives the per-frame cycle: pull a frame, detect motion,
// associate tracks, evaluate speed, classify, log and render the live view.
//
// All track state is owned by the goroutine running Run. Other goroutines
// only read Stats and LatestJPEG.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/speedcam/internal/classify"
	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/images"
	"github.com/banshee-data/speedcam/internal/monitoring"
	"github.com/banshee-data/speedcam/internal/speed"
	"github.com/banshee-data/speedcam/internal/timeutil"
	"github.com/banshee-data/speedcam/internal/tracking"
	"github.com/banshee-data/speedcam/internal/units"
)

var log = monitoring.Component("pipeline")

// Config holds presentation and persistence settings.
type Config struct {
	ROI           frame.ROI
	SaveImages    bool
	UnitMPH       bool
	JPEGQuality   int // live view fallback encoder
	StatsInterval time.Duration
	Clock         timeutil.Clock
}

// Options are the collaborators. Frames, Detector, Tracks, Estimator and
// Store are required.
type Options struct {
	Frames     FrameSource
	Detector   Detector
	Tracks     *tracking.Table
	Estimator  *speed.Estimator
	Classifier *classify.Runner
	Store      eventlog.Store
	Renderer   Renderer
	Images     ImageSink
	Sinks      []EventSink
	Alerter    Alerter
	Observer   Observer
}

// pending is a track waiting for its classification result.
type pending struct {
	track tracking.Track
	frame frame.Frame
	color string
	at    time.Time
}

// Orchestrator runs the processing loop.
type Orchestrator struct {
	cfg   Config
	opts  Options
	clock timeutil.Clock

	pending     map[int]pending
	detectEvery *monitoring.Every
	lastStats   time.Time

	paused    atomic.Bool
	closeOnce sync.Once

	mu     sync.RWMutex
	stats  Stats
	latest []byte
}

// New validates the collaborators and returns an Orchestrator in the
// running state.
func New(cfg Config, opts Options) (*Orchestrator, error) {
	switch {
	case opts.Frames == nil:
		return nil, errors.New("pipeline: frame source required")
	case opts.Detector == nil:
		return nil, errors.New("pipeline: detector required")
	case opts.Tracks == nil:
		return nil, errors.New("pipeline: track table required")
	case opts.Estimator == nil:
		return nil, errors.New("pipeline: speed estimator required")
	case opts.Store == nil:
		return nil, errors.New("pipeline: event store required")
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.NewRunner(nil, classify.Policy{}, classify.RunnerConfig{})
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 80
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Minute
	}
	now := cfg.Clock.Now()
	o := &Orchestrator{
		cfg:         cfg,
		opts:        opts,
		clock:       cfg.Clock,
		pending:     make(map[int]pending),
		detectEvery: monitoring.NewEvery(100),
		lastStats:   now,
		stats: Stats{
			RunID:     uuid.NewString(),
			StartedAt: now,
			Running:   true,
		},
	}
	return o, nil
}

// Start resumes detection after Stop.
func (o *Orchestrator) Start() {
	if !o.paused.Swap(false) {
		return
	}
	log.Info("detection resumed")
}

// Stop pauses detection. Frames keep flowing to the live view.
func (o *Orchestrator) Stop() {
	if o.paused.Swap(true) {
		return
	}
	log.Info("detection paused")
}

// Running reports whether detection is active.
func (o *Orchestrator) Running() bool { return !o.paused.Load() }

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.stats
	s.Running = o.Running()
	return s
}

// LatestJPEG returns the most recent live view frame, or nil before the
// first frame.
func (o *Orchestrator) LatestJPEG() []byte {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

// Run processes frames until ctx is cancelled or the frame source closes,
// then flushes pending classifications to the event log.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info("pipeline started", "run_id", o.stats.RunID)
	defer o.Close()

	for {
		f, err := o.opts.Frames.Get(ctx)
		switch {
		case err == nil:
			o.ProcessFrame(ctx, f)
		case errors.Is(err, framebuffer.ErrEmpty):
			o.Idle(ctx)
		case errors.Is(err, framebuffer.ErrClosed):
			log.Info("frame source closed")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			log.Error("frame source failed", "error", err)
		}
		o.maybeLogStats()
	}
}

// ProcessFrame runs one cycle on f.
func (o *Orchestrator) ProcessFrame(ctx context.Context, f frame.Frame) {
	start := o.clock.Now()
	now := f.Captured
	if now.IsZero() {
		now = start
	}

	o.drainResults(ctx)

	detections := 0
	if o.Running() {
		boxes, err := o.opts.Detector.Detect(f)
		if err != nil {
			o.count(func(s *Stats) { s.DetectErrors++ })
			if o.detectEvery.Allow() {
				log.Ops("motion detection failed", "error", err, "seq", f.Seq)
			}
			boxes = nil
		}
		detections = len(boxes)
		updated, created := o.opts.Tracks.Associate(boxes, now)
		log.Trace("associated", "seq", f.Seq, "detections", detections, "updated", len(updated), "created", len(created))

		o.evaluate(ctx, f, now)
		o.expire(now)
	}

	o.render(f)
	o.count(func(s *Stats) {
		s.FramesProcessed++
		s.ActiveTracks = o.opts.Tracks.Len()
		s.PendingClassifications = len(o.pending)
	})
	if o.opts.Observer != nil {
		o.opts.Observer.FrameProcessed(o.clock.Since(start), detections)
	}
}

// Idle runs the housekeeping part of a cycle when no frame arrived.
func (o *Orchestrator) Idle(ctx context.Context) {
	o.drainResults(ctx)
	if o.Running() {
		o.expire(o.clock.Now())
	}
}

func (o *Orchestrator) evaluate(ctx context.Context, f frame.Frame, now time.Time) {
	for _, tr := range o.opts.Tracks.Active() {
		res := o.opts.Estimator.Evaluate(tr)
		switch res.Outcome {
		case speed.Calculated:
			o.opts.Tracks.Remove(tr.ID)
			o.classify(ctx, f, tr, now)
			log.Diag("speed calculated",
				"track", tr.ID, "direction", tr.Direction.String(),
				"kmh", units.Round(res.Speed.KMPH, 1), "distance_px", res.DistancePx, "time_diff", res.TimeDiff)
		case speed.Rejected:
			o.opts.Tracks.Remove(tr.ID)
			o.count(func(s *Stats) { s.SpeedRejected++ })
			o.dropped(DropSpeedRejected)
			log.Diag("speed out of bounds", "track", tr.ID, "kmh", units.Round(res.Speed.KMPH, 1))
		case speed.NotYet:
			log.Trace("speed pending", "track", tr.ID, "reason", res.Reason)
		}
	}
}

// classify hands the track to the classifier pool, or resolves it with the
// fallback decision when the pool is saturated.
func (o *Orchestrator) classify(ctx context.Context, f frame.Frame, tr *tracking.Track, now time.Time) {
	box := tr.Box.Intersect(f.Bounds())
	p := pending{
		track: tr.Snapshot(),
		frame: f,
		color: classify.ColorOf(f, box),
		at:    now,
	}
	if o.opts.Classifier.Submit(classify.Request{Key: tr.ID, Image: f.Crop(box)}) {
		o.pending[tr.ID] = p
		return
	}
	log.Ops("classifier queue full, using fallback", "track", tr.ID)
	o.finish(ctx, p, o.opts.Classifier.Fallback("queue full"))
}

func (o *Orchestrator) drainResults(ctx context.Context) {
	for {
		select {
		case r, ok := <-o.opts.Classifier.Results():
			if !ok {
				return
			}
			o.resolve(ctx, r)
		default:
			return
		}
	}
}

func (o *Orchestrator) resolve(ctx context.Context, r classify.Result) {
	p, ok := o.pending[r.Key]
	if !ok {
		log.Ops("classification for unknown track", "track", r.Key)
		return
	}
	delete(o.pending, r.Key)
	log.Diag("classified", "track", r.Key, "label", r.Decision.Label,
		"confidence", r.Decision.Confidence, "elapsed", r.Elapsed, "reason", r.Decision.Reason)
	o.finish(ctx, p, r.Decision)
}

// finish applies the classification decision and logs the event.
func (o *Orchestrator) finish(ctx context.Context, p pending, d classify.Decision) {
	tr := p.track
	if !d.Accepted {
		o.count(func(s *Stats) { s.ClassificationRejected++ })
		o.dropped(DropClassification)
		log.Diag("not logging", "track", tr.ID, "label", d.Label, "confidence", d.Confidence, "reason", d.Reason)
		return
	}
	tr.Label, tr.Confidence, tr.Color = d.Label, d.Confidence, p.color
	if !tr.ValidForLogging() {
		o.dropped(DropInvalid)
		log.Ops("track not valid for logging", "track", tr.ID, "direction", tr.Direction.String(), "label", tr.Label)
		return
	}

	e := eventlog.Event{
		Timestamp:   p.at,
		ObjectType:  tr.Label,
		ObjectColor: tr.Color,
		Direction:   tr.Direction.String(),
		SpeedKMH:    tr.SpeedKMH,
		SpeedMPH:    tr.SpeedMPH,
		Confidence:  tr.Confidence,
	}
	if o.cfg.SaveImages && o.opts.Images != nil && o.opts.Renderer != nil {
		e.ImageFile = o.saveImage(p.frame, tr, e)
	}

	if err := o.opts.Store.Append(ctx, e); err != nil {
		o.count(func(s *Stats) { s.PersistenceFailures++ })
		o.dropped(DropPersistence)
		if o.opts.Alerter != nil {
			o.opts.Alerter.Alert(err, "event log write failed", "track", tr.ID, "image", e.ImageFile)
		} else {
			log.Error("event log write failed", "track", tr.ID, "error", err)
		}
		return
	}

	o.count(func(s *Stats) {
		s.MovingLogged++
		if tr.Direction == tracking.LeftToRight {
			s.L2RCount++
		} else {
			s.R2LCount++
		}
	})
	log.Info("detection logged",
		"direction", e.Direction, "color", e.ObjectColor, "label", e.ObjectType,
		"kmh", units.Round(e.SpeedKMH, 1), "mph", units.Round(e.SpeedMPH, 1), "image", e.ImageFile)
	if o.opts.Observer != nil {
		o.opts.Observer.EventLogged(e)
	}
	for _, s := range o.opts.Sinks {
		s.HandleEvent(ctx, e)
	}
}

func (o *Orchestrator) saveImage(f frame.Frame, tr tracking.Track, e eventlog.Event) string {
	value := units.Speed{KMPH: e.SpeedKMH, MPH: e.SpeedMPH}.Value(o.cfg.UnitMPH)
	jpeg, err := o.opts.Renderer.Annotate(f, Annotation{
		Box:       tr.Box,
		SpeedText: fmt.Sprintf("%.1f %s", value, units.Label(o.cfg.UnitMPH)),
		InfoText:  fmt.Sprintf("%s %s %s", e.Direction, e.ObjectColor, e.ObjectType),
	})
	if err != nil {
		log.Ops("annotate failed", "track", tr.ID, "error", err)
		return ""
	}
	name := images.Name(e.Timestamp, e.Direction, e.ObjectColor, e.ObjectType, value, o.cfg.UnitMPH)
	stored, err := o.opts.Images.Save(name, jpeg)
	if err != nil {
		log.Ops("image save failed", "name", name, "error", err)
		return ""
	}
	return stored
}

func (o *Orchestrator) expire(now time.Time) {
	for _, tr := range o.opts.Tracks.Expire(now) {
		if tr.SpeedCalculated {
			continue
		}
		o.count(func(s *Stats) { s.StationaryIgnored++ })
		o.dropped(DropStationary)
		log.Trace("track expired", "track", tr.ID, "age", tr.Age(now))
	}
}

func (o *Orchestrator) render(f frame.Frame) {
	var (
		jpeg []byte
		err  error
	)
	if o.opts.Renderer != nil {
		jpeg, err = o.opts.Renderer.Overlay(f, o.view())
	} else {
		jpeg, err = f.EncodeJPEG(o.cfg.JPEGQuality)
	}
	if err != nil {
		log.Trace("live view encode failed", "error", err)
		return
	}
	o.mu.Lock()
	o.latest = jpeg
	o.mu.Unlock()
}

func (o *Orchestrator) view() View {
	est := o.opts.Estimator.Config()
	active := o.opts.Tracks.Active()
	tracks := make([]tracking.Track, 0, len(active))
	for _, tr := range active {
		tracks = append(tracks, *tr)
	}
	return View{
		ROI:      o.cfg.ROI,
		L2RLineX: int(est.L2R.X),
		R2LLineX: int(est.R2L.X),
		Tracks:   tracks,
		Stats:    o.Stats(),
		Buffer:   o.opts.Frames.Stats(),
	}
}

func (o *Orchestrator) count(fn func(*Stats)) {
	o.mu.Lock()
	fn(&o.stats)
	o.mu.Unlock()
}

func (o *Orchestrator) dropped(reason string) {
	if o.opts.Observer != nil {
		o.opts.Observer.TrackDropped(reason)
	}
}

func (o *Orchestrator) maybeLogStats() {
	now := o.clock.Now()
	if now.Sub(o.lastStats) < o.cfg.StatsInterval {
		return
	}
	o.lastStats = now
	o.LogStats()
}

// LogStats writes the counters to the log.
func (o *Orchestrator) LogStats() {
	s := o.Stats()
	b := o.opts.Frames.Stats()
	log.Info("pipeline stats",
		"frames", s.FramesProcessed, "logged", s.MovingLogged,
		"l2r", s.L2RCount, "r2l", s.R2LCount,
		"stationary", s.StationaryIgnored, "rejected", s.SpeedRejected,
		"active_tracks", s.ActiveTracks, "buffer_depth", b.Depth,
		"error_rate_pct", units.Round(b.ErrorRate*100, 1))
}

// Close stops the classifier pool and logs every classification still in
// flight. Run calls it on exit; calling it again is a no-op.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		ctx := context.Background()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for r := range o.opts.Classifier.Results() {
				o.resolve(ctx, r)
			}
		}()
		o.opts.Classifier.Close()
		<-done
		for key, p := range o.pending {
			delete(o.pending, key)
			o.finish(ctx, p, o.opts.Classifier.Fallback("shutdown"))
		}
		o.LogStats()
	})
}

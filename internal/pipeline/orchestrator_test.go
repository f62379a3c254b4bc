package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/speed"
	"github.com/banshee-data/speedcam/internal/timeutil"
	"github.com/banshee-data/speedcam/internal/tracking"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu     sync.Mutex
	events []eventlog.Event
	err    error
}

func (s *memStore) Append(_ context.Context, e eventlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) Tombstone(context.Context, string) (int, error) { return 0, nil }

func (s *memStore) Query(context.Context, eventlog.Filter) ([]eventlog.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventlog.Event(nil), s.events...), nil
}

func (s *memStore) Close() error { return nil }

type recordingAlerter struct {
	errs []error
}

func (a *recordingAlerter) Alert(err error, msg string, args ...any) {
	a.errs = append(a.errs, err)
}

type recordingObserver struct {
	frames  int
	logged  []eventlog.Event
	dropped map[string]int
}

func (o *recordingObserver) FrameProcessed(time.Duration, int) { o.frames++ }
func (o *recordingObserver) EventLogged(e eventlog.Event)      { o.logged = append(o.logged, e) }
func (o *recordingObserver) TrackDropped(reason string) {
	if o.dropped == nil {
		o.dropped = make(map[string]int)
	}
	o.dropped[reason]++
}

type sinkFunc func(context.Context, eventlog.Event)

func (f sinkFunc) HandleEvent(ctx context.Context, e eventlog.Event) { f(ctx, e) }

// scriptedDetector returns one box per frame, keyed by sequence number.
type scriptedDetector struct {
	boxes map[uint64][]frame.Rect
	calls int
}

func (d *scriptedDetector) Detect(f frame.Frame) ([]frame.Rect, error) {
	d.calls++
	return d.boxes[f.Seq], nil
}

var calibration = speed.Calibration{ReferencePixels: 261, ReferenceMillimeters: 4127}

func estimatorConfig() speed.Config {
	return speed.Config{
		L2R:            speed.Line{Enabled: true, X: 400, Calibration: calibration},
		R2L:            speed.Line{Enabled: true, X: 1400, Calibration: calibration},
		MinTimeDiff:    300 * time.Millisecond,
		MinTrackLength: 50,
		MinPositions:   5,
		MinSpeed:       5,
		MaxSpeed:       200,
		RejectTerminal: true,
	}
}

// crossingFrames moves a 40x40 box right by 25px every 100ms, centered at
// x=300 on the first frame.
func crossingFrames(n int) ([]frame.Frame, map[uint64][]frame.Rect) {
	frames := make([]frame.Frame, 0, n)
	boxes := make(map[uint64][]frame.Rect, n)
	for i := 0; i < n; i++ {
		seq := uint64(i + 1)
		frames = append(frames, frame.New(seq, t0.Add(time.Duration(i)*100*time.Millisecond), 640, 120))
		boxes[seq] = []frame.Rect{{X: 280 + 25*i, Y: 40, W: 40, H: 40}}
	}
	return frames, boxes
}

type fixture struct {
	orch     *Orchestrator
	store    *memStore
	alerter  *recordingAlerter
	observer *recordingObserver
	detector *scriptedDetector
	buffer   *framebuffer.Buffer
}

func newFixture(t *testing.T, est speed.Config, boxes map[uint64][]frame.Rect) *fixture {
	t.Helper()
	clock := timeutil.NewMockClock(t0)
	fx := &fixture{
		store:    &memStore{},
		alerter:  &recordingAlerter{},
		observer: &recordingObserver{},
		detector: &scriptedDetector{boxes: boxes},
		buffer:   framebuffer.New(framebuffer.Config{Capacity: 32, GetTimeout: 10 * time.Millisecond}),
	}
	orch, err := New(Config{
		ROI:   frame.ROI{Top: 0, Bottom: 120, Left: 0, Right: 640},
		Clock: clock,
	}, Options{
		Frames:    fx.buffer,
		Detector:  fx.detector,
		Tracks:    tracking.NewTable(tracking.DefaultConfig()),
		Estimator: speed.New(est),
		Store:     fx.store,
		Alerter:   fx.alerter,
		Observer:  fx.observer,
	})
	require.NoError(t, err)
	fx.orch = orch
	t.Cleanup(orch.Close)
	return fx
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Options{})
	assert.Error(t, err)
}

func TestCrossingLogsOneEvent(t *testing.T) {
	frames, boxes := crossingFrames(7)
	fx := newFixture(t, estimatorConfig(), boxes)

	var sunk []eventlog.Event
	fx.orch.opts.Sinks = []EventSink{sinkFunc(func(_ context.Context, e eventlog.Event) {
		sunk = append(sunk, e)
	})}

	ctx := context.Background()
	for _, f := range frames {
		fx.orch.ProcessFrame(ctx, f)
	}
	fx.orch.Close()

	require.Len(t, fx.store.events, 1)
	e := fx.store.events[0]
	want := speed.Compute(100, 400*time.Millisecond, calibration)
	assert.Equal(t, "L2R", e.Direction)
	assert.Equal(t, "unknown", e.ObjectType)
	assert.InDelta(t, want.KMPH, e.SpeedKMH, 0.01)
	assert.InDelta(t, want.MPH, e.SpeedMPH, 0.01)
	assert.True(t, e.Timestamp.Equal(frames[6].Captured))
	assert.Empty(t, e.ImageFile)
	assert.False(t, e.Removed)

	s := fx.orch.Stats()
	assert.Equal(t, int64(7), s.FramesProcessed)
	assert.Equal(t, int64(1), s.MovingLogged)
	assert.Equal(t, int64(1), s.L2RCount)
	assert.Zero(t, s.R2LCount)
	assert.Zero(t, s.ActiveTracks)
	assert.Equal(t, 7, fx.observer.frames)
	assert.Len(t, fx.observer.logged, 1)
	assert.Len(t, sunk, 1)
	assert.NotEmpty(t, fx.orch.LatestJPEG())
}

func TestOutOfBoundsSpeedIsDropped(t *testing.T) {
	est := estimatorConfig()
	est.MaxSpeed = 10
	frames, boxes := crossingFrames(7)
	fx := newFixture(t, est, boxes)

	for _, f := range frames {
		fx.orch.ProcessFrame(context.Background(), f)
	}
	fx.orch.Close()

	assert.Empty(t, fx.store.events)
	assert.Equal(t, int64(1), fx.orch.Stats().SpeedRejected)
	assert.Equal(t, 1, fx.observer.dropped[DropSpeedRejected])
}

func TestStationaryTrackExpires(t *testing.T) {
	boxes := map[uint64][]frame.Rect{1: {{X: 100, Y: 40, W: 40, H: 40}}}
	fx := newFixture(t, estimatorConfig(), boxes)
	ctx := context.Background()

	fx.orch.ProcessFrame(ctx, frame.New(1, t0, 640, 120))
	require.Equal(t, 1, fx.orch.Stats().ActiveTracks)

	fx.orch.ProcessFrame(ctx, frame.New(2, t0.Add(11*time.Second), 640, 120))
	s := fx.orch.Stats()
	assert.Zero(t, s.ActiveTracks)
	assert.Equal(t, int64(1), s.StationaryIgnored)
	assert.Empty(t, fx.store.events)
}

func TestPersistenceFailureAlertsAndContinues(t *testing.T) {
	frames, boxes := crossingFrames(7)
	fx := newFixture(t, estimatorConfig(), boxes)
	fx.store.err = errors.New("disk full")

	for _, f := range frames {
		fx.orch.ProcessFrame(context.Background(), f)
	}
	fx.orch.Close()

	require.Len(t, fx.alerter.errs, 1)
	assert.EqualError(t, fx.alerter.errs[0], "disk full")
	s := fx.orch.Stats()
	assert.Equal(t, int64(1), s.PersistenceFailures)
	assert.Zero(t, s.MovingLogged)
	assert.Equal(t, int64(7), s.FramesProcessed)
}

func TestStopPausesDetection(t *testing.T) {
	frames, boxes := crossingFrames(3)
	fx := newFixture(t, estimatorConfig(), boxes)
	ctx := context.Background()

	fx.orch.Stop()
	assert.False(t, fx.orch.Running())
	fx.orch.ProcessFrame(ctx, frames[0])
	assert.Zero(t, fx.detector.calls)
	assert.NotEmpty(t, fx.orch.LatestJPEG())
	assert.False(t, fx.orch.Stats().Running)

	fx.orch.Start()
	fx.orch.ProcessFrame(ctx, frames[1])
	assert.Equal(t, 1, fx.detector.calls)
	assert.True(t, fx.orch.Stats().Running)
	assert.Equal(t, int64(2), fx.orch.Stats().FramesProcessed)
}

func TestRunDrainsBufferAndFlushes(t *testing.T) {
	frames, boxes := crossingFrames(7)
	fx := newFixture(t, estimatorConfig(), boxes)
	for _, f := range frames {
		require.NoError(t, fx.buffer.Put(f))
	}
	fx.buffer.Close()

	require.NoError(t, fx.orch.Run(context.Background()))
	require.Len(t, fx.store.events, 1)
	assert.Equal(t, "L2R", fx.store.events[0].Direction)
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture(t, estimatorConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.orch.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

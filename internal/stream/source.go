// Package stream owns the inbound video connection. A Source moves through
// Disconnected, Connecting, Connected and Failing, reconnecting with
// exponential backoff, and pushes every decoded frame into a Sink.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/monitoring"
	"github.com/banshee-data/speedcam/internal/timeutil"
)

var (
	// ErrConnection wraps failures to open or probe the stream.
	ErrConnection = errors.New("stream: connection failed")
	// ErrDecode wraps failures to read a frame from an open stream.
	ErrDecode = errors.New("stream: decode failed")
)

var log = monitoring.Component("stream")

// Capture is an open video stream.
type Capture interface {
	// Read blocks until the next frame is decoded or decoding fails.
	Read() (frame.Frame, error)
	Close() error
}

// Opener opens a Capture for a stream URL. fps is a capture rate hint.
type Opener interface {
	Open(ctx context.Context, url string, fps int) (Capture, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string, fps int) (Capture, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string, fps int) (Capture, error) {
	return f(ctx, url, fps)
}

// Sink receives frames. framebuffer.Buffer implements it.
type Sink interface {
	Put(frame.Frame) error
	RecordError()
}

// Phase is the connection phase.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Failing
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failing:
		return "failing"
	default:
		return "disconnected"
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{Disconnected, Connecting, Connected, Failing} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("stream: unknown phase %q", b)
}

// ConnectionState is a snapshot of the connection state machine.
type ConnectionState struct {
	Phase          Phase     `json:"phase"`
	RetryCount     int       `json:"retry_count"`
	BackoffSeconds float64   `json:"backoff_seconds"`
	LastAttempt    time.Time `json:"last_attempt_time"`
}

// Stats counts source activity since start.
type Stats struct {
	Connects        int64 `json:"connects"`
	ConnectFailures int64 `json:"connect_failures"`
	Reconnects      int64 `json:"reconnects"`
	FramesRead      int64 `json:"frames_read"`
	DecodeErrors    int64 `json:"decode_errors"`
	FramesDropped   int64 `json:"frames_dropped"`
}

// Defaults
const (
	DefaultProbeFrames          = 3
	DefaultMaxConsecutiveErrors = 10
	DefaultEmitEvery            = 30
	DefaultReconnectPause       = time.Second
	DefaultReadErrorPause       = 100 * time.Millisecond
)

// Config describes the stream and its retry policy.
type Config struct {
	URL                  string
	FPS                  int
	ProbeFrames          int
	MaxConsecutiveErrors int
	// EmitEvery limits connection-failure logging to one line per EmitEvery retries.
	EmitEvery      int
	MaxBackoff     time.Duration
	ReconnectPause time.Duration
	ReadErrorPause time.Duration
	Clock          timeutil.Clock
}

func (c *Config) applyDefaults() {
	if c.ProbeFrames <= 0 {
		c.ProbeFrames = DefaultProbeFrames
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.EmitEvery <= 0 {
		c.EmitEvery = DefaultEmitEvery
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.ReconnectPause <= 0 {
		c.ReconnectPause = DefaultReconnectPause
	}
	if c.ReadErrorPause < 0 {
		c.ReadErrorPause = 0
	} else if c.ReadErrorPause == 0 {
		c.ReadErrorPause = DefaultReadErrorPause
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
}

// Source is a single stream connection with its backoff state machine.
type Source struct {
	cfg    Config
	opener Opener
	sink   Sink
	emit   *monitoring.Every

	mu          sync.Mutex
	phase       Phase
	backoff     *Backoff
	lastAttempt time.Time
	stats       Stats
	seq         uint64
}

// New creates a Source. It does not connect until Run.
func New(cfg Config, opener Opener, sink Sink) *Source {
	cfg.applyDefaults()
	return &Source{
		cfg:     cfg,
		opener:  opener,
		sink:    sink,
		emit:    monitoring.NewEvery(cfg.EmitEvery),
		backoff: NewBackoff(DefaultInitialBackoff, cfg.MaxBackoff),
	}
}

// State returns a snapshot of the connection state.
func (s *Source) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ConnectionState{
		Phase:          s.phase,
		RetryCount:     s.backoff.Retries(),
		BackoffSeconds: s.backoff.Seconds(),
		LastAttempt:    s.lastAttempt,
	}
}

// Stats returns the cumulative counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run connects and decodes until ctx is cancelled. Connection and decode
// failures are retried, never returned; the only error is ctx.Err().
func (s *Source) Run(ctx context.Context) error {
	defer s.setPhase(Disconnected)
	log.Info("stream source starting", "url", redact(s.cfg.URL))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.setPhase(Connecting)

		// Step 1: respect the backoff window since the last attempt.
		s.mu.Lock()
		wait := s.backoff.Wait(s.cfg.Clock.Now(), s.lastAttempt)
		s.mu.Unlock()
		if err := timeutil.Sleep(ctx, s.cfg.Clock, wait); err != nil {
			return err
		}

		// Step 2: open and probe.
		capture, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := s.fail(err)
			if err := timeutil.Sleep(ctx, s.cfg.Clock, max(delay, time.Second)); err != nil {
				return err
			}
			continue
		}

		// Step 3: decode until the stream degrades or we are stopped.
		err = s.decode(ctx, capture)
		if cerr := capture.Close(); cerr != nil {
			log.Diag("capture close failed", "error", cerr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Ops("stream degraded, reconnecting", "error", err)
		s.mu.Lock()
		s.stats.Reconnects++
		s.mu.Unlock()
		if err := timeutil.Sleep(ctx, s.cfg.Clock, s.cfg.ReconnectPause); err != nil {
			return err
		}
	}
}

func (s *Source) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// connect opens the capture and reads up to ProbeFrames frames; one good
// read is enough to declare the stream stable.
func (s *Source) connect(ctx context.Context) (Capture, error) {
	s.mu.Lock()
	s.lastAttempt = s.cfg.Clock.Now()
	s.mu.Unlock()

	capture, err := s.opener.Open(ctx, s.cfg.URL, s.cfg.FPS)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrConnection, err)
	}
	var lastErr error
	for i := 0; i < s.cfg.ProbeFrames; i++ {
		if _, lastErr = capture.Read(); lastErr == nil {
			s.mu.Lock()
			s.phase = Connected
			s.backoff.Reset()
			s.stats.Connects++
			s.mu.Unlock()
			s.emit.Reset()
			log.Info("stream connected", "url", redact(s.cfg.URL))
			return capture, nil
		}
	}
	_ = capture.Close()
	return nil, fmt.Errorf("%w: probe: %v", ErrConnection, lastErr)
}

// fail records a failed connection attempt and returns the new delay.
func (s *Source) fail(err error) time.Duration {
	s.mu.Lock()
	s.phase = Failing
	s.backoff.Fail()
	s.stats.ConnectFailures++
	retries, delay := s.backoff.Retries(), s.backoff.Delay()
	s.mu.Unlock()

	if s.emit.Allow() {
		log.Ops("stream connection failed", "retry", retries, "backoff", delay, "error", err)
	}
	return delay
}

func (s *Source) decode(ctx context.Context, capture Capture) error {
	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := capture.Read()
		if err != nil {
			consecutive++
			s.sink.RecordError()
			s.mu.Lock()
			s.stats.DecodeErrors++
			s.mu.Unlock()
			if consecutive >= s.cfg.MaxConsecutiveErrors {
				s.setPhase(Failing)
				return fmt.Errorf("%w: %d consecutive read failures: %v", ErrDecode, consecutive, err)
			}
			if err := timeutil.Sleep(ctx, s.cfg.Clock, s.cfg.ReadErrorPause); err != nil {
				return err
			}
			continue
		}
		consecutive = 0

		s.mu.Lock()
		s.seq++
		f.Seq = s.seq
		if f.Captured.IsZero() {
			f.Captured = s.cfg.Clock.Now()
		}
		s.stats.FramesRead++
		s.mu.Unlock()

		if err := s.sink.Put(f); err != nil {
			s.mu.Lock()
			s.stats.FramesDropped++
			s.mu.Unlock()
			log.Trace("frame dropped", "seq", f.Seq, "error", err)
		}
	}
}

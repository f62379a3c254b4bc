// Package framebuffer decouples frame ingestion from frame processing with a
// bounded queue. A full queue drops new frames instead of blocking the
// producer, which keeps memory and latency bounded under load.
package framebuffer

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

// Defaults
const (
	DefaultCapacity   = 30
	DefaultPutTimeout = 100 * time.Millisecond
	DefaultGetTimeout = time.Second
)

var (
	// ErrFull is returned by Put when no slot freed up within the put timeout.
	ErrFull = errors.New("framebuffer: full")
	// ErrEmpty is returned by Get when no frame arrived within the get timeout.
	ErrEmpty = errors.New("framebuffer: no frame")
	// ErrClosed is returned once the buffer is closed (and drained, for Get).
	ErrClosed = errors.New("framebuffer: closed")
)

var log = monitoring.Component("framebuffer")

// Config holds the buffer sizing and timeouts. Zero values take defaults; a
// negative PutTimeout makes Put non-blocking.
type Config struct {
	Capacity   int
	PutTimeout time.Duration
	GetTimeout time.Duration
	Clock      timeutil.Clock
}

// Buffer is a bounded frame queue for one producer and one consumer.
type Buffer struct {
	ch         chan frame.Frame
	done       chan struct{}
	closeOnce  sync.Once
	putTimeout time.Duration
	getTimeout time.Duration
	clock      timeutil.Clock

	mu       sync.Mutex
	attempts int64
	accepted int64
	dropped  int64
	errors   int64
	logged   Stats
	lastLog  time.Time
}

// New creates a Buffer from cfg.
func New(cfg Config) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.PutTimeout == 0 {
		cfg.PutTimeout = DefaultPutTimeout
	}
	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = DefaultGetTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Buffer{
		ch:         make(chan frame.Frame, cfg.Capacity),
		done:       make(chan struct{}),
		putTimeout: cfg.PutTimeout,
		getTimeout: cfg.GetTimeout,
		clock:      cfg.Clock,
		lastLog:    cfg.Clock.Now(),
	}
}

// Put inserts f, waiting at most the put timeout for a free slot. A timeout
// counts the frame as dropped and returns ErrFull.
func (b *Buffer) Put(f frame.Frame) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	b.count(&b.attempts)
	select {
	case b.ch <- f:
		b.count(&b.accepted)
		return nil
	default:
	}
	if b.putTimeout < 0 {
		b.count(&b.dropped)
		return ErrFull
	}

	select {
	case b.ch <- f:
		b.count(&b.accepted)
		return nil
	case <-b.clock.After(b.putTimeout):
		b.count(&b.dropped)
		return ErrFull
	case <-b.done:
		b.count(&b.dropped)
		return ErrClosed
	}
}

// Get removes the oldest frame, waiting at most the get timeout. It returns
// ErrEmpty on timeout, ErrClosed once closed and drained, or ctx.Err().
func (b *Buffer) Get(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-b.ch:
		return f, nil
	default:
	}

	select {
	case f := <-b.ch:
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	case <-b.done:
		select {
		case f := <-b.ch:
			return f, nil
		default:
			return frame.Frame{}, ErrClosed
		}
	case <-b.clock.After(b.getTimeout):
		return frame.Frame{}, ErrEmpty
	}
}

// RecordError counts a decode failure reported by the producer.
func (b *Buffer) RecordError() {
	b.count(&b.errors)
}

// Close stops accepting frames. Frames already queued can still be drained.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Buffer) count(c *int64) {
	b.mu.Lock()
	*c++
	b.mu.Unlock()
}

// Stats is a point-in-time view of the buffer counters.
type Stats struct {
	Attempts  int64   `json:"attempts"`
	Accepted  int64   `json:"accepted"`
	Dropped   int64   `json:"dropped"`
	Errors    int64   `json:"errors"`
	Depth     int     `json:"depth"`
	Capacity  int     `json:"capacity"`
	ErrorRate float64 `json:"error_rate"`
}

// Stats returns the cumulative counters and current depth.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Buffer) statsLocked() Stats {
	return Stats{
		Attempts:  b.attempts,
		Accepted:  b.accepted,
		Dropped:   b.dropped,
		Errors:    b.errors,
		Depth:     len(b.ch),
		Capacity:  cap(b.ch),
		ErrorRate: float64(b.errors) / float64(max(1, b.accepted)),
	}
}

// LogStats emits the throughput since the previous call on the diag stream
// and the drop count on the ops stream when frames were lost.
func (b *Buffer) LogStats() {
	b.mu.Lock()
	now := b.clock.Now()
	cur := b.statsLocked()
	prev := b.logged
	elapsed := now.Sub(b.lastLog)
	b.logged = cur
	b.lastLog = now
	b.mu.Unlock()

	accepted := cur.Accepted - prev.Accepted
	dropped := cur.Dropped - prev.Dropped
	if accepted == 0 && dropped == 0 {
		return
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(accepted) / elapsed.Seconds()
	}
	log.Diag("buffer stats", "fps", fmt.Sprintf("%.1f", rate), "depth", cur.Depth, "error_rate", cur.ErrorRate)
	if dropped > 0 {
		log.Ops("frames dropped on full buffer", "dropped", dropped, "capacity", cur.Capacity)
	}
}

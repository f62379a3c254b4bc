package stream

import (
	"math"
	"time"
)

// Backoff defaults.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	BackoffFactor         = 1.5
)

// Backoff is the reconnect delay schedule. After N consecutive failures the
// delay is min(initial * 1.5^N, max); a success resets it to initial.
type Backoff struct {
	initial float64 // seconds
	max     float64 // seconds
	current float64 // seconds
	retries int
}

// NewBackoff returns a Backoff at its initial delay. Non-positive arguments
// take the defaults.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}
	b := &Backoff{initial: initial.Seconds(), max: maxDelay.Seconds()}
	b.current = b.initial
	return b
}

// Fail records a failed attempt and grows the delay.
func (b *Backoff) Fail() {
	b.current = math.Min(b.current*BackoffFactor, b.max)
	b.retries++
}

// Reset restores the initial delay and clears the retry count.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.retries = 0
}

// Seconds returns the current delay in seconds.
func (b *Backoff) Seconds() float64 { return b.current }

// Delay returns the current delay.
func (b *Backoff) Delay() time.Duration {
	return time.Duration(b.current * float64(time.Second))
}

// Retries returns the number of consecutive failures.
func (b *Backoff) Retries() int { return b.retries }

// Ready reports whether a new attempt is permitted at now given the last
// attempt time.
func (b *Backoff) Ready(now, lastAttempt time.Time) bool {
	if lastAttempt.IsZero() {
		return true
	}
	return now.Sub(lastAttempt) >= b.Delay()
}

// Wait returns how long to wait at now before an attempt is permitted.
func (b *Backoff) Wait(now, lastAttempt time.Time) time.Duration {
	if b.Ready(now, lastAttempt) {
		return 0
	}
	return b.Delay() - now.Sub(lastAttempt)
}

package classify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/monitoring"
)

var log = monitoring.Component("classify")

// Runner defaults.
const (
	DefaultWorkers = 2
	DefaultQueue   = 8
	DefaultTimeout = 500 * time.Millisecond
)

// Request asks for one object to be classified. Key is echoed in the Result.
type Request struct {
	Key   int
	Image frame.Frame
}

// Result pairs a request key with its decision.
type Result struct {
	Key      int
	Decision Decision
	Elapsed  time.Duration
}

// RunnerConfig sizes the worker pool.
type RunnerConfig struct {
	Workers int
	Queue   int
	Timeout time.Duration
}

// Runner classifies requests on a bounded worker pool so a slow model never
// stalls frame processing. Submit never blocks.
type Runner struct {
	cls     Classifier
	policy  Policy
	timeout time.Duration

	jobs    chan Request
	results chan Result
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewRunner creates a Runner. A nil classifier accepts every object as
// unknown without consulting the policy.
func NewRunner(cls Classifier, policy Policy, cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	r := &Runner{
		cls:     cls,
		policy:  policy,
		timeout: cfg.Timeout,
		jobs:    make(chan Request, cfg.Queue),
		// Results drain once per processing cycle. A worker blocked on a
		// full results channel stops taking jobs, the queue fills and
		// Submit falls back.
		results: make(chan Result, cfg.Queue+cfg.Workers),
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	return r
}

// Submit queues req. It returns false when the queue is full or the runner
// is closed; callers then use Fallback.
func (r *Runner) Submit(req Request) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.jobs <- req:
		return true
	default:
		return false
	}
}

// Results delivers decisions in completion order. It is closed by Close
// after the workers drain.
func (r *Runner) Results() <-chan Result {
	return r.results
}

// Fallback is the decision used when a request cannot be classified.
func (r *Runner) Fallback(reason string) Decision {
	return r.policy.Decide(nil, fmt.Errorf("%w: %s", ErrClassification, reason))
}

// Close stops accepting requests, lets queued requests finish and closes
// Results.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
	close(r.results)
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for req := range r.jobs {
		start := time.Now()
		d := r.classify(ctx, req.Image)
		r.results <- Result{Key: req.Key, Decision: d, Elapsed: time.Since(start)}
	}
}

func (r *Runner) classify(ctx context.Context, img frame.Frame) Decision {
	if r.cls == nil {
		return Decision{Label: UnknownLabel, Confidence: 1, Accepted: true, Reason: "no classifier"}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type answer struct {
		cands []Candidate
		err   error
	}
	done := make(chan answer, 1)
	go func() {
		c, err := r.cls.Classify(ctx, img)
		done <- answer{c, err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			log.Ops("classifier failed", "error", a.err)
			return r.policy.Decide(nil, fmt.Errorf("%w: %v", ErrClassification, a.err))
		}
		return r.policy.Decide(a.cands, nil)
	case <-ctx.Done():
		log.Ops("classifier timed out", "timeout", r.timeout)
		return r.policy.Decide(nil, fmt.Errorf("%w: %v", ErrClassification, ctx.Err()))
	}
}

// Package notify forwards logged detection events to outside systems: an
// MQTT topic, push notifications for speeding vehicles, and Sentry for
// operator alerts.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/monitoring"
)

var log = monitoring.Component("notify")

// DefaultQueue is the per-sink backlog before events are dropped.
const DefaultQueue = 64

// SendFunc delivers one event.
type SendFunc func(ctx context.Context, e eventlog.Event) error

// Dispatcher hands events to a SendFunc on its own goroutine so a slow
// broker or push service never stalls the caller. It implements
// pipeline.EventSink.
type Dispatcher struct {
	name    string
	send    SendFunc
	timeout time.Duration
	onError func(name string, err error)

	queue  chan eventlog.Event
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher. onError may be nil.
func NewDispatcher(name string, send SendFunc, queue int, timeout time.Duration, onError func(string, error)) *Dispatcher {
	if queue <= 0 {
		queue = DefaultQueue
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		name:    name,
		send:    send,
		timeout: timeout,
		onError: onError,
		queue:   make(chan eventlog.Event, queue),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// HandleEvent queues e, dropping it when the backlog is full.
func (d *Dispatcher) HandleEvent(_ context.Context, e eventlog.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		log.Ops("sink backlog full, event dropped", "sink", d.name, "timestamp", e.Timestamp)
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.send(ctx, e)
		cancel()
		if err == nil {
			continue
		}
		log.Ops("sink delivery failed", "sink", d.name, "error", err)
		if d.onError != nil {
			d.onError(d.name, err)
		}
	}
}

// Close delivers the backlog and stops the dispatcher.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/banshee-data/speedcam/internal/eventlog"
)

// DefaultTTL is how long a summary is served from cache.
const DefaultTTL = 60 * time.Second

// Service answers analytics queries over an event store, caching summaries
// per filter. It implements pipeline.EventSink to drop cached summaries when
// a new event is logged.
type Service struct {
	store    eventlog.Store
	limitKMH float64
	cache    *cache.Cache
}

// NewService returns a Service. The cache has no janitor goroutine; expired
// entries are replaced on the next lookup.
func NewService(store eventlog.Store, limitKMH float64, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, limitKMH: limitKMH, cache: cache.New(ttl, 0)}
}

// Summary returns the summary of events matching f.
func (s *Service) Summary(ctx context.Context, f eventlog.Filter) (Summary, error) {
	key := "summary:" + filterKey(f)
	if v, ok := s.cache.Get(key); ok {
		return v.(Summary), nil
	}
	events, err := s.store.Query(ctx, f)
	if err != nil {
		return Summary{}, fmt.Errorf("analytics: query: %w", err)
	}
	sum := Summarize(events, s.limitKMH)
	s.cache.SetDefault(key, sum)
	return sum, nil
}

// Events returns events matching f, cached like Summary.
func (s *Service) Events(ctx context.Context, f eventlog.Filter) ([]eventlog.Event, error) {
	key := "events:" + filterKey(f)
	if v, ok := s.cache.Get(key); ok {
		return v.([]eventlog.Event), nil
	}
	events, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("analytics: query: %w", err)
	}
	s.cache.SetDefault(key, events)
	return events, nil
}

// LimitKMH returns the speed limit used for Over counts.
func (s *Service) LimitKMH() float64 { return s.limitKMH }

// Invalidate drops every cached result.
func (s *Service) Invalidate() { s.cache.Flush() }

// HandleEvent invalidates the cache.
func (s *Service) HandleEvent(context.Context, eventlog.Event) { s.Invalidate() }

// filterKey rounds the window to the minute so rolling windows such as
// "last hour" share a cache entry.
func filterKey(f eventlog.Filter) string {
	return fmt.Sprintf("%d|%d|%s|%s|%g|%t|%d",
		minute(f.Since), minute(f.Until), f.Label, f.Direction, f.MinSpeedKMH, f.IncludeRemoved, f.Limit)
}

func minute(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix() / 60
}

// Package retention ages out stored detections: old events are tombstoned
// and their images deleted.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/images"
	"github.com/banshee-data/speedcam/internal/monitoring"
	"github.com/banshee-data/speedcam/internal/timeutil"
)

var log = monitoring.Component("retention")

// ErrNotFound is returned by Remove when neither an event nor an image
// exists for the name.
var ErrNotFound = errors.New("retention: not found")

// Result counts what one sweep did.
type Result struct {
	Tombstoned int `json:"tombstoned"`
	Deleted    int `json:"deleted"`
	Errors     int `json:"errors"`
}

// Config controls the cleaner.
type Config struct {
	RetentionDays int
	Interval      time.Duration
	Clock         timeutil.Clock
}

// Cleaner removes events and images past the retention window.
type Cleaner struct {
	cfg    Config
	events eventlog.Store
	images *images.Store
}

// New returns a Cleaner. RetentionDays <= 0 disables age-based sweeps.
func New(cfg Config, events eventlog.Store, imgs *images.Store) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Cleaner{cfg: cfg, events: events, images: imgs}
}

// Cutoff returns the time before which data is swept.
func (c *Cleaner) Cutoff() time.Time {
	return c.cfg.Clock.Now().AddDate(0, 0, -c.cfg.RetentionDays)
}

// Sweep tombstones live events older than the cutoff that reference an
// image, deletes those images, then deletes any remaining image files last
// modified before the cutoff.
func (c *Cleaner) Sweep(ctx context.Context) (Result, error) {
	var res Result
	if c.cfg.RetentionDays <= 0 {
		return res, nil
	}
	cutoff := c.Cutoff()

	old, err := c.events.Query(ctx, eventlog.Filter{Until: cutoff})
	if err != nil {
		return res, fmt.Errorf("retention: query: %w", err)
	}
	for _, e := range old {
		if e.ImageFile == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := c.events.Tombstone(ctx, e.ImageFile)
		if err != nil {
			res.Errors++
			log.Ops("tombstone failed", "image", e.ImageFile, "error", err)
			continue
		}
		res.Tombstoned += n
		if c.images == nil {
			continue
		}
		switch err := c.images.Delete(e.ImageFile); {
		case err == nil:
			res.Deleted++
		case errors.Is(err, images.ErrNotFound):
		default:
			res.Errors++
			log.Ops("image delete failed", "image", e.ImageFile, "error", err)
		}
	}

	if c.images != nil {
		entries, err := c.images.List()
		if err != nil {
			return res, fmt.Errorf("retention: list images: %w", err)
		}
		for _, f := range entries {
			if !f.ModTime.Before(cutoff) {
				continue
			}
			if err := c.images.Delete(f.Name); err != nil && !errors.Is(err, images.ErrNotFound) {
				res.Errors++
				log.Ops("image delete failed", "image", f.Name, "error", err)
				continue
			}
			res.Deleted++
		}
	}

	log.Info("retention sweep", "cutoff", cutoff.Format(time.RFC3339),
		"tombstoned", res.Tombstoned, "deleted", res.Deleted, "errors", res.Errors)
	return res, nil
}

// Remove tombstones the events referencing name and deletes the image. It
// returns ErrNotFound when neither existed.
func (c *Cleaner) Remove(ctx context.Context, name string) (Result, error) {
	var res Result
	found := false

	n, err := c.events.Tombstone(ctx, name)
	switch {
	case err == nil:
		res.Tombstoned = n
		found = true
	case errors.Is(err, eventlog.ErrNotFound):
	default:
		return res, fmt.Errorf("retention: tombstone %s: %w", name, err)
	}

	if c.images != nil {
		switch err := c.images.Delete(name); {
		case err == nil:
			res.Deleted = 1
			found = true
		case errors.Is(err, images.ErrNotFound):
		default:
			return res, fmt.Errorf("retention: delete %s: %w", name, err)
		}
	}
	if !found {
		return res, ErrNotFound
	}
	log.Info("detection removed", "image", name, "tombstoned", res.Tombstoned, "deleted", res.Deleted)
	return res, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := c.cfg.Clock.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := c.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("retention sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

// Package tracking associates per-frame motion detections with live tracks by
// nearest-neighbor matching and owns the track lifecycle.
//
// A Table is owned by a single goroutine (the pipeline's processing loop) and
// is not safe for concurrent use.
package tracking

import (
	"math"
	"sort"
	"time"

	"github.com/banshee-data/speedcam/internal/frame"
)

// Defaults
const (
	DefaultMatchDistance      = 100.0
	DefaultDirectionThreshold = 20.0
	DefaultHistoryLength      = 10
	DefaultMaxAge             = 10 * time.Second
)

// Config holds association and lifecycle parameters.
type Config struct {
	MatchDistance      float64       // match only below this center distance (px)
	DirectionThreshold float64       // |dx| beyond which direction is set (px)
	HistoryLength      int           // samples kept per track
	MaxAge             time.Duration // age at which an unfinished track expires
	StickyDirection    bool          // keep the first direction once set
	MaxMissed          int           // expire after this many missed cycles; 0 disables
}

// DefaultConfig returns the default association parameters with sticky direction.
func DefaultConfig() Config {
	return Config{
		MatchDistance:      DefaultMatchDistance,
		DirectionThreshold: DefaultDirectionThreshold,
		HistoryLength:      DefaultHistoryLength,
		MaxAge:             DefaultMaxAge,
		StickyDirection:    true,
	}
}

// Table owns the set of live tracks.
type Table struct {
	Tracks      map[int]*Track
	NextTrackID int
	Config      Config
}

// NewTable creates an empty table. Zero config fields take defaults.
func NewTable(cfg Config) *Table {
	d := DefaultConfig()
	if cfg.MatchDistance <= 0 {
		cfg.MatchDistance = d.MatchDistance
	}
	if cfg.DirectionThreshold <= 0 {
		cfg.DirectionThreshold = d.DirectionThreshold
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = d.HistoryLength
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = d.MaxAge
	}
	return &Table{
		Tracks:      make(map[int]*Track),
		NextTrackID: 1,
		Config:      cfg,
	}
}

// Associate matches detections to tracks and spawns tracks for the rest.
// It returns the ids of updated tracks and of newly created tracks.
func (t *Table) Associate(boxes []frame.Rect, now time.Time) (updated, created []int) {
	ids := t.sortedIDs()

	// Step 1: each detection picks its nearest track (first-found minimum).
	type claim struct {
		det  int
		dist float64
	}
	best := make(map[int]claim, len(ids))
	unmatched := make([]int, 0, len(boxes))
	for di, box := range boxes {
		c := box.Center()
		nearest, nearestDist := 0, math.Inf(1)
		for _, id := range ids {
			if d := c.Dist(t.Tracks[id].Current); d < nearestDist {
				nearest, nearestDist = id, d
			}
		}
		if nearest == 0 || nearestDist >= t.Config.MatchDistance {
			unmatched = append(unmatched, di)
			continue
		}

		// Step 2: a track keeps only its closest claimant.
		if prev, ok := best[nearest]; ok {
			if nearestDist < prev.dist {
				unmatched = append(unmatched, prev.det)
				best[nearest] = claim{det: di, dist: nearestDist}
			} else {
				unmatched = append(unmatched, di)
			}
			continue
		}
		best[nearest] = claim{det: di, dist: nearestDist}
	}

	// Step 3: update matched tracks, count misses on the rest.
	for _, id := range ids {
		tr := t.Tracks[id]
		cl, ok := best[id]
		if !ok {
			tr.Missed++
			continue
		}
		t.update(tr, boxes[cl.det], now)
		updated = append(updated, id)
	}

	// Step 4: spawn tracks for unmatched detections in detection order.
	sort.Ints(unmatched)
	for _, di := range unmatched {
		created = append(created, t.spawn(boxes[di], now).ID)
	}
	return updated, created
}

func (t *Table) spawn(box frame.Rect, now time.Time) *Track {
	c := box.Center()
	tr := &Track{
		ID:         t.NextTrackID,
		CreatedAt:  now,
		LastUpdate: now,
		Start:      c,
		Current:    c,
		Box:        box,
		Width:      box.W,
		Height:     box.H,
		History:    []Sample{{X: c.X, Y: c.Y, T: now}},
		Color:      "unknown",
	}
	t.NextTrackID++
	t.Tracks[tr.ID] = tr
	return tr
}

func (t *Table) update(tr *Track, box frame.Rect, now time.Time) {
	c := box.Center()
	tr.History = append(tr.History, Sample{X: c.X, Y: c.Y, T: now})
	if n := len(tr.History) - t.Config.HistoryLength; n > 0 {
		tr.History = append(tr.History[:0], tr.History[n:]...)
	}
	tr.Current = c
	tr.Box = box
	tr.Width, tr.Height = box.W, box.H
	tr.LastUpdate = now
	tr.Missed = 0

	dx := tr.DisplacementX()
	if math.Abs(dx) <= t.Config.DirectionThreshold {
		return
	}
	if t.Config.StickyDirection && tr.Direction != Unknown {
		return
	}
	if dx > 0 {
		tr.Direction = LeftToRight
	} else {
		tr.Direction = RightToLeft
	}
}

// Expire removes and returns tracks older than MaxAge (and, when MaxMissed
// is set, tracks that went unmatched too long).
func (t *Table) Expire(now time.Time) []*Track {
	var out []*Track
	for _, id := range t.sortedIDs() {
		tr := t.Tracks[id]
		aged := tr.Age(now) > t.Config.MaxAge
		lost := t.Config.MaxMissed > 0 && tr.Missed > t.Config.MaxMissed
		if aged || lost {
			delete(t.Tracks, id)
			out = append(out, tr)
		}
	}
	return out
}

// Get returns the track with the given id, or nil.
func (t *Table) Get(id int) *Track {
	return t.Tracks[id]
}

// Remove deletes a track.
func (t *Table) Remove(id int) {
	delete(t.Tracks, id)
}

// Len returns the number of live tracks.
func (t *Table) Len() int {
	return len(t.Tracks)
}

// Active returns the live tracks ordered by id.
func (t *Table) Active() []*Track {
	ids := t.sortedIDs()
	out := make([]*Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.Tracks[id])
	}
	return out
}

func (t *Table) sortedIDs() []int {
	ids := make([]int, 0, len(t.Tracks))
	for id := range t.Tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Package eventlog is the append-only store of qualifying detections.
//
// Rows are never deleted. A row can only be tombstoned: its removed flag
// flips from false to true once, which hides it from default queries while
// keeping it for audit. Two backends implement Store: a CSV file in the
// historical column layout and a SQLite database with versioned migrations.
package eventlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/speedcam/internal/units"
)

var (
	// ErrPersistence wraps failures to durably record an event.
	ErrPersistence = errors.New("eventlog: persistence failed")
	// ErrNotFound is returned when no row references an image.
	ErrNotFound = errors.New("eventlog: not found")
)

// TimeLayout is the timestamp format of the CSV log.
const TimeLayout = "2006-01-02 15:04:05"

// Header lists the persisted fields in order.
var Header = []string{
	"timestamp", "object_type", "object_color", "direction",
	"speed_kmh", "speed_mph", "confidence", "image_file", "removed",
}

// Event is one qualifying detection.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	ObjectType  string    `json:"object_type"`
	ObjectColor string    `json:"object_color"`
	Direction   string    `json:"direction"`
	SpeedKMH    float64   `json:"speed_kmh"`
	SpeedMPH    float64   `json:"speed_mph"`
	Confidence  float64   `json:"confidence"`
	ImageFile   string    `json:"image_file"`
	Removed     bool      `json:"removed"`
}

// Store is implemented by every event log backend. Implementations allow
// concurrent readers alongside a single writer.
type Store interface {
	Append(ctx context.Context, e Event) error
	// Tombstone marks every live row referencing imageRef as removed and
	// returns how many rows flipped. It returns ErrNotFound when no row
	// references imageRef at all.
	Tombstone(ctx context.Context, imageRef string) (int, error)
	Query(ctx context.Context, f Filter) ([]Event, error)
	Close() error
}

// Record renders e in Header order. Speeds keep one decimal and confidence
// two.
func (e Event) Record() []string {
	return []string{
		e.Timestamp.Format(TimeLayout),
		e.ObjectType,
		e.ObjectColor,
		e.Direction,
		strconv.FormatFloat(units.Round(e.SpeedKMH, 1), 'f', 1, 64),
		strconv.FormatFloat(units.Round(e.SpeedMPH, 1), 'f', 1, 64),
		strconv.FormatFloat(units.Round(e.Confidence, 2), 'f', 2, 64),
		e.ImageFile,
		strconv.FormatBool(e.Removed),
	}
}

// columns maps header names to record indexes.
type columns map[string]int

func newColumns(header []string) columns {
	c := make(columns, len(header))
	for i, h := range header {
		c[strings.TrimSpace(h)] = i
	}
	return c
}

func (c columns) get(rec []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// parseRecord reads a row by column name so files with extra or reordered
// columns still load.
func (c columns) parseRecord(rec []string, loc *time.Location) (Event, error) {
	var e Event
	var err error
	ts := c.get(rec, "timestamp")
	if e.Timestamp, err = time.ParseInLocation(TimeLayout, ts, loc); err != nil {
		if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return e, fmt.Errorf("timestamp %q: %w", ts, err)
		}
	}
	e.ObjectType = c.get(rec, "object_type")
	e.ObjectColor = c.get(rec, "object_color")
	e.Direction = c.get(rec, "direction")
	e.ImageFile = c.get(rec, "image_file")
	if e.SpeedKMH, err = parseFloat(c.get(rec, "speed_kmh")); err != nil {
		return e, fmt.Errorf("speed_kmh: %w", err)
	}
	if e.SpeedMPH, err = parseFloat(c.get(rec, "speed_mph")); err != nil {
		return e, fmt.Errorf("speed_mph: %w", err)
	}
	if e.Confidence, err = parseFloat(c.get(rec, "confidence")); err != nil {
		return e, fmt.Errorf("confidence: %w", err)
	}
	e.Removed = parseBool(c.get(rec, "removed"))
	return e, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseBool accepts true/false in any case; anything else is false.
func parseBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

// Filter selects events for reporting.
type Filter struct {
	Since          time.Time
	Until          time.Time
	Label          string
	Direction      string
	MinSpeedKMH    float64
	IncludeRemoved bool
	Limit          int
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if e.Removed && !f.IncludeRemoved {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	if f.Label != "" && !strings.EqualFold(e.ObjectType, f.Label) {
		return false
	}
	if f.Direction != "" && !strings.EqualFold(e.Direction, f.Direction) {
		return false
	}
	if f.MinSpeedKMH > 0 && e.SpeedKMH <= f.MinSpeedKMH {
		return false
	}
	return true
}

// apply filters, orders newest first and limits.
func (f Filter) apply(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// WriteCSV exports events with the persisted header.
func WriteCSV(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, e := range events {
		if err := cw.Write(e.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore keeps events in a SQLite database.
type SQLStore struct {
	db   *sql.DB
	path string
}

// OpenSQL opens the database at path and applies pending migrations.
func OpenSQL(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s := &SQLStore{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return s, nil
}

// DB exposes the handle for admin tooling.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Append inserts e.
func (s *SQLStore) Append(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detections (
			timestamp, object_type, object_color, direction,
			speed_kmh, speed_mph, confidence, image_file, removed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMicro(), e.ObjectType, e.ObjectColor, e.Direction,
		e.SpeedKMH, e.SpeedMPH, e.Confidence, e.ImageFile, boolInt(e.Removed),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	log.Diag("event appended", "image", e.ImageFile, "speed_kmh", e.SpeedKMH)
	return nil
}

// Tombstone marks live rows referencing imageRef as removed.
func (s *SQLStore) Tombstone(ctx context.Context, imageRef string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE detections SET removed = 1 WHERE image_file = ? AND removed = 0`, imageRef)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM detections WHERE image_file = ?`, imageRef).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if exists == 0 {
			return 0, ErrNotFound
		}
		return 0, nil
	}
	log.Info("event tombstoned", "image", imageRef, "rows", n)
	return int(n), nil
}

// Query returns events matching f, newest first.
func (s *SQLStore) Query(ctx context.Context, f Filter) ([]Event, error) {
	var where []string
	var args []any
	if !f.IncludeRemoved {
		where = append(where, "removed = 0")
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMicro())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, f.Until.UnixMicro())
	}
	if f.Label != "" {
		where = append(where, "object_type = ? COLLATE NOCASE")
		args = append(args, f.Label)
	}
	if f.Direction != "" {
		where = append(where, "direction = ? COLLATE NOCASE")
		args = append(args, f.Direction)
	}
	if f.MinSpeedKMH > 0 {
		where = append(where, "speed_kmh > ?")
		args = append(args, f.MinSpeedKMH)
	}

	q := `SELECT timestamp, object_type, object_color, direction,
		speed_kmh, speed_mph, confidence, image_file, removed FROM detections`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var removed int
		if err := rows.Scan(&ts, &e.ObjectType, &e.ObjectColor, &e.Direction,
			&e.SpeedKMH, &e.SpeedMPH, &e.Confidence, &e.ImageFile, &removed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		e.Timestamp = time.UnixMicro(ts)
		e.Removed = removed != 0
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return events, nil
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

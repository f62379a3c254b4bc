package eventlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/speedcam/internal/fsutil"
	"github.com/banshee-data/speedcam/internal/monitoring"
)

var log = monitoring.Component("eventlog")

// CSVStore keeps events in a single CSV file.
type CSVStore struct {
	mu   sync.RWMutex
	path string
	loc  *time.Location
}

// OpenCSV opens or creates the log at path and migrates it to the current
// header.
func OpenCSV(path string) (*CSVStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	if _, err := MigrateCSV(path); err != nil {
		return nil, err
	}
	return &CSVStore{path: path, loc: time.Local}, nil
}

// Path returns the file backing the store.
func (s *CSVStore) Path() string { return s.path }

// rawRecord is one parsed row plus the exact bytes it was read from.
type rawRecord struct {
	fields []string
	body   []byte // without the line terminator
	term   []byte
}

// scanRecords splits data into records without normalising their bytes.
func scanRecords(data []byte) ([]rawRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var out []rawRecord
	var start int64
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		end := r.InputOffset()
		raw := data[start:end]
		start = end
		body, term := splitTerminator(raw)
		out = append(out, rawRecord{fields: fields, body: body, term: term})
	}
	return out, nil
}

func splitTerminator(raw []byte) ([]byte, []byte) {
	switch {
	case bytes.HasSuffix(raw, []byte("\r\n")):
		return raw[:len(raw)-2], raw[len(raw)-2:]
	case bytes.HasSuffix(raw, []byte("\n")):
		return raw[:len(raw)-1], raw[len(raw)-1:]
	}
	return raw, nil
}

func (r rawRecord) line() []byte {
	term := r.term
	if term == nil {
		term = []byte("\n")
	}
	out := make([]byte, 0, len(r.body)+len(term))
	out = append(out, r.body...)
	return append(out, term...)
}

// MigrateCSV brings the file at path to the current header. A missing or
// empty file gets a fresh header. A file without the removed column gains it
// with every existing row set to false. Rows keep their order and bytes apart
// from the appended field. Running it again is a no-op; it reports whether
// the file changed.
func MigrateCSV(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, nil); err != nil {
			return false, err
		}
		if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
			return false, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		log.Info("created event log", "path", path)
		return true, nil
	}

	recs, err := scanRecords(data)
	if err != nil {
		return false, fmt.Errorf("%w: parse %s: %v", ErrPersistence, path, err)
	}
	cols := newColumns(recs[0].fields)
	if _, ok := cols["removed"]; ok {
		if !bytes.HasSuffix(data, []byte("\n")) {
			// Appends start on a fresh line.
			if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
				return false, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			return true, nil
		}
		return false, nil
	}

	var buf bytes.Buffer
	for i, rec := range recs {
		rec.body = append(append([]byte{}, rec.body...), ","...)
		if i == 0 {
			rec.body = append(rec.body, "removed"...)
		} else {
			rec.body = append(rec.body, "false"...)
		}
		buf.Write(rec.line())
	}
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	log.Ops("migrated event log", "path", path, "rows", len(recs)-1, "added_column", "removed")
	return true, nil
}

// Append writes e as the last row.
func (s *CSVStore) Append(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(e.Record()); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	log.Diag("event appended", "image", e.ImageFile, "speed_kmh", e.SpeedKMH)
	return nil
}

// Tombstone flips removed to true on live rows referencing imageRef. Only
// those rows are rewritten; every other byte of the file is preserved.
func (s *CSVStore) Tombstone(ctx context.Context, imageRef string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	recs, err := scanRecords(data)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrPersistence, s.path, err)
	}
	if len(recs) == 0 {
		return 0, ErrNotFound
	}
	cols := newColumns(recs[0].fields)
	imgCol, ok := cols["image_file"]
	if !ok {
		return 0, ErrNotFound
	}
	remCol, ok := cols["removed"]
	if !ok {
		return 0, fmt.Errorf("%w: %s has no removed column", ErrPersistence, s.path)
	}

	var buf bytes.Buffer
	buf.Write(recs[0].line())
	seen, flipped := false, 0
	for _, rec := range recs[1:] {
		if imgCol < len(rec.fields) && rec.fields[imgCol] == imageRef {
			seen = true
			if !parseBool(cols.get(rec.fields, "removed")) {
				body, err := rewriteField(rec.fields, remCol, "true")
				if err != nil {
					return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
				}
				rec.body = body
				flipped++
			}
		}
		buf.Write(rec.line())
	}
	if !seen {
		return 0, ErrNotFound
	}
	if flipped == 0 {
		return 0, nil
	}
	if err := fsutil.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	log.Info("event tombstoned", "image", imageRef, "rows", flipped)
	return flipped, nil
}

func rewriteField(fields []string, col int, value string) ([]byte, error) {
	out := append([]string{}, fields...)
	for len(out) <= col {
		out = append(out, "")
	}
	out[col] = value
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.Write(out); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\r\n"), nil
}

// Query reads the whole file and applies f. Rows that fail to parse are
// skipped and logged.
func (s *CSVStore) Query(ctx context.Context, f Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, err := os.ReadFile(s.path)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrPersistence, s.path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	cols := newColumns(records[0])
	events := make([]Event, 0, len(records)-1)
	skipped := 0
	for _, rec := range records[1:] {
		e, err := cols.parseRecord(rec, s.loc)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, e)
	}
	if skipped > 0 {
		log.Ops("skipped unparseable rows", "path", s.path, "count", skipped)
	}
	return f.apply(events), nil
}

// Close is a no-op; every write closes its file handle.
func (s *CSVStore) Close() error { return nil }

// Open returns the store selected by backend ("csv" or "sqlite").
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", "csv":
		return OpenCSV(path)
	case "sqlite":
		return OpenSQL(path)
	}
	return nil, fmt.Errorf("eventlog: unknown backend %q", backend)
}

// Package images names and stores annotated detection images.
package images

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/speedcam/internal/fsutil"
	"github.com/banshee-data/speedcam/internal/monitoring"
	"github.com/banshee-data/speedcam/internal/security"
)

var log = monitoring.Component("images")

// ErrNotFound is returned for names with no stored image.
var ErrNotFound = errors.New("images: not found")

// Name builds the stored file name for a detection:
// YYYYmmdd_HHMMSS_<dir>_<color>_<label>_<speed><unit>.jpg, with the speed at
// one decimal and its point written as an underscore.
func Name(ts time.Time, direction, color, label string, speed float64, mph bool) string {
	speedStr := strings.Replace(strconv.FormatFloat(speed, 'f', 1, 64), ".", "_", 1)
	unit := "km_per_h"
	if mph {
		unit = "mph"
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s%s.jpg",
		ts.Format("20060102_150405"),
		security.SanitizeFilename(direction),
		security.SanitizeFilename(color),
		security.SanitizeFilename(label),
		speedStr, unit)
}

// Store keeps images in one flat directory.
type Store struct {
	dir   string
	fs    fsutil.FileSystem
	newID func() string
}

// NewStore creates dir if needed.
func NewStore(dir string, fsys fsutil.FileSystem) (*Store, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("images: create %s: %w", dir, err)
	}
	return &Store{dir: dir, fs: fsys, newID: func() string { return uuid.NewString() }}, nil
}

// Dir returns the image directory.
func (s *Store) Dir() string { return s.dir }

// path validates name and joins it to the directory.
func (s *Store) path(name string) (string, error) {
	if err := security.ValidateImageName(name); err != nil {
		return "", err
	}
	p := filepath.Join(s.dir, name)
	if _, ok := s.fs.(fsutil.OSFileSystem); ok {
		if err := security.ValidatePathWithinDirectory(p, s.dir); err != nil {
			return "", err
		}
	}
	return p, nil
}

// Save writes data under name and returns the name actually used. An
// existing file is never overwritten: a short unique suffix is added instead.
func (s *Store) Save(name string, data []byte) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	if s.fs.Exists(p) {
		ext := filepath.Ext(name)
		name = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), s.newID()[:8], ext)
		if p, err = s.path(name); err != nil {
			return "", err
		}
	}
	if err := s.fs.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("images: write %s: %w", name, err)
	}
	log.Diag("image saved", "name", name, "bytes", len(data))
	return name, nil
}

// Read returns the stored image.
func (s *Store) Read(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete removes the stored image.
func (s *Store) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// List returns the stored .jpg files.
func (s *Store) List() ([]fsutil.Entry, error) {
	entries, err := s.fs.List(s.dir)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if security.ValidateImageName(e.Name) == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

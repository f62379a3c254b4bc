// Package security validates names and paths that arrive from HTTP callers
// or the command line before they touch the filesystem.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for names or paths that could escape their
// directory.
var ErrUnsafePath = errors.New("security: unsafe path")

// canonical resolves symlinks in path, or in its nearest existing parent
// when path itself does not exist yet.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// A dangling name under a symlinked parent (e.g. dir/link/new.jpg with
	// link -> /etc) must be judged by where the parent really points.
	for check := abs; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rel), nil
		}
		check = parent
	}
}

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir,
// following symlinks on both sides.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	path, err := canonical(filePath)
	if err != nil {
		return err
	}
	dir, err := canonical(safeDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrUnsafePath, filePath, safeDir)
	}
	return nil
}

// ValidateExportPath accepts export targets under the temp directory or the
// working directory.
func ValidateExportPath(filePath string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	for _, dir := range []string{os.TempDir(), cwd} {
		if ValidatePathWithinDirectory(filePath, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be under %s or %s", ErrUnsafePath, filePath, os.TempDir(), cwd)
}

// ValidateImageName accepts a bare .jpg file name as produced by the image
// store: no directory parts, no leading dot.
func ValidateImageName(name string) error {
	switch {
	case name == "", name != filepath.Base(name), strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q is not a bare file name", ErrUnsafePath, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrUnsafePath, name)
	case !strings.EqualFold(filepath.Ext(name), ".jpg"):
		return fmt.Errorf("%w: %q is not a .jpg image", ErrUnsafePath, name)
	}
	return nil
}

// SanitizeFilename reduces s to ASCII letters, digits, dot, underscore and
// dash so it can be embedded in a file name. Runs of other characters become
// one underscore; the result is at most 64 bytes and never empty.
func SanitizeFilename(s string) string {
	const maxLen = 64
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || !lastUnderscore:
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

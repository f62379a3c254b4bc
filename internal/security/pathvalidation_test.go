package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	if err := os.MkdirAll(safeDir, 0755); err != nil {
		t.Fatalf("Failed to create safe directory: %v", err)
	}
	if err := os.MkdirAll(unsafeDir, 0755); err != nil {
		t.Fatalf("Failed to create unsafe directory: %v", err)
	}
	if err := os.Symlink(unsafeDir, filepath.Join(safeDir, "evil-symlink")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"file in directory", filepath.Join(safeDir, "a.jpg"), false},
		{"nested new file", filepath.Join(safeDir, "sub", "a.jpg"), false},
		{"dot dot", filepath.Join(safeDir, "..", "a.jpg"), true},
		{"sibling", filepath.Join(unsafeDir, "a.jpg"), true},
		{"through symlink", filepath.Join(safeDir, "evil-symlink", "a.jpg"), true},
		{"relative escape", "../../../etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
			if err != nil && !errors.Is(err, ErrUnsafePath) {
				t.Errorf("error %v does not wrap ErrUnsafePath", err)
			}
		})
	}
}

func TestValidateExportPath(t *testing.T) {
	if err := ValidateExportPath(filepath.Join(os.TempDir(), "events.csv")); err != nil {
		t.Errorf("temp dir export rejected: %v", err)
	}
	if err := ValidateExportPath("events.csv"); err != nil {
		t.Errorf("working dir export rejected: %v", err)
	}
	if err := ValidateExportPath("/proc/self/events.csv"); err == nil {
		t.Error("export outside allowed dirs accepted")
	}
}

func TestValidateImageName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"20240501_100000_L2R_red_car_42_3km_per_h.jpg", true},
		{"UPPER.JPG", true},
		{"", false},
		{"../x.jpg", false},
		{"dir/x.jpg", false},
		{`dir\x.jpg`, false},
		{".hidden.jpg", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateImageName(tt.name); (err == nil) != tt.ok {
				t.Errorf("ValidateImageName(%q) = %v, want ok=%v", tt.name, err, tt.ok)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"car", "car"},
		{"pickup truck", "pickup_truck"},
		{"a/b\\c", "a_b_c"},
		{"  spaced  ", "spaced"},
		{"__x__", "x"},
		{"a__b", "a_b"},
		{"", "unknown"},
		{"///", "unknown"},
		{"km/h", "km_h"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

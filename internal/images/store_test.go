package images

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedcam/internal/fsutil"
	"github.com/banshee-data/speedcam/internal/security"
)

func TestName(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 4, 9, 0, time.UTC)

	tests := []struct {
		name  string
		speed float64
		mph   bool
		label string
		want  string
	}{
		{"kmh", 42.26, false, "car", "20240501_100409_L2R_red_car_42_3km_per_h.jpg"},
		{"mph", 26.0, true, "car", "20240501_100409_L2R_red_car_26_0mph.jpg"},
		{"sanitized label", 9.99, false, "pickup/truck", "20240501_100409_L2R_red_pickup_truck_10_0km_per_h.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Name(ts, "L2R", "red", tt.label, tt.speed, tt.mph)
			if got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
			if err := security.ValidateImageName(got); err != nil {
				t.Errorf("Name() produced invalid image name: %v", err)
			}
		})
	}
}

func newMemStore(t *testing.T) (*Store, *fsutil.MemoryFileSystem) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	s, err := NewStore("/data/images", mfs)
	require.NoError(t, err)
	s.newID = func() string { return "0123456789abcdef" }
	return s, mfs
}

func TestStore_SaveReadDelete(t *testing.T) {
	s, _ := newMemStore(t)

	name, err := s.Save("a.jpg", []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", name)

	data, err := s.Read("a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, data)

	require.NoError(t, s.Delete("a.jpg"))
	_, err = s.Read("a.jpg")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.Delete("a.jpg"), ErrNotFound))
}

func TestStore_SaveNeverOverwrites(t *testing.T) {
	s, _ := newMemStore(t)

	_, err := s.Save("a.jpg", []byte("first"))
	require.NoError(t, err)
	name, err := s.Save("a.jpg", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, "a_01234567.jpg", name)

	first, err := s.Read("a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "first", string(first))
}

func TestStore_RejectsUnsafeNames(t *testing.T) {
	s, _ := newMemStore(t)

	for _, name := range []string{"../a.jpg", "x/a.jpg", "a.png", ".a.jpg"} {
		_, err := s.Save(name, []byte("x"))
		assert.ErrorIs(t, err, security.ErrUnsafePath, name)
		_, err = s.Read(name)
		assert.ErrorIs(t, err, security.ErrUnsafePath, name)
	}
}

func TestStore_ListSkipsForeignFiles(t *testing.T) {
	s, mfs := newMemStore(t)
	_, _ = s.Save("b.jpg", []byte("b"))
	_, _ = s.Save("a.jpg", []byte("a"))
	require.NoError(t, mfs.WriteFile("/data/images/notes.txt", []byte("n"), 0o644))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.jpg", entries[0].Name)
	assert.Equal(t, "b.jpg", entries[1].Name)
}

func TestStore_OSFileSystem(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	name, err := s.Save("x.jpg", []byte("x"))
	require.NoError(t, err)
	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, name, entries[0].Name)
}

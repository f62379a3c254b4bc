package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/fsutil"
	"github.com/banshee-data/speedcam/internal/images"
	"github.com/banshee-data/speedcam/internal/timeutil"
)

var now = time.Date(2025, 6, 30, 12, 0, 0, 0, time.Local)

type fixture struct {
	cleaner *Cleaner
	events  *eventlog.CSVStore
	images  *images.Store
	mem     *fsutil.MemoryFileSystem
}

func newFixture(t *testing.T, days int) *fixture {
	t.Helper()
	store, err := eventlog.OpenCSV(filepath.Join(t.TempDir(), "detections.csv"))
	require.NoError(t, err)
	mem := fsutil.NewMemoryFileSystem()
	mem.Now = func() time.Time { return now }
	imgs, err := images.NewStore("/images", mem)
	require.NoError(t, err)
	return &fixture{
		cleaner: New(Config{RetentionDays: days, Clock: timeutil.NewMockClock(now)}, store, imgs),
		events:  store,
		images:  imgs,
		mem:     mem,
	}
}

func (fx *fixture) add(t *testing.T, name string, at time.Time) {
	t.Helper()
	require.NoError(t, fx.events.Append(context.Background(), eventlog.Event{
		Timestamp: at, ObjectType: "car", ObjectColor: "red", Direction: "L2R",
		SpeedKMH: 40, SpeedMPH: 24.9, Confidence: 0.9, ImageFile: name,
	}))
	if name == "" {
		return
	}
	_, err := fx.images.Save(name, []byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, fx.mem.SetModTime(filepath.Join("/images", name), at))
}

func live(t *testing.T, s eventlog.Store) []string {
	t.Helper()
	events, err := s.Query(context.Background(), eventlog.Filter{})
	require.NoError(t, err)
	var names []string
	for _, e := range events {
		names = append(names, e.ImageFile)
	}
	return names
}

func TestSweep(t *testing.T) {
	fx := newFixture(t, 30)
	fx.add(t, "old.jpg", now.AddDate(0, 0, -45))
	fx.add(t, "", now.AddDate(0, 0, -40))
	fx.add(t, "recent.jpg", now.AddDate(0, 0, -2))

	// An image with no event, past the window.
	_, err := fx.images.Save("orphan.jpg", []byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, fx.mem.SetModTime("/images/orphan.jpg", now.AddDate(0, 0, -31)))

	res, err := fx.cleaner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Tombstoned: 1, Deleted: 2}, res)

	assert.ElementsMatch(t, []string{"recent.jpg", ""}, live(t, fx.events))
	entries, err := fx.images.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent.jpg", entries[0].Name)

	again, err := fx.cleaner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, again)
}

func TestSweepDisabled(t *testing.T) {
	fx := newFixture(t, 0)
	fx.add(t, "old.jpg", now.AddDate(-1, 0, 0))

	res, err := fx.cleaner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, []string{"old.jpg"}, live(t, fx.events))
}

func TestRemove(t *testing.T) {
	fx := newFixture(t, 30)
	fx.add(t, "a.jpg", now.Add(-time.Hour))
	fx.add(t, "b.jpg", now.Add(-time.Minute))

	res, err := fx.cleaner.Remove(context.Background(), "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, Result{Tombstoned: 1, Deleted: 1}, res)
	assert.Equal(t, []string{"b.jpg"}, live(t, fx.events))

	_, err = fx.cleaner.Remove(context.Background(), "missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fx.cleaner.Remove(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture(t, 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fx.cleaner.Run(ctx), context.Canceled)
}

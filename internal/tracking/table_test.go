package tracking

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/speedcam/internal/frame"
)

var t0 = time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC)

// box returns a 40x20 box centered on (x, y).
func box(x, y float64) frame.Rect {
	return frame.Rect{X: int(x) - 20, Y: int(y) - 10, W: 40, H: 20}
}

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestAssociate_CreatesAndMatches(t *testing.T) {
	tbl := NewTable(Config{})

	_, created := tbl.Associate([]frame.Rect{box(100, 400), box(900, 400)}, at(0))
	if diff := cmp.Diff([]int{1, 2}, created); diff != "" {
		t.Fatalf("created ids mismatch (-want +got):\n%s", diff)
	}

	updated, created := tbl.Associate([]frame.Rect{box(905, 402), box(130, 400)}, at(100))
	if diff := cmp.Diff([]int{1, 2}, updated); diff != "" {
		t.Errorf("updated ids mismatch (-want +got):\n%s", diff)
	}
	if len(created) != 0 {
		t.Errorf("created = %v, want none", created)
	}
	if got := tbl.Get(1).Current; got != (frame.Point{X: 130, Y: 400}) {
		t.Errorf("track 1 current = %v", got)
	}
	if got := len(tbl.Get(2).History); got != 2 {
		t.Errorf("track 2 history = %d, want 2", got)
	}
}

func TestAssociate_DistanceIsStrict(t *testing.T) {
	tests := []struct {
		name    string
		dx      float64
		matched bool
	}{
		{"well inside", 60, true},
		{"just inside", 99, true},
		{"exactly 100px", 100, false},
		{"outside", 150, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewTable(Config{})
			tbl.Associate([]frame.Rect{box(200, 300)}, at(0))
			updated, created := tbl.Associate([]frame.Rect{box(200+tt.dx, 300)}, at(100))
			if got := len(updated) == 1; got != tt.matched {
				t.Errorf("matched = %v, want %v (updated=%v created=%v)", got, tt.matched, updated, created)
			}
			if !tt.matched && tbl.Len() != 2 {
				t.Errorf("Len() = %d, want 2", tbl.Len())
			}
		})
	}
}

func TestAssociate_TrackKeepsClosestClaimant(t *testing.T) {
	tbl := NewTable(Config{})
	tbl.Associate([]frame.Rect{box(500, 300)}, at(0))

	// Both detections are nearest to track 1; the closer one wins.
	updated, created := tbl.Associate([]frame.Rect{box(560, 300), box(510, 300)}, at(100))
	if diff := cmp.Diff([]int{1}, updated); diff != "" {
		t.Errorf("updated mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, created); diff != "" {
		t.Errorf("created mismatch:\n%s", diff)
	}
	if got := tbl.Get(1).Current.X; got != 510 {
		t.Errorf("track 1 x = %v, want 510", got)
	}
	if got := tbl.Get(2).Current.X; got != 560 {
		t.Errorf("track 2 x = %v, want 560", got)
	}
}

func TestHistoryCapped(t *testing.T) {
	tbl := NewTable(Config{})
	for i := 0; i < 25; i++ {
		tbl.Associate([]frame.Rect{box(100+float64(i)*10, 300)}, at(i*50))
	}
	tr := tbl.Get(1)
	if got := len(tr.History); got != DefaultHistoryLength {
		t.Fatalf("history = %d, want %d", got, DefaultHistoryLength)
	}
	if tr.History[0].X != 250 || tr.History[9].X != 340 {
		t.Errorf("history kept %v..%v, want newest samples 250..340", tr.History[0].X, tr.History[9].X)
	}
	if tr.Start.X != 100 {
		t.Errorf("start = %v, want 100 after eviction", tr.Start.X)
	}
}

func TestDirection(t *testing.T) {
	tests := []struct {
		name   string
		sticky bool
		xs     []float64
		want   Direction
	}{
		{"below threshold", true, []float64{300, 310, 320}, Unknown},
		{"left to right", true, []float64{300, 315, 330}, LeftToRight},
		{"right to left", true, []float64{300, 285, 270}, RightToLeft},
		{"sticky keeps first direction", true, []float64{300, 330, 300, 270}, LeftToRight},
		{"non-sticky follows displacement", false, []float64{300, 330, 300, 270}, RightToLeft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewTable(Config{StickyDirection: tt.sticky})
			for i, x := range tt.xs {
				tbl.Associate([]frame.Rect{box(x, 300)}, at(i*100))
			}
			if got := tbl.Get(1).Direction; got != tt.want {
				t.Errorf("Direction = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpire(t *testing.T) {
	tbl := NewTable(Config{})
	tbl.Associate([]frame.Rect{box(100, 300)}, at(0))
	tbl.Associate([]frame.Rect{box(100, 300), box(900, 300)}, at(5000))

	if got := tbl.Expire(at(10_000)); len(got) != 0 {
		t.Errorf("expired %d tracks at exactly max age, want 0", len(got))
	}
	got := tbl.Expire(at(10_001))
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("Expire() = %v, want track 1", got)
	}
	if tbl.Get(1) != nil || tbl.Get(2) == nil {
		t.Error("only track 1 should be removed")
	}
}

func TestExpireOnMissedCycles(t *testing.T) {
	tbl := NewTable(Config{MaxMissed: 2})
	tbl.Associate([]frame.Rect{box(100, 300)}, at(0))
	for i := 1; i <= 2; i++ {
		tbl.Associate(nil, at(i*100))
		if len(tbl.Expire(at(i*100))) != 0 {
			t.Fatalf("expired after %d misses", i)
		}
	}
	tbl.Associate(nil, at(300))
	if got := tbl.Expire(at(300)); len(got) != 1 {
		t.Errorf("Expire() = %d tracks, want 1 after 3 misses", len(got))
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"L2R": LeftToRight, "r2l": RightToLeft, "left_to_right": LeftToRight, "": Unknown, "x": Unknown} {
		if got := ParseDirection(in); got != want {
			t.Errorf("ParseDirection(%q) = %v, want %v", in, got, want)
		}
	}
	if LeftToRight.String() != "L2R" || RightToLeft.String() != "R2L" || Unknown.String() != "unknown" {
		t.Error("unexpected direction labels")
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	tbl := NewTable(Config{})
	tbl.Associate([]frame.Rect{box(100, 300)}, at(0))
	snap := tbl.Get(1).Snapshot()
	tbl.Associate([]frame.Rect{box(120, 300)}, at(100))
	if len(snap.History) != 1 {
		t.Errorf("snapshot history changed to %d samples", len(snap.History))
	}
}

// Package analytics summarizes logged detections for the dashboard.
package analytics

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/units"
)

// SpeedStats describes a set of speeds in km/h.
type SpeedStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean_kmh"`
	StdDev float64 `json:"stddev_kmh"`
	P50    float64 `json:"p50_kmh"`
	P85    float64 `json:"p85_kmh"`
	P98    float64 `json:"p98_kmh"`
	Max    float64 `json:"max_kmh"`
	// Over counts speeds above the speed limit, when one is given.
	Over int `json:"over_limit"`
}

// Summary is the analytics view of a set of events.
type Summary struct {
	Total       int                   `json:"total"`
	Overall     SpeedStats            `json:"overall"`
	ByDirection map[string]SpeedStats `json:"by_direction"`
	ByLabel     map[string]int        `json:"by_label"`
	ByHour      [24]int               `json:"by_hour"`
	LimitKMH    float64               `json:"speed_limit_kmh,omitempty"`
}

// Summarize computes per-direction statistics over events. Tombstoned events
// are skipped. limitKMH of zero disables the Over counts.
func Summarize(events []eventlog.Event, limitKMH float64) Summary {
	s := Summary{
		ByDirection: make(map[string]SpeedStats),
		ByLabel:     make(map[string]int),
		LimitKMH:    limitKMH,
	}
	var all []float64
	byDir := make(map[string][]float64)
	for _, e := range events {
		if e.Removed {
			continue
		}
		s.Total++
		all = append(all, e.SpeedKMH)
		dir := strings.ToUpper(e.Direction)
		byDir[dir] = append(byDir[dir], e.SpeedKMH)
		s.ByLabel[e.ObjectType]++
		s.ByHour[e.Timestamp.Hour()]++
	}
	s.Overall = Speeds(all, limitKMH)
	for dir, v := range byDir {
		s.ByDirection[dir] = Speeds(v, limitKMH)
	}
	return s
}

// Speeds computes SpeedStats for v. v is not modified.
func Speeds(v []float64, limitKMH float64) SpeedStats {
	if len(v) == 0 {
		return SpeedStats{}
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		std = 0
	}
	out := SpeedStats{
		Count:  len(sorted),
		Mean:   units.Round(mean, 1),
		StdDev: units.Round(std, 1),
		P50:    units.Round(stat.Quantile(0.50, stat.Empirical, sorted, nil), 1),
		P85:    units.Round(stat.Quantile(0.85, stat.Empirical, sorted, nil), 1),
		P98:    units.Round(stat.Quantile(0.98, stat.Empirical, sorted, nil), 1),
		Max:    units.Round(sorted[len(sorted)-1], 1),
	}
	if limitKMH > 0 {
		out.Over = len(sorted) - sort.SearchFloat64s(sorted, math.Nextafter(limitKMH, math.Inf(1)))
	}
	return out
}

// Histogram counts speeds into fixed-width bins starting at zero.
func Histogram(events []eventlog.Event, binKMH float64) []Bin {
	if binKMH <= 0 {
		binKMH = 5
	}
	counts := make(map[int]int)
	top := -1
	for _, e := range events {
		if e.Removed || e.SpeedKMH < 0 {
			continue
		}
		i := int(e.SpeedKMH / binKMH)
		counts[i]++
		top = max(top, i)
	}
	bins := make([]Bin, 0, top+1)
	for i := 0; i <= top; i++ {
		bins = append(bins, Bin{Low: float64(i) * binKMH, High: float64(i+1) * binKMH, Count: counts[i]})
	}
	return bins
}

// Bin is one histogram bucket, [Low, High).
type Bin struct {
	Low   float64 `json:"low_kmh"`
	High  float64 `json:"high_kmh"`
	Count int     `json:"count"`
}

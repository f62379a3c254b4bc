package classify

import (
	"math"

	"github.com/banshee-data/speedcam/internal/frame"
)

// MinColorShare is the pixel share (percent) the dominant color must exceed.
const MinColorShare = 15.0

type hsvRange struct {
	lo, hi [3]uint8
}

type colorRanges struct {
	name   string
	ranges []hsvRange
}

// Ranges use the 8-bit HSV convention: H in [0,180], S and V in [0,255].
// Order breaks ties.
var palette = []colorRanges{
	{"red", []hsvRange{{[3]uint8{0, 50, 50}, [3]uint8{10, 255, 255}}, {[3]uint8{170, 50, 50}, [3]uint8{180, 255, 255}}}},
	{"blue", []hsvRange{{[3]uint8{100, 50, 50}, [3]uint8{130, 255, 255}}}},
	{"green", []hsvRange{{[3]uint8{40, 50, 50}, [3]uint8{80, 255, 255}}}},
	{"yellow", []hsvRange{{[3]uint8{20, 50, 50}, [3]uint8{30, 255, 255}}}},
	{"orange", []hsvRange{{[3]uint8{10, 50, 50}, [3]uint8{20, 255, 255}}}},
	{"white", []hsvRange{{[3]uint8{0, 0, 200}, [3]uint8{180, 30, 255}}}},
	{"black", []hsvRange{{[3]uint8{0, 0, 0}, [3]uint8{180, 255, 50}}}},
	{"gray", []hsvRange{{[3]uint8{0, 0, 50}, [3]uint8{180, 30, 200}}}},
	{"silver", []hsvRange{{[3]uint8{0, 0, 100}, [3]uint8{180, 50, 200}}}},
	{"brown", []hsvRange{{[3]uint8{10, 50, 20}, [3]uint8{20, 255, 200}}}},
}

func (r hsvRange) contains(h, s, v uint8) bool {
	return h >= r.lo[0] && h <= r.hi[0] && s >= r.lo[1] && s <= r.hi[1] && v >= r.lo[2] && v <= r.hi[2]
}

// HSV converts one BGR pixel to 8-bit HSV.
func HSV(b, g, r uint8) (h, s, v uint8) {
	fb, fg, fr := float64(b), float64(g), float64(r)
	mx := math.Max(fr, math.Max(fg, fb))
	mn := math.Min(fr, math.Min(fg, fb))
	diff := mx - mn
	v = uint8(mx)
	if mx > 0 {
		s = uint8(math.Round(diff / mx * 255))
	}
	if diff == 0 {
		return 0, s, v
	}
	var hue float64
	switch mx {
	case fr:
		hue = 60 * (fg - fb) / diff
	case fg:
		hue = 120 + 60*(fb-fr)/diff
	default:
		hue = 240 + 60*(fr-fg)/diff
	}
	if hue < 0 {
		hue += 360
	}
	return uint8(math.Round(hue / 2)), s, v
}

// ColorOf names the dominant color inside box, or "unknown" when no color
// covers more than MinColorShare percent of its pixels.
func ColorOf(f frame.Frame, box frame.Rect) string {
	box = box.Intersect(f.Bounds())
	if box.Empty() || f.Validate() != nil {
		return UnknownLabel
	}
	counts := make([]int, len(palette))
	for y := box.Y; y < box.Y+box.H; y++ {
		for x := box.X; x < box.X+box.W; x++ {
			h, s, v := HSV(f.At(x, y))
			for i, c := range palette {
				for _, r := range c.ranges {
					if r.contains(h, s, v) {
						counts[i]++
						break
					}
				}
			}
		}
	}

	best := 0
	for i := range counts {
		if counts[i] > counts[best] {
			best = i
		}
	}
	share := float64(counts[best]) / float64(box.Area()) * 100
	if share > MinColorShare {
		return palette[best].name
	}
	return UnknownLabel
}

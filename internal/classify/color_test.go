package classify

import (
	"testing"
	"time"

	"github.com/banshee-data/speedcam/internal/frame"
)

func TestHSV(t *testing.T) {
	tests := []struct {
		name    string
		b, g, r uint8
		h, s, v uint8
	}{
		{"red", 0, 0, 255, 0, 255, 255},
		{"green", 0, 255, 0, 60, 255, 255},
		{"blue", 255, 0, 0, 120, 255, 255},
		{"yellow", 0, 255, 255, 30, 255, 255},
		{"white", 255, 255, 255, 0, 0, 255},
		{"black", 0, 0, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := HSV(tt.b, tt.g, tt.r)
			if h != tt.h || s != tt.s || v != tt.v {
				t.Errorf("HSV(%d,%d,%d) = (%d,%d,%d), want (%d,%d,%d)", tt.b, tt.g, tt.r, h, s, v, tt.h, tt.s, tt.v)
			}
		})
	}
}

// fill paints the first n pixels of a 10x10 frame with one BGR color and the
// rest with a muddy tone that matches no palette entry.
func fill(n int, b, g, r uint8) frame.Frame {
	f := frame.New(1, time.Now(), 10, 10)
	for i := 0; i < 100; i++ {
		x, y := i%10, i/10
		if i < n {
			f.Set(x, y, b, g, r)
		} else {
			f.Set(x, y, 67, 67, 80)
		}
	}
	return f
}

func TestColorOf(t *testing.T) {
	all := frame.Rect{W: 10, H: 10}
	tests := []struct {
		name string
		f    frame.Frame
		box  frame.Rect
		want string
	}{
		{"red majority", fill(60, 0, 0, 255), all, "red"},
		{"blue", fill(100, 255, 0, 0), all, "blue"},
		{"orange", fill(100, 0, 128, 255), all, "orange"},
		{"white", fill(100, 255, 255, 255), all, "white"},
		{"black", fill(100, 0, 0, 0), all, "black"},
		{"gray wins tie with silver", fill(100, 128, 128, 128), all, "gray"},
		{"share at threshold is unknown", fill(15, 0, 0, 255), all, UnknownLabel},
		{"share above threshold", fill(20, 0, 0, 255), all, "red"},
		{"muddy only", fill(0, 0, 0, 0), all, UnknownLabel},
		{"box outside frame", fill(100, 0, 0, 255), frame.Rect{X: 50, Y: 50, W: 5, H: 5}, UnknownLabel},
		{"box clipped to frame", fill(100, 0, 0, 255), frame.Rect{X: 5, Y: 5, W: 50, H: 50}, "red"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ColorOf(tt.f, tt.box); got != tt.want {
				t.Errorf("ColorOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Package frame defines the image and geometry values passed between
// pipeline stages. It has no cgo dependency so every stage can be tested
// without OpenCV.
package frame

import (
	"errors"
	"math"
	"time"
)

// Channels is the number of bytes per pixel in Data (BGR).
const Channels = 3

// ErrInvalid is returned for frames whose payload does not match their size.
var ErrInvalid = errors.New("frame: invalid payload")

// Frame is one decoded image plus its capture timestamp. A frame is owned by
// whichever stage currently holds it; stages that keep a frame beyond their
// call must Clone it.
type Frame struct {
	Seq      uint64
	Captured time.Time
	Width    int
	Height   int
	Data     []byte // BGR, row-major
}

// New allocates a black frame of the given size.
func New(seq uint64, captured time.Time, width, height int) Frame {
	return Frame{
		Seq:      seq,
		Captured: captured,
		Width:    width,
		Height:   height,
		Data:     make([]byte, width*height*Channels),
	}
}

// Validate checks that the payload matches the frame dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) != f.Width*f.Height*Channels {
		return ErrInvalid
	}
	return nil
}

// Empty reports whether the frame carries no image.
func (f Frame) Empty() bool { return len(f.Data) == 0 }

// Bounds returns the full-frame rectangle.
func (f Frame) Bounds() Rect { return Rect{W: f.Width, H: f.Height} }

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	c := f
	c.Data = append([]byte(nil), f.Data...)
	return c
}

// At returns the BGR triple at (x, y). Callers must stay within bounds.
func (f Frame) At(x, y int) (b, g, r byte) {
	i := (y*f.Width + x) * Channels
	return f.Data[i], f.Data[i+1], f.Data[i+2]
}

// Set writes the BGR triple at (x, y).
func (f Frame) Set(x, y int, b, g, r byte) {
	i := (y*f.Width + x) * Channels
	f.Data[i], f.Data[i+1], f.Data[i+2] = b, g, r
}

// Crop copies the part of the frame inside r, clipped to the frame bounds.
// The result is empty if r does not overlap the frame.
func (f Frame) Crop(r Rect) Frame {
	r = r.Intersect(f.Bounds())
	if r.Empty() {
		return Frame{Seq: f.Seq, Captured: f.Captured}
	}
	out := New(f.Seq, f.Captured, r.W, r.H)
	rowLen := r.W * Channels
	for y := 0; y < r.H; y++ {
		src := ((r.Y+y)*f.Width + r.X) * Channels
		copy(out.Data[y*rowLen:(y+1)*rowLen], f.Data[src:src+rowLen])
	}
	return out
}

// Point is an image-space position in pixels.
type Point struct {
	X, Y float64
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Rect is an axis-aligned box in pixels.
type Rect struct {
	X, Y, W, H int
}

// Center returns the box center.
func (r Rect) Center() Point {
	return Point{X: float64(r.X) + float64(r.W)/2, Y: float64(r.Y) + float64(r.H)/2}
}

// Area returns W*H.
func (r Rect) Area() int { return r.W * r.H }

// Empty reports whether the box has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Translate shifts the box by (dx, dy).
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Intersect returns the overlap of r and s.
func (r Rect) Intersect(s Rect) Rect {
	x0, y0 := max(r.X, s.X), max(r.Y, s.Y)
	x1, y1 := min(r.X+r.W, s.X+s.W), min(r.Y+r.H, s.Y+s.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Pad grows the box by n pixels on every side.
func (r Rect) Pad(n int) Rect {
	return Rect{X: r.X - n, Y: r.Y - n, W: r.W + 2*n, H: r.H + 2*n}
}

// ROI is a region of interest given by its edges, as configured.
type ROI struct {
	Top, Bottom, Left, Right int
}

// Rect converts the edges to a box.
func (r ROI) Rect() Rect {
	return Rect{X: r.Left, Y: r.Top, W: r.Right - r.Left, H: r.Bottom - r.Top}
}

package frame

import (
	"math"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	f := New(1, time.Now(), 4, 2)
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	f.Data = f.Data[:5]
	if err := f.Validate(); err != ErrInvalid {
		t.Errorf("Validate() = %v, want ErrInvalid", err)
	}
}

func TestCrop(t *testing.T) {
	f := New(7, time.Now(), 4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			f.Set(x, y, byte(x), byte(y), 9)
		}
	}

	c := f.Crop(Rect{X: 2, Y: 1, W: 5, H: 2})
	if c.Width != 2 || c.Height != 2 {
		t.Fatalf("Crop size = %dx%d, want 2x2", c.Width, c.Height)
	}
	if b, g, r := c.At(1, 1); b != 3 || g != 2 || r != 9 {
		t.Errorf("At(1,1) = (%d,%d,%d), want (3,2,9)", b, g, r)
	}
	if c.Seq != 7 {
		t.Errorf("Seq = %d, want 7", c.Seq)
	}

	if out := f.Crop(Rect{X: 10, Y: 10, W: 2, H: 2}); !out.Empty() {
		t.Error("crop outside the frame should be empty")
	}
}

func TestCloneIsDeep(t *testing.T) {
	f := New(1, time.Now(), 2, 2)
	c := f.Clone()
	c.Set(0, 0, 1, 2, 3)
	if b, _, _ := f.At(0, 0); b != 0 {
		t.Error("Clone shares pixel storage with the original")
	}
}

func TestRectGeometry(t *testing.T) {
	r := Rect{X: 10, Y: 20, W: 40, H: 10}
	if c := r.Center(); c != (Point{X: 30, Y: 25}) {
		t.Errorf("Center() = %v", c)
	}
	if a := r.Area(); a != 400 {
		t.Errorf("Area() = %d, want 400", a)
	}
	got := r.Intersect(Rect{X: 40, Y: 0, W: 100, H: 100})
	if got != (Rect{X: 40, Y: 20, W: 10, H: 10}) {
		t.Errorf("Intersect() = %v", got)
	}
	if !r.Intersect(Rect{X: 100, Y: 100, W: 1, H: 1}).Empty() {
		t.Error("disjoint intersect should be empty")
	}
	if roi := (ROI{Top: 300, Bottom: 590, Left: 100, Right: 1820}).Rect(); roi != (Rect{X: 100, Y: 300, W: 1720, H: 290}) {
		t.Errorf("ROI.Rect() = %v", roi)
	}
}

func TestPointDist(t *testing.T) {
	if d := (Point{0, 0}).Dist(Point{3, 4}); math.Abs(d-5) > 1e-12 {
		t.Errorf("Dist = %v, want 5", d)
	}
}

func TestEncodeJPEG(t *testing.T) {
	f := New(1, time.Now(), 16, 8)
	f.Set(3, 2, 10, 20, 30)
	img := f.ToRGBA()
	if c := img.RGBAAt(3, 2); c.R != 30 || c.G != 20 || c.B != 10 || c.A != 0xff {
		t.Errorf("RGBAAt = %+v, want BGR swapped to RGB", c)
	}

	data, err := f.EncodeJPEG(80)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if len(data) < 2 || data[0] != 0xff || data[1] != 0xd8 {
		t.Error("missing JPEG SOI marker")
	}

	if _, err := (Frame{}).EncodeJPEG(80); err != ErrInvalid {
		t.Errorf("EncodeJPEG(empty) = %v, want ErrInvalid", err)
	}
}

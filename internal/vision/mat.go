// Package vision binds the pipeline to OpenCV through gocv: stream capture,
// background-subtraction motion detection and overlay rendering.
package vision

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/speedcam/internal/frame"
)

// toMat copies f into a new 8-bit BGR Mat. The caller closes it.
func toMat(f frame.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
}

// fromMat copies a BGR, BGRA or gray Mat into a Frame.
func fromMat(m gocv.Mat, seq uint64, captured time.Time) (frame.Frame, error) {
	if m.Empty() {
		return frame.Frame{}, frame.ErrInvalid
	}
	src := m
	switch m.Channels() {
	case 3:
	case 1:
		src = gocv.NewMat()
		defer src.Close()
		gocv.CvtColor(m, &src, gocv.ColorGrayToBGR)
	case 4:
		src = gocv.NewMat()
		defer src.Close()
		gocv.CvtColor(m, &src, gocv.ColorBGRAToBGR)
	default:
		return frame.Frame{}, fmt.Errorf("%w: %d channels", frame.ErrInvalid, m.Channels())
	}
	return frame.Frame{
		Seq:      seq,
		Captured: captured,
		Width:    src.Cols(),
		Height:   src.Rows(),
		Data:     src.ToBytes(),
	}, nil
}

func rect(r frame.Rect) image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

func encodeJPEG(m gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("vision: encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

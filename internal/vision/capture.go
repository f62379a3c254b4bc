package vision

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/monitoring"
	"github.com/banshee-data/speedcam/internal/stream"
	"github.com/banshee-data/speedcam/internal/timeutil"
)

var log = monitoring.Component("vision")

// Opener opens network streams with OpenCV's FFmpeg backend.
type Opener struct {
	Clock timeutil.Clock
}

// Open implements stream.Opener. The internal buffer is kept at one frame so
// reads return the newest frame rather than a stale backlog.
func (o Opener) Open(ctx context.Context, url string, fps int) (stream.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, fmt.Errorf("vision: open capture: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("vision: capture not opened")
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if fps > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(fps))
	}
	clock := o.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	log.Diag("capture opened",
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS))
	return &capture{vc: vc, mat: gocv.NewMat(), clock: clock}, nil
}

type capture struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	clock timeutil.Clock
	seq   uint64
}

func (c *capture) Read() (frame.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return frame.Frame{}, fmt.Errorf("%w: empty read", stream.ErrDecode)
	}
	c.seq++
	f, err := fromMat(c.mat, c.seq, c.clock.Now())
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %v", stream.ErrDecode, err)
	}
	return f, nil
}

func (c *capture) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

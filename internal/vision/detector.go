package vision

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/speedcam/internal/frame"
)

// Detection defaults.
const (
	DefaultMinArea  = 500
	DefaultMaxArea  = 50000
	DefaultBlurSize = 10
)

// DetectorConfig bounds the region searched and the blob sizes kept.
type DetectorConfig struct {
	ROI      frame.ROI
	MinArea  float64
	MaxArea  float64
	BlurSize int // morphology kernel size in pixels
}

// MOG2Detector finds moving blobs with a Gaussian-mixture background model.
// It keeps model state between calls and is not safe for concurrent use.
type MOG2Detector struct {
	cfg    DetectorConfig
	bg     gocv.BackgroundSubtractorMOG2
	kernel gocv.Mat
	mask   gocv.Mat
}

// NewMOG2Detector creates a detector. Close releases its native memory.
func NewMOG2Detector(cfg DetectorConfig) *MOG2Detector {
	if cfg.MinArea <= 0 {
		cfg.MinArea = DefaultMinArea
	}
	if cfg.MaxArea <= 0 {
		cfg.MaxArea = DefaultMaxArea
	}
	if cfg.BlurSize <= 0 {
		cfg.BlurSize = DefaultBlurSize
	}
	return &MOG2Detector{
		cfg:    cfg,
		bg:     gocv.NewBackgroundSubtractorMOG2(),
		kernel: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.BlurSize, cfg.BlurSize)),
		mask:   gocv.NewMat(),
	}
}

// Detect returns the bounding boxes of moving blobs inside the ROI, in frame
// coordinates.
func (d *MOG2Detector) Detect(f frame.Frame) ([]frame.Rect, error) {
	img, err := toMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	roi := d.cfg.ROI.Rect().Intersect(f.Bounds())
	if roi.Empty() {
		roi = f.Bounds()
	}
	region := img.Region(rect(roi))
	defer region.Close()

	d.bg.Apply(region, &d.mask)
	gocv.MorphologyEx(d.mask, &d.mask, gocv.MorphOpen, d.kernel)
	gocv.Dilate(d.mask, &d.mask, d.kernel)

	contours := gocv.FindContours(d.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var boxes []frame.Rect
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < d.cfg.MinArea || area > d.cfg.MaxArea {
			continue
		}
		r := gocv.BoundingRect(c)
		boxes = append(boxes, frame.Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}.Translate(roi.X, roi.Y))
	}
	return boxes, nil
}

// Close releases the background model and buffers.
func (d *MOG2Detector) Close() error {
	d.mask.Close()
	d.kernel.Close()
	return d.bg.Close()
}

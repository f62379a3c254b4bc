package frame

import (
	"bytes"
	"image"
	"image/jpeg"
)

// ToRGBA converts the BGR payload to an image.RGBA.
func (f Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Data) && j+3 < len(img.Pix); i, j = i+Channels, j+4 {
		img.Pix[j] = f.Data[i+2]
		img.Pix[j+1] = f.Data[i+1]
		img.Pix[j+2] = f.Data[i]
		img.Pix[j+3] = 0xff
	}
	return img
}

// EncodeJPEG encodes the frame as JPEG at the given quality (1-100).
func (f Frame) EncodeJPEG(quality int) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.ToRGBA(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package capture

import (
	"fmt"
	"image/jpeg"
	"io"
)

// Encoder transcodes a raw frame into JPEG
type Encoder interface {
	// Encode writes the JPEG form of frame to dst at the given quality (1-100)
	Encode(dst io.Writer, frame *Frame, quality int) error
}

// JPEGEncoder is the software encoder used when the sensor delivers raw pixels
type JPEGEncoder struct{}

// NewJPEGEncoder creates a software JPEG encoder
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{}
}

// Encode converts the raw frame into an image and encodes it
func (e *JPEGEncoder) Encode(dst io.Writer, frame *Frame, quality int) error {
	img, err := rawImage(frame)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(dst, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return nil
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

package video

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 75

// ErrDecode wraps any failure to decode a received frame.
var ErrDecode = errors.New("video: frame decode failed")

// JPEGCodec encodes captured images for transmission and decodes received
// frames.
type JPEGCodec struct {
	quality int
}

// NewJPEGCodec creates a codec. Quality is clamped to 1..100; zero selects
// DefaultQuality.
func NewJPEGCodec(quality int) *JPEGCodec {
	switch {
	case quality == 0:
		quality = DefaultQuality
	case quality < 1:
		quality = 1
	case quality > 100:
		quality = 100
	}
	return &JPEGCodec{quality: quality}
}

// Quality returns the configured JPEG quality.
func (c *JPEGCodec) Quality() int {
	return c.quality
}

// Encode compresses img to JPEG.
func (c *JPEGCodec) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a JPEG frame.
func (c *JPEGCodec) Decode(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

package av

import (
	"image"
	"image/color"
	"sync"
)

// Camera is a frame capture device.
type Camera interface {
	Open() error
	Close() error
	IsOpen() bool
	Capture() (image.Image, error)
}

// Default capture resolution (VGA).
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// PatternCamera synthesizes a moving gradient so calls can run without
// capture hardware.
type PatternCamera struct {
	width  int
	height int

	open  bool
	frame int
	mu    sync.Mutex
}

// NewPatternCamera creates a pattern source of the given size. Non-positive
// dimensions fall back to VGA.
func NewPatternCamera(width, height int) *PatternCamera {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return &PatternCamera{width: width, height: height}
}

// Open starts the device.
func (c *PatternCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

// Close stops the device.
func (c *PatternCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// IsOpen reports whether the device is open.
func (c *PatternCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Capture renders the next frame. The gradient shifts by two pixels per call.
func (c *PatternCamera) Capture() (image.Image, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, ErrCameraClosed
	}
	offset := c.frame * 2
	c.frame++
	c.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + offset) * 255 / c.width),
				G: uint8(y * 255 / c.height),
				B: uint8(offset),
				A: 255,
			})
		}
	}
	return img, nil
}

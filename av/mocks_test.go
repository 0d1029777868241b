package av

import (
	"errors"
	"image"
	"math/rand"
	"sync"
)

// failingCamera never opens.
type failingCamera struct{}

func (failingCamera) Open() error                   { return errors.New("no device") }
func (failingCamera) Close() error                  { return nil }
func (failingCamera) IsOpen() bool                  { return false }
func (failingCamera) Capture() (image.Image, error) { return nil, ErrCameraClosed }

// blockingCamera blocks in Capture until release is closed.
type blockingCamera struct {
	*PatternCamera
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newBlockingCamera() *blockingCamera {
	return &blockingCamera{
		PatternCamera: NewPatternCamera(8, 8),
		release:       make(chan struct{}),
		entered:       make(chan struct{}),
	}
}

func (c *blockingCamera) Capture() (image.Image, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return c.PatternCamera.Capture()
}

// countingCamera records Open and Close calls.
type countingCamera struct {
	*PatternCamera
	opens  int
	closes int
	mu     sync.Mutex
}

func (c *countingCamera) Open() error {
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()
	return c.PatternCamera.Open()
}

func (c *countingCamera) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.PatternCamera.Close()
}

func (c *countingCamera) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}

// noiseCamera produces random pixels, which JPEG cannot compress well, so
// its encoded frames exceed a single datagram.
type noiseCamera struct {
	*PatternCamera
	width  int
	height int
	rng    *rand.Rand
	mu     sync.Mutex
}

func newNoiseCamera(width, height int) *noiseCamera {
	return &noiseCamera{
		PatternCamera: NewPatternCamera(width, height),
		width:         width,
		height:        height,
		rng:           rand.New(rand.NewSource(1)),
	}
}

func (c *noiseCamera) Capture() (image.Image, error) {
	if !c.IsOpen() {
		return nil, ErrCameraClosed
	}
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	c.mu.Lock()
	c.rng.Read(img.Pix)
	c.mu.Unlock()
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	return img, nil
}

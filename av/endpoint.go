package av

import (
	"errors"
	"fmt"
	"image"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/netchat/av/video"
	"github.com/opd-ai/netchat/limits"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultFrameInterval paces capture at roughly 15 frames per second.
	DefaultFrameInterval = 66 * time.Millisecond

	// DefaultReleaseDelay is the wait after closing a camera left open by a
	// previous call.
	DefaultReleaseDelay = 500 * time.Millisecond

	// DefaultJoinTimeout bounds how long Stop waits for the loops to exit.
	DefaultJoinTimeout = time.Second

	// receiveBufferSize holds the largest possible UDP payload.
	receiveBufferSize = 65535

	frameQueueSize = 8
)

// CallConfig describes one point-to-point video call.
type CallConfig struct {
	LocalPort  int
	RemoteHost string
	RemotePort int

	FrameInterval     time.Duration
	ReleaseDelay      time.Duration
	JoinTimeout       time.Duration
	ReassemblyTimeout time.Duration
	Quality           int
}

// NewCallConfig returns a configuration with default timings.
func NewCallConfig(localPort int, remoteHost string, remotePort int) CallConfig {
	return CallConfig{
		LocalPort:         localPort,
		RemoteHost:        remoteHost,
		RemotePort:        remotePort,
		FrameInterval:     DefaultFrameInterval,
		ReleaseDelay:      DefaultReleaseDelay,
		JoinTimeout:       DefaultJoinTimeout,
		ReassemblyTimeout: video.DefaultReassemblyTimeout,
		Quality:           video.DefaultQuality,
	}
}

// Validate checks ports and timings.
func (c CallConfig) Validate() error {
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("%w: local port %d", ErrInvalidConfig, c.LocalPort)
	}
	if c.RemotePort <= 0 || c.RemotePort > 65535 {
		return fmt.Errorf("%w: remote port %d", ErrInvalidConfig, c.RemotePort)
	}
	if c.RemoteHost == "" {
		return fmt.Errorf("%w: empty remote host", ErrInvalidConfig)
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("%w: frame interval %v", ErrInvalidConfig, c.FrameInterval)
	}
	return nil
}

// FrameSource tells local previews from remote frames.
type FrameSource uint8

const (
	// FrameLocal is a frame captured from the local camera.
	FrameLocal FrameSource = iota
	// FrameRemote is a frame received from the peer.
	FrameRemote
)

// String returns the source name.
func (s FrameSource) String() string {
	if s == FrameLocal {
		return "local"
	}
	return "remote"
}

// Frame is delivered on Endpoint.Frames.
type Frame struct {
	Source FrameSource
	Image  image.Image
	At     time.Time
}

// Stats counts call activity.
type Stats struct {
	FramesSent     uint64
	DatagramsSent  uint64
	FramesReceived uint64
	DecodeErrors   uint64
	FramesDropped  uint64
}

// Endpoint is one side of a UDP video call: it captures, encodes and sends
// local frames while receiving and decoding the peer's.
type Endpoint struct {
	cfg    CallConfig
	camera Camera
	codec  *video.JPEGCodec

	conn    *net.UDPConn
	remote  *net.UDPAddr
	running atomic.Bool
	done    chan struct{}
	wg      *sync.WaitGroup
	frames  chan Frame
	mu      sync.Mutex

	framesSent     atomic.Uint64
	datagramsSent  atomic.Uint64
	framesReceived atomic.Uint64
	decodeErrors   atomic.Uint64
	framesDropped  atomic.Uint64
}

// NewEndpoint creates an idle endpoint. camera may be nil, in which case
// Start fails with ErrDeviceUnavailable.
func NewEndpoint(cfg CallConfig, camera Camera) *Endpoint {
	return &Endpoint{
		cfg:    cfg,
		camera: camera,
		codec:  video.NewJPEGCodec(cfg.Quality),
		frames: make(chan Frame, frameQueueSize),
	}
}

// Frames returns local and remote frames as they are produced. Frames are
// dropped when the consumer falls behind. The channel is never closed.
func (e *Endpoint) Frames() <-chan Frame {
	return e.frames
}

// IsActive reports whether a call is running.
func (e *Endpoint) IsActive() bool {
	return e.running.Load()
}

// LocalAddr returns the bound UDP address while a call is active.
func (e *Endpoint) LocalAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// Stats returns a snapshot of the counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		FramesSent:     e.framesSent.Load(),
		DatagramsSent:  e.datagramsSent.Load(),
		FramesReceived: e.framesReceived.Load(),
		DecodeErrors:   e.decodeErrors.Load(),
		FramesDropped:  e.framesDropped.Load(),
	}
}

// Start opens the camera and socket and launches the send and receive
// loops. Any failure is returned synchronously and leaves the endpoint idle.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return ErrCallAlreadyActive
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	if e.camera == nil {
		return ErrDeviceUnavailable
	}

	if e.camera.IsOpen() {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"delay":    e.cfg.ReleaseDelay,
		}).Info("Camera left open by a previous call, reopening")
		e.camera.Close()
		time.Sleep(e.cfg.ReleaseDelay)
	}
	if err := e.camera.Open(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"error":    err.Error(),
		}).Error("Failed to open camera")
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(e.cfg.RemoteHost, strconv.Itoa(e.cfg.RemotePort)))
	if err != nil {
		e.camera.Close()
		return fmt.Errorf("resolving remote %s: %w", e.cfg.RemoteHost, err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: e.cfg.LocalPort})
	if err != nil {
		e.camera.Close()
		logrus.WithFields(logrus.Fields{
			"function":   "Start",
			"local_port": e.cfg.LocalPort,
			"error":      err.Error(),
		}).Error("Failed to bind video socket")
		return fmt.Errorf("binding udp port %d: %w", e.cfg.LocalPort, err)
	}

	e.conn = conn
	e.remote = remote
	e.done = make(chan struct{})
	e.running.Store(true)

	// A loop stuck past a previous Stop keeps its own WaitGroup.
	e.wg = &sync.WaitGroup{}
	e.wg.Add(2)
	go e.sendLoop(conn, remote, e.done, e.wg)
	go e.receiveLoop(conn, e.wg)

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"local":    conn.LocalAddr().String(),
		"remote":   remote.String(),
	}).Info("Video call started")
	return nil
}

// Stop ends the call. It waits up to the join timeout for both loops and
// then releases the camera and socket whether or not they exited.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.CompareAndSwap(true, false) {
		return nil
	}

	close(e.done)
	e.conn.Close()

	wg := e.wg
	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(e.cfg.JoinTimeout):
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"timeout":  e.cfg.JoinTimeout,
		}).Warn("Video loops did not exit in time, releasing resources anyway")
	}

	if e.camera.IsOpen() {
		if err := e.camera.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Stop",
				"error":    err.Error(),
			}).Debug("Camera close failed")
		}
	}
	e.conn = nil

	stats := e.Stats()
	logrus.WithFields(logrus.Fields{
		"function":        "Stop",
		"frames_sent":     stats.FramesSent,
		"frames_received": stats.FramesReceived,
		"decode_errors":   stats.DecodeErrors,
	}).Info("Video call stopped")
	return nil
}

func (e *Endpoint) sendLoop(conn *net.UDPConn, remote *net.UDPAddr, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(e.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if !e.running.Load() || !e.camera.IsOpen() {
			continue
		}
		if err := e.sendFrame(conn, remote); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "sendLoop",
				"error":    err.Error(),
			}).Debug("Failed to send frame")
		}
	}
}

func (e *Endpoint) sendFrame(conn *net.UDPConn, remote *net.UDPAddr) error {
	img, err := e.camera.Capture()
	if err != nil {
		return err
	}
	e.emit(Frame{Source: FrameLocal, Image: img, At: time.Now()})

	data, err := e.codec.Encode(img)
	if err != nil {
		return err
	}
	datagrams, err := video.Packetize(data)
	if err != nil {
		return err
	}

	for _, d := range datagrams {
		if err := limits.ValidateDatagram(d); err != nil {
			return err
		}
		if _, err := conn.WriteToUDP(d, remote); err != nil {
			return err
		}
		e.datagramsSent.Add(1)
	}
	e.framesSent.Add(1)
	return nil
}

func (e *Endpoint) receiveLoop(conn *net.UDPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	reassembler := video.NewReassembler(e.cfg.ReassemblyTimeout)
	buf := make([]byte, receiveBufferSize)

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !e.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "receiveLoop",
				"error":    err.Error(),
			}).Warn("Video receive failed")
			continue
		}

		if err := limits.ValidateDatagram(buf[:n]); err != nil {
			e.decodeErrors.Add(1)
			continue
		}

		frame, ok, err := reassembler.Push(buf[:n])
		if err != nil {
			e.decodeErrors.Add(1)
			continue
		}
		if !ok {
			continue
		}

		img, err := e.codec.Decode(frame)
		if err != nil {
			e.decodeErrors.Add(1)
			continue
		}
		e.framesReceived.Add(1)
		e.emit(Frame{Source: FrameRemote, Image: img, At: time.Now()})
	}
}

// emit delivers f without blocking the media loops.
func (e *Endpoint) emit(f Frame) {
	select {
	case e.frames <- f:
	default:
		e.framesDropped.Add(1)
	}
}

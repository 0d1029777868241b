package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Call start errors.
var (
	// ErrDeviceUnavailable indicates no capture device could be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrCallAlreadyActive indicates Start was called on a running endpoint.
	ErrCallAlreadyActive = errors.New("call already active")

	// ErrInvalidConfig indicates an unusable call configuration.
	ErrInvalidConfig = errors.New("invalid call configuration")
)

// Capture errors.
var (
	// ErrCameraClosed indicates a capture on a camera that is not open.
	ErrCameraClosed = errors.New("camera is not open")
)

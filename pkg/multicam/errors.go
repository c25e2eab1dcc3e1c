package multicam

import "errors"

// Sentinel errors for common conditions.
var (
	// ErrCameraNotFound is returned for camera ids not in the registry.
	ErrCameraNotFound = errors.New("multicam: camera not found")

	// ErrNoActiveCameras is returned when an operation needs a streaming camera.
	ErrNoActiveCameras = errors.New("multicam: no active cameras")

	// ErrNoFrames is returned when no active camera has published a frame yet.
	ErrNoFrames = errors.New("multicam: no frames available")

	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("multicam: orchestrator shut down")
)

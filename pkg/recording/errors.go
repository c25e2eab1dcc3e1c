package recording

import "errors"

// Sentinel errors for common conditions.
var (
	// ErrNotFound is returned for unknown or already stopped recording ids.
	ErrNotFound = errors.New("recording: not found")

	// ErrAlreadyRecording is returned when the id is already in use.
	ErrAlreadyRecording = errors.New("recording: id already recording")

	// ErrNoSampleFrame is returned when Start has no frame to size the video from.
	ErrNoSampleFrame = errors.New("recording: no sample frame available")
)

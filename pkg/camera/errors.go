package camera

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrAcquireFailed is matched by every AcquireError.
	ErrAcquireFailed = errors.New("camera: acquisition failed")

	// ErrAttemptTimeout is returned when a single strategy does not finish in time.
	ErrAttemptTimeout = errors.New("camera: attempt timed out")

	// ErrNoFrame is returned when a source opens but yields no frame.
	ErrNoFrame = errors.New("camera: no frame")

	// ErrNotOpened is returned when the backend refuses the source.
	ErrNotOpened = errors.New("camera: source not opened")

	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("camera: capture closed")

	// ErrSourceInUse is returned when a source already has a live handle.
	ErrSourceInUse = errors.New("camera: source in use")

	// ErrInvalidSource is returned for unparseable sources.
	ErrInvalidSource = errors.New("camera: invalid source")
)

// StrategyError wraps an error with the strategy that produced it.
type StrategyError struct {
	Strategy string
	Err      error
}

// Error implements the error interface.
func (e *StrategyError) Error() string {
	return fmt.Sprintf("camera [%s]: %v", e.Strategy, e.Err)
}

// Unwrap returns the underlying error.
func (e *StrategyError) Unwrap() error {
	return e.Err
}

// AcquireError aggregates the errors of every strategy tried for a source.
type AcquireError struct {
	Source Source
	Errors []error
}

// Error implements the error interface.
func (e *AcquireError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("camera %s: acquisition failed, no strategy attempted", e.Source)
	}
	return fmt.Sprintf("camera %s: all %d strategies failed, last error: %v",
		e.Source, len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Is reports ErrAcquireFailed.
func (e *AcquireError) Is(target error) bool {
	return target == ErrAcquireFailed
}

// Unwrap returns the last error in the ladder.
func (e *AcquireError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

package camera

import "github.com/teslashibe/go-attention/pkg/vision"

// Capture is an open frame source.
type Capture interface {
	// Read blocks until the next frame is available.
	Read() (vision.Frame, error)

	// Configure requests the target geometry. Devices may ignore it.
	Configure(t Target) error

	// Close releases the device. It must be safe to call more than once and
	// concurrently with a blocked Read, which then returns an error.
	Close() error
}

// Opener opens a source with a specific backend.
type Opener interface {
	Open(src Source, backend Backend) (Capture, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(src Source, backend Backend) (Capture, error)

// Open calls f.
func (f OpenerFunc) Open(src Source, backend Backend) (Capture, error) {
	return f(src, backend)
}

package camera

import (
	"sync"
	"time"

	"github.com/teslashibe/go-attention/pkg/vision"
)

// MockCapture implements Capture for testing.
type MockCapture struct {
	// ReadFunc is called when Read is invoked on an open mock.
	ReadFunc func() (vision.Frame, error)

	// ConfigureFunc is called when Configure is invoked.
	ConfigureFunc func(t Target) error

	// CloseFunc is called on the first Close.
	CloseFunc func() error

	// FrameDelay makes the default Read block this long per frame.
	// Close interrupts the wait.
	FrameDelay time.Duration

	// Frame is returned by the default Read.
	Frame vision.Frame

	mu        sync.Mutex
	reads     int
	target    *Target
	closeOnce sync.Once
	initOnce  sync.Once
	closed    chan struct{}
}

// NewMockCapture creates an open mock that yields 64x48 frames.
func NewMockCapture() *MockCapture {
	return &MockCapture{
		Frame:  vision.NewFrame(64, 48),
		closed: make(chan struct{}),
	}
}

// Read returns the next frame, or ErrClosed once closed.
func (m *MockCapture) Read() (vision.Frame, error) {
	if m.IsClosed() {
		return vision.Frame{}, ErrClosed
	}

	m.mu.Lock()
	m.reads++
	m.mu.Unlock()

	if m.FrameDelay > 0 {
		select {
		case <-time.After(m.FrameDelay):
		case <-m.done():
			return vision.Frame{}, ErrClosed
		}
	}

	if m.ReadFunc != nil {
		return m.ReadFunc()
	}
	return m.Frame.Clone(), nil
}

// Configure records the target and calls ConfigureFunc.
func (m *MockCapture) Configure(t Target) error {
	m.mu.Lock()
	m.target = &t
	m.mu.Unlock()
	if m.ConfigureFunc != nil {
		return m.ConfigureFunc(t)
	}
	return nil
}

// Close marks the mock closed. Only the first call reaches CloseFunc.
func (m *MockCapture) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done())
		if m.CloseFunc != nil {
			err = m.CloseFunc()
		}
	})
	return err
}

func (m *MockCapture) done() chan struct{} {
	m.initOnce.Do(func() {
		if m.closed == nil {
			m.closed = make(chan struct{})
		}
	})
	return m.closed
}

// IsClosed reports whether Close has been called.
func (m *MockCapture) IsClosed() bool {
	select {
	case <-m.done():
		return true
	default:
		return false
	}
}

// Reads returns the number of Read calls made while open.
func (m *MockCapture) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Target returns the last configured target, or nil.
func (m *MockCapture) Target() *Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// MockOpener implements Opener for testing.
type MockOpener struct {
	// OpenFunc is called when Open is invoked. Default returns a new MockCapture.
	OpenFunc func(src Source, backend Backend) (Capture, error)

	mu    sync.Mutex
	calls []Backend
}

// Open calls OpenFunc and records the backend tried.
func (o *MockOpener) Open(src Source, backend Backend) (Capture, error) {
	o.mu.Lock()
	o.calls = append(o.calls, backend)
	o.mu.Unlock()

	if o.OpenFunc != nil {
		return o.OpenFunc(src, backend)
	}
	return NewMockCapture(), nil
}

// Calls returns the backends tried, in order.
func (o *MockOpener) Calls() []Backend {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := make([]Backend, len(o.calls))
	copy(result, o.calls)
	return result
}

package opencv

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-attention/pkg/camera"
	"github.com/teslashibe/go-attention/pkg/vision"
	"gocv.io/x/gocv"
)

var backends = map[camera.Backend]gocv.VideoCaptureAPI{
	camera.BackendAny:          gocv.VideoCaptureAny,
	camera.BackendV4L2:         gocv.VideoCaptureV4L2,
	camera.BackendGStreamer:    gocv.VideoCaptureGstreamer,
	camera.BackendDShow:        gocv.VideoCaptureDshow,
	camera.BackendMSMF:         gocv.VideoCaptureMSMF,
	camera.BackendAVFoundation: gocv.VideoCaptureAVFoundation,
	camera.BackendFFmpeg:       gocv.VideoCaptureFFmpeg,
}

// Opener opens gocv video captures. It implements camera.Opener.
type Opener struct{}

// Open opens src with the given backend. The default backend lets OpenCV
// pick without an API hint.
func (Opener) Open(src camera.Source, backend camera.Backend) (camera.Capture, error) {
	var device interface{} = src.Device
	if src.URI != "" {
		device = src.URI
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if backend == camera.BackendDefault {
		vc, err = gocv.OpenVideoCapture(device)
	} else {
		api, ok := backends[backend]
		if !ok {
			return nil, fmt.Errorf("opencv: unknown backend %q", backend)
		}
		vc, err = gocv.OpenVideoCaptureWithAPI(device, api)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrNotOpened, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, camera.ErrNotOpened
	}

	// Minimal buffer keeps live sources close to real time
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	return &Capture{vc: vc, mat: gocv.NewMat()}, nil
}

// Capture wraps a gocv.VideoCapture. Close never blocks: if a Read is in
// flight the device is released by that Read when it returns.
type Capture struct {
	mu      sync.Mutex // held by Read, Configure and release
	vc      *gocv.VideoCapture
	mat     gocv.Mat
	closed  atomic.Bool
	release sync.Once
}

// Read blocks for the next frame and returns a BGR copy of it.
func (c *Capture) Read() (vision.Frame, error) {
	if c.closed.Load() {
		return vision.Frame{}, camera.ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		c.releaseLocked()
		return vision.Frame{}, camera.ErrClosed
	}

	ok := c.vc.Read(&c.mat)

	if c.closed.Load() {
		c.releaseLocked()
		return vision.Frame{}, camera.ErrClosed
	}
	if !ok || c.mat.Empty() {
		return vision.Frame{}, camera.ErrNoFrame
	}
	return MatToFrame(c.mat)
}

// Configure requests width, height and fps from the device.
func (c *Capture) Configure(t camera.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return camera.ErrClosed
	}
	c.vc.Set(gocv.VideoCaptureFrameWidth, float64(t.Width))
	c.vc.Set(gocv.VideoCaptureFrameHeight, float64(t.Height))
	c.vc.Set(gocv.VideoCaptureFPS, float64(t.FPS))
	return nil
}

// Close marks the capture closed and releases it unless a Read holds it.
func (c *Capture) Close() error {
	c.closed.Store(true)
	if c.mu.TryLock() {
		c.releaseLocked()
		c.mu.Unlock()
	}
	return nil
}

func (c *Capture) releaseLocked() {
	c.release.Do(func() {
		c.vc.Close()
		c.mat.Close()
	})
}

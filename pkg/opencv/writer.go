package opencv

import (
	"fmt"
	"image"
	"sync"

	"github.com/teslashibe/go-attention/pkg/vision"
	"gocv.io/x/gocv"
)

// Codec used for recordings.
const Codec = "MJPG"

// Writer appends frames to a video file. Frames of a different size are
// resized to the writer's size, since composites change width as cameras
// come and go.
type Writer struct {
	mu     sync.Mutex
	vw     *gocv.VideoWriter
	width  int
	height int
	closed bool
}

// OpenWriter creates the video file at path.
func OpenWriter(path string, fps float64, width, height int) (*Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("opencv: invalid writer size %dx%d", width, height)
	}
	vw, err := gocv.VideoWriterFile(path, Codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("opencv: open writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("opencv: writer %s not opened", path)
	}
	return &Writer{vw: vw, width: width, height: height}, nil
}

// Write appends one frame.
func (w *Writer) Write(f vision.Frame) error {
	img, err := FrameToMat(f)
	if err != nil {
		return err
	}
	defer img.Close()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("opencv: writer closed")
	}

	if img.Cols() != w.width || img.Rows() != w.height {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(img, &resized, image.Pt(w.width, w.height), 0, 0, gocv.InterpolationLinear)
		return w.vw.Write(resized)
	}
	return w.vw.Write(img)
}

// Close finalizes the file. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.vw.Close()
}

// Package opencv adapts gocv to the pipeline's frame contract: capture
// devices, video writers, overlay rendering, compositing and JPEG encoding.
package opencv

import (
	"fmt"

	"github.com/teslashibe/go-attention/pkg/vision"
	"gocv.io/x/gocv"
)

// FrameToMat copies a BGR frame into a new CV_8UC3 mat. On success the caller
// owns the returned mat and must Close it.
func FrameToMat(f vision.Frame) (gocv.Mat, error) {
	if f.Empty() {
		return gocv.Mat{}, fmt.Errorf("opencv: empty frame")
	}
	if err := f.Validate(); err != nil {
		return gocv.Mat{}, err
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
}

// MatToFrame copies a mat into a BGR frame, converting grayscale and BGRA
// sources on the way.
func MatToFrame(m gocv.Mat) (vision.Frame, error) {
	if m.Empty() {
		return vision.Frame{}, fmt.Errorf("opencv: empty mat")
	}

	src := m
	switch m.Channels() {
	case 3:
	case 1:
		conv := gocv.NewMat()
		defer conv.Close()
		gocv.CvtColor(m, &conv, gocv.ColorGrayToBGR)
		src = conv
	case 4:
		conv := gocv.NewMat()
		defer conv.Close()
		gocv.CvtColor(m, &conv, gocv.ColorBGRAToBGR)
		src = conv
	default:
		return vision.Frame{}, fmt.Errorf("opencv: unsupported channel count %d", m.Channels())
	}

	if src.Type() != gocv.MatTypeCV8UC3 {
		conv := gocv.NewMat()
		defer conv.Close()
		src.ConvertTo(&conv, gocv.MatTypeCV8UC3)
		src = conv
	}

	return vision.Frame{
		Width:  src.Cols(),
		Height: src.Rows(),
		Data:   src.ToBytes(),
	}, nil
}

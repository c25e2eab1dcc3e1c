package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-attention/pkg/opencv"
	"github.com/teslashibe/go-attention/pkg/pose"
	"github.com/teslashibe/go-attention/pkg/vision"
	"gocv.io/x/gocv"
)

// YuNetDetector uses OpenCV's FaceDetectorYN for faces and their landmarks
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	config   Config
	mu       sync.Mutex // Protects inference
}

// NewYuNet creates a new YuNet face detector using GoCV's built-in FaceDetectorYN
func NewYuNet(cfg Config) (*YuNetDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yunet model %s: %w", cfg.ModelPath, err)
	}

	// Input size is reset per crop
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ConfidenceThresh),
		0.3,  // NMS threshold
		5000, // Top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNetDetector{
		detector: detector,
		config:   cfg,
	}, nil
}

// Detect finds faces in a frame (usually a person crop)
func (d *YuNetDetector) Detect(frame vision.Frame) ([]Face, error) {
	img, err := opencv.FrameToMat(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()

	d.detector.Detect(img, &faces)

	out := make([]Face, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		out = append(out, faceFromRow(func(c int) float64 { return float64(faces.GetFloatAt(r, c)) }))
	}
	return out, nil
}

// faceFromRow decodes one FaceDetectorYN row: box x, y, w, h, then five
// landmark points (right eye, left eye, nose, right and left mouth corners),
// then the score.
func faceFromRow(at func(col int) float64) Face {
	pt := func(col int) pose.Point { return pose.Point{X: at(col), Y: at(col + 1)} }
	x, y := at(0), at(1)
	return Face{
		Box: vision.Box{X1: x, Y1: y, X2: x + at(2), Y2: y + at(3)},
		Landmarks: pose.Landmarks{
			RightEye:   pt(4),
			LeftEye:    pt(6),
			Nose:       pt(8),
			RightMouth: pt(10),
			LeftMouth:  pt(12),
		},
		Confidence: at(14),
	}
}

// Landmarks returns the landmarks of the best face in the crop, or nil when
// no face is found.
func (d *YuNetDetector) Landmarks(crop vision.Frame) (*pose.Landmarks, error) {
	faces, err := d.Detect(crop)
	if err != nil {
		return nil, err
	}
	best := SelectBest(faces)
	if best == nil {
		return nil, nil
	}
	lm := best.Landmarks
	return &lm, nil
}

// Close releases the detector resources
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}

// FacePose is the pose adapter: YuNet for landmarks, geometry for angles.
type FacePose struct {
	*YuNetDetector
	*pose.Estimator
}

// NewFacePose loads YuNet and pairs it with a landmark-geometry estimator.
func NewFacePose(cfg Config, poseCfg pose.Config) (*FacePose, error) {
	yn, err := NewYuNet(cfg)
	if err != nil {
		return nil, err
	}
	return &FacePose{
		YuNetDetector: yn,
		Estimator:     pose.NewEstimator(poseCfg),
	}, nil
}

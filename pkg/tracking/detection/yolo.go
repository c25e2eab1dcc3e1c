package detection

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-attention/pkg/opencv"
	"github.com/teslashibe/go-attention/pkg/vision"
	"gocv.io/x/gocv"
)

// YOLOv8 output layout: per anchor, 4 box values then one score per COCO class.
const (
	boxValues   = 4
	cocoClasses = 80
	personClass = 0
)

// YOLOConfig holds YOLO detector configuration
type YOLOConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultYOLOConfig returns defaults for the nano model at 640x640.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.4,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// YOLODetector finds people with a YOLOv8 ONNX model. The network is not
// safe for concurrent use, so inference is serialized.
type YOLODetector struct {
	mu     sync.Mutex
	net    gocv.Net
	config YOLOConfig
}

// NewYOLO loads the model at cfg.ModelPath.
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yolo model %s: %w", cfg.ModelPath, err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("yolo model %s: unreadable", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{net: net, config: cfg}, nil
}

// SetConfidence changes the score threshold used for subsequent frames.
func (d *YOLODetector) SetConfidence(thresh float32) {
	d.mu.Lock()
	d.config.ConfidenceThresh = thresh
	d.mu.Unlock()
}

// Detect finds people in the frame. Boxes are in frame pixel coordinates.
func (d *YOLODetector) Detect(frame vision.Frame) ([]vision.Detection, error) {
	img, err := opencv.FrameToMat(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	input := image.Pt(d.config.InputWidth, d.config.InputHeight)
	blob := gocv.BlobFromImage(img, 1.0/255.0, input, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read yolo output: %w", err)
	}

	scale := scaler{
		sx: float32(frame.Width) / float32(d.config.InputWidth),
		sy: float32(frame.Height) / float32(d.config.InputHeight),
	}
	cands, err := decodePersons(data, out.Cols(), d.config.ConfidenceThresh, scale)
	if err != nil || len(cands) == 0 {
		return nil, err
	}
	return d.suppress(cands, frame.Width, frame.Height), nil
}

type scaler struct{ sx, sy float32 }

type candidate struct {
	rect  image.Rectangle
	score float32
}

var errOutputShape = errors.New("unexpected yolo output shape")

// decodePersons reads a channel-major [84 x anchors] tensor and keeps anchors
// whose best class is person with a score of at least thresh.
func decodePersons(data []float32, anchors int, thresh float32, s scaler) ([]candidate, error) {
	if anchors <= 0 || len(data) < (boxValues+cocoClasses)*anchors {
		return nil, errOutputShape
	}
	at := func(ch, i int) float32 { return data[ch*anchors+i] }

	var out []candidate
	for i := 0; i < anchors; i++ {
		score := at(boxValues+personClass, i)
		if score < thresh || !argmaxIsPerson(at, i, score) {
			continue
		}
		cx, cy := at(0, i), at(1, i)
		hw, hh := at(2, i)/2, at(3, i)/2
		out = append(out, candidate{
			rect: image.Rect(
				int((cx-hw)*s.sx), int((cy-hh)*s.sy),
				int((cx+hw)*s.sx), int((cy+hh)*s.sy),
			),
			score: score,
		})
	}
	return out, nil
}

func argmaxIsPerson(at func(ch, i int) float32, i int, person float32) bool {
	for c := personClass + 1; c < cocoClasses; c++ {
		if at(boxValues+c, i) > person {
			return false
		}
	}
	return true
}

// suppress runs NMS and clips survivors to the frame.
func (d *YOLODetector) suppress(cands []candidate, width, height int) []vision.Detection {
	rects := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		rects[i], scores[i] = c.rect, c.score
	}
	keep := gocv.NMSBoxes(rects, scores, d.config.ConfidenceThresh, d.config.NMSThresh)

	bounds := image.Rect(0, 0, width, height)
	dets := make([]vision.Detection, 0, len(keep))
	for _, k := range keep {
		r := rects[k].Intersect(bounds)
		if r.Empty() {
			continue
		}
		dets = append(dets, vision.Detection{
			Box: vision.Box{
				X1: float64(r.Min.X), Y1: float64(r.Min.Y),
				X2: float64(r.Max.X), Y2: float64(r.Max.Y),
			},
			Confidence: float64(scores[k]),
			Status:     vision.NotAttending,
		})
	}
	return dets
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

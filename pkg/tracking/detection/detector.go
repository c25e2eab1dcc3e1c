// Package detection provides person and face detection using OpenCV DNN models
package detection

import (
	"github.com/teslashibe/go-attention/pkg/pose"
	"github.com/teslashibe/go-attention/pkg/vision"
)

// Face is one face found inside a person crop, in crop pixel coordinates.
type Face struct {
	Box        vision.Box
	Landmarks  pose.Landmarks
	Confidence float64
}

// Config holds face detector configuration
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum confidence (default 0.5)
	InputWidth       int     // Model input width
	InputHeight      int     // Model input height
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// SelectBest picks the face that most likely belongs to the person crop.
// Priority: confidence * 0.7 + relative area * 0.3
func SelectBest(faces []Face) *Face {
	if len(faces) == 0 {
		return nil
	}

	if len(faces) == 1 {
		return &faces[0]
	}

	maxArea := 0.0
	for _, f := range faces {
		if f.Box.Area() > maxArea {
			maxArea = f.Box.Area()
		}
	}
	if maxArea == 0 {
		maxArea = 1
	}

	bestScore := -1.0
	var best *Face

	for i := range faces {
		score := faces[i].Confidence*0.7 + (faces[i].Box.Area()/maxArea)*0.3
		if score > bestScore {
			bestScore = score
			best = &faces[i]
		}
	}

	return best
}

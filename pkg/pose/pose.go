// Package pose estimates head yaw and pitch from five facial landmarks.
package pose

import (
	"math"
)

// Point is a landmark position in crop pixel coordinates.
type Point struct {
	X, Y float64
}

// Landmarks are the five points produced by YuNet-style face detectors.
// "Right" and "left" are from the subject's point of view, so RightEye is
// normally on the left side of the image.
type Landmarks struct {
	RightEye   Point
	LeftEye    Point
	Nose       Point
	RightMouth Point
	LeftMouth  Point
}

// Config holds the geometric calibration for the estimator.
type Config struct {
	// NeutralNoseRatio is where the nose tip sits between the eye line (0)
	// and the mouth line (1) for a level head.
	NeutralNoseRatio float64

	// PitchGain converts nose-ratio deviation into degrees.
	PitchGain float64
}

// DefaultConfig returns calibration that works for typical webcam framing
func DefaultConfig() Config {
	return Config{
		NeutralNoseRatio: 0.5,
		PitchGain:        180,
	}
}

// Estimator converts landmarks to angles.
type Estimator struct {
	config Config
}

// NewEstimator creates an estimator.
func NewEstimator(config Config) *Estimator {
	return &Estimator{config: config}
}

// Pose returns yaw and pitch in degrees. Positive yaw turns toward image
// right, positive pitch looks up. ok is false when the landmarks are
// degenerate or fall outside the crop.
func (e *Estimator) Pose(lm Landmarks, width, height int) (yaw, pitch float64, ok bool) {
	for _, p := range []Point{lm.RightEye, lm.LeftEye, lm.Nose, lm.RightMouth, lm.LeftMouth} {
		if p.X < 0 || p.Y < 0 || p.X > float64(width) || p.Y > float64(height) {
			return 0, 0, false
		}
	}

	eyeMid := Point{(lm.RightEye.X + lm.LeftEye.X) / 2, (lm.RightEye.Y + lm.LeftEye.Y) / 2}
	mouthMid := Point{(lm.RightMouth.X + lm.LeftMouth.X) / 2, (lm.RightMouth.Y + lm.LeftMouth.Y) / 2}

	halfEyes := math.Hypot(lm.LeftEye.X-lm.RightEye.X, lm.LeftEye.Y-lm.RightEye.Y) / 2
	faceHeight := mouthMid.Y - eyeMid.Y
	if halfEyes < 1e-6 || faceHeight < 1e-6 {
		return 0, 0, false
	}

	// Nose offset from the eye midpoint, in half-interocular units
	r := clamp((lm.Nose.X-eyeMid.X)/halfEyes, -1, 1)
	yaw = math.Asin(r) * 180 / math.Pi

	t := (lm.Nose.Y - eyeMid.Y) / faceHeight
	pitch = clamp((e.config.NeutralNoseRatio-t)*e.config.PitchGain, -90, 90)

	return yaw, pitch, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

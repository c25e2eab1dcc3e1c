package vision

import (
	"image"
	"math"
)

// Box is an axis-aligned bounding box in pixel coordinates (x1,y1)-(x2,y2).
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width, or 0 for a degenerate box.
func (b Box) Width() float64 {
	return math.Max(0, b.X2-b.X1)
}

// Height returns the box height, or 0 for a degenerate box.
func (b Box) Height() float64 {
	return math.Max(0, b.Y2-b.Y1)
}

// Area returns the area of the bounding box
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the center point of the box
func (b Box) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Rect converts to an integer rectangle, rounding outward.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)),
	)
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func (b Box) IoU(o Box) float64 {
	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)

	inter := math.Max(0, ix2-ix1) * math.Max(0, iy2-iy1)
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

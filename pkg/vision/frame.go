// Package vision holds the data model shared by every stage of the attention
// pipeline: raw frames, bounding boxes, and per-frame detections.
package vision

import (
	"errors"
	"image"
)

// Channels is the number of interleaved bytes per pixel (B, G, R).
const Channels = 3

// ErrFrameSize is returned when a frame's buffer does not match its dimensions.
var ErrFrameSize = errors.New("vision: frame buffer does not match dimensions")

// Frame is a packed 8-bit BGR raster, row-major, with stride Width*Channels.
// This is the layout OpenCV uses for CV_8UC3 mats, so frames cross the
// capture, render and recording boundaries without conversion.
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// NewFrame allocates a black frame of the given size.
func NewFrame(width, height int) Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return Frame{
		Width:  width,
		Height: height,
		Data:   make([]byte, width*height*Channels),
	}
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0
}

// Validate checks the buffer length against the dimensions.
func (f Frame) Validate() error {
	if len(f.Data) != f.Width*f.Height*Channels {
		return ErrFrameSize
	}
	return nil
}

// Clone returns a deep copy. Frames published to readers are always clones
// so the producer can keep reusing its own buffer.
func (f Frame) Clone() Frame {
	if f.Data == nil {
		return Frame{Width: f.Width, Height: f.Height}
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return Frame{Width: f.Width, Height: f.Height, Data: data}
}

// Bounds returns the frame rectangle.
func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Crop copies the region of b that lies inside the frame. An empty frame is
// returned when the box does not overlap the frame.
func (f Frame) Crop(b Box) Frame {
	r := b.Rect().Intersect(f.Bounds())
	if r.Empty() || f.Empty() {
		return Frame{}
	}
	out := NewFrame(r.Dx(), r.Dy())
	rowBytes := r.Dx() * Channels
	for y := 0; y < r.Dy(); y++ {
		src := ((r.Min.Y+y)*f.Width + r.Min.X) * Channels
		copy(out.Data[y*rowBytes:(y+1)*rowBytes], f.Data[src:src+rowBytes])
	}
	return out
}

package opencv

import (
	"fmt"
	"image"
	"image/color"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/vision"
	"gocv.io/x/gocv"
)

var (
	green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	red    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	white  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// BandColor returns the overlay color for an attention band.
func BandColor(b vision.Band) color.RGBA {
	switch b {
	case vision.Attending:
		return green
	case vision.PartiallyAttending:
		return yellow
	default:
		return red
	}
}

// CompositeHeight is the common tile height of a composite frame.
const CompositeHeight = 480

const statsBarHeight = 40

// Renderer draws detection overlays, builds multi-camera composites and
// encodes JPEG. The zero value is ready to use.
type Renderer struct {
	// Quality is the JPEG quality (1-100). Zero means 80.
	Quality int
}

// Annotate returns a copy of frame with boxes, labels and gaze arrows drawn
// for each detection plus a counts line at the top.
func (r Renderer) Annotate(frame vision.Frame, dets []vision.Detection, counts attention.Counts) (vision.Frame, error) {
	img, err := FrameToMat(frame)
	if err != nil {
		return vision.Frame{}, err
	}
	defer img.Close()

	for _, d := range dets {
		c := BandColor(d.Status)
		rect := d.Box.Rect()
		gocv.Rectangle(&img, rect, c, 2)

		label := fmt.Sprintf("ID %d: %s (%.2f)", d.ID, d.Status, d.AttentionConfidence)
		if d.ID == 0 {
			label = fmt.Sprintf("%s (%.2f)", d.Status, d.AttentionConfidence)
		}
		gocv.PutText(&img, label, image.Pt(rect.Min.X, max(rect.Min.Y-8, 12)), gocv.FontHersheySimplex, 0.5, c, 1)

		if d.HasPose {
			pose := fmt.Sprintf("yaw %.0f pitch %.0f", d.Yaw, d.Pitch)
			gocv.PutText(&img, pose, image.Pt(rect.Min.X, rect.Max.Y+16), gocv.FontHersheySimplex, 0.45, c, 1)
		}

		if d.Direction != nil {
			cx, cy := d.Box.Center()
			length := d.Box.Width() / 2
			start := image.Pt(int(cx), int(cy))
			end := image.Pt(int(cx+d.Direction.DX*length), int(cy+d.Direction.DY*length))
			gocv.ArrowedLine(&img, start, end, c, 2)
		}
	}

	gocv.PutText(&img, countsLine(counts), image.Pt(10, 24), gocv.FontHersheySimplex, 0.6, white, 2)

	return MatToFrame(img)
}

// Compose resizes each frame to CompositeHeight, labels it "Camera <id>",
// concatenates the tiles left to right and appends a stats bar with the
// aggregated counts. ids and frames are parallel.
func (r Renderer) Compose(ids []int, frames []vision.Frame, counts attention.Counts) (vision.Frame, error) {
	if len(ids) != len(frames) {
		return vision.Frame{}, fmt.Errorf("opencv: %d ids for %d frames", len(ids), len(frames))
	}
	if len(frames) == 0 {
		return vision.Frame{}, fmt.Errorf("opencv: nothing to compose")
	}

	var row gocv.Mat
	for i, f := range frames {
		tile, err := r.tile(ids[i], f)
		if err != nil {
			if i > 0 {
				row.Close()
			}
			return vision.Frame{}, fmt.Errorf("camera %d: %w", ids[i], err)
		}
		if i == 0 {
			row = tile
			continue
		}
		joined := gocv.NewMat()
		gocv.Hconcat(row, tile, &joined)
		row.Close()
		tile.Close()
		row = joined
	}
	defer row.Close()

	bar := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), statsBarHeight, row.Cols(), gocv.MatTypeCV8UC3)
	defer bar.Close()
	gocv.PutText(&bar, countsLine(counts), image.Pt(10, 27), gocv.FontHersheySimplex, 0.6, white, 2)

	out := gocv.NewMat()
	defer out.Close()
	gocv.Vconcat(row, bar, &out)

	return MatToFrame(out)
}

func (r Renderer) tile(id int, f vision.Frame) (gocv.Mat, error) {
	img, err := FrameToMat(f)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer img.Close()

	width := f.Width * CompositeHeight / f.Height
	if width < 1 {
		width = 1
	}
	tile := gocv.NewMat()
	gocv.Resize(img, &tile, image.Pt(width, CompositeHeight), 0, 0, gocv.InterpolationLinear)

	label := fmt.Sprintf("Camera %d", id)
	gocv.Rectangle(&tile, image.Rect(0, 0, 130, 32), black, -1)
	gocv.PutText(&tile, label, image.Pt(8, 22), gocv.FontHersheySimplex, 0.7, white, 2)
	return tile, nil
}

// EncodeJPEG encodes the frame at the renderer's quality.
func (r Renderer) EncodeJPEG(f vision.Frame) ([]byte, error) {
	img, err := FrameToMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	quality := r.Quality
	if quality <= 0 || quality > 100 {
		quality = 80
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("opencv: encode jpeg: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory freed by Close
	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func countsLine(c attention.Counts) string {
	return fmt.Sprintf("Attending: %d  Partial: %d  Not attending: %d  Total: %d",
		c.Attending, c.PartiallyAttending, c.NotAttending, c.Total)
}

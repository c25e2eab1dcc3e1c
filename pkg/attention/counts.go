package attention

import "github.com/teslashibe/go-attention/pkg/vision"

// Counts is the number of people per attention band in one frame, or summed
// across cameras.
type Counts struct {
	Attending          int `json:"attending"`
	PartiallyAttending int `json:"partially_attending"`
	NotAttending       int `json:"not_attending"`
	Total              int `json:"total"`
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Attending:          c.Attending + o.Attending,
		PartiallyAttending: c.PartiallyAttending + o.PartiallyAttending,
		NotAttending:       c.NotAttending + o.NotAttending,
		Total:              c.Total + o.Total,
	}
}

// AttendingRatio is the share of people fully attending, or 0 for an empty frame.
func (c Counts) AttendingRatio() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Attending) / float64(c.Total)
}

// Count tallies detections by status.
func Count(dets []vision.Detection) Counts {
	var c Counts
	for _, d := range dets {
		switch d.Status {
		case vision.Attending:
			c.Attending++
		case vision.PartiallyAttending:
			c.PartiallyAttending++
		default:
			c.NotAttending++
		}
		c.Total++
	}
	return c
}

package vision

// Band is an attention band derived from head yaw and pitch.
type Band string

const (
	// Attending means both angles are within their thresholds (green).
	Attending Band = "attending"
	// PartiallyAttending means exactly one angle is out of range (yellow).
	PartiallyAttending Band = "partially_attending"
	// NotAttending means both angles are out of range, or no face was found (red).
	NotAttending Band = "not_attending"
)

// Color returns the overlay color name conventionally used for the band.
func (b Band) Color() string {
	switch b {
	case Attending:
		return "green"
	case PartiallyAttending:
		return "yellow"
	default:
		return "red"
	}
}

// Vector is a 2D direction in image space (+X right, +Y down).
type Vector struct {
	DX, DY float64
}

// Detection is one person found in one frame. It is created by the detector
// stage, enriched by the tracker and the attention classifier, and dropped
// once the frame is published.
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`

	// ID is the persistent identity assigned by the tracker; 0 means unassigned.
	ID int `json:"id,omitempty"`

	Yaw     float64 `json:"yaw"`
	Pitch   float64 `json:"pitch"`
	HasPose bool    `json:"has_pose"`

	Direction           *Vector `json:"direction,omitempty"`
	Status              Band    `json:"status"`
	AttentionConfidence float64 `json:"attention_confidence"`
}

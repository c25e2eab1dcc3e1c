package attention

// Config holds the attention classification parameters.
type Config struct {
	// Angle thresholds in degrees. A head within both is attending.
	YawThreshold   float64 `json:"yaw_threshold"`
	PitchThreshold float64 `json:"pitch_threshold"`

	// HistorySize is how many recent poses are averaged per identity.
	HistorySize int `json:"history_size"`

	// SmoothingAlpha selects exponential smoothing when > 0 (weight of the
	// newest sample). Zero means a plain mean over the history window.
	SmoothingAlpha float64 `json:"smoothing_alpha"`

	// ConfirmFrames is the number of consecutive frames a new band must be
	// observed before it replaces the committed band.
	ConfirmFrames int `json:"confirm_frames"`
}

// DefaultConfig returns the thresholds used in classroom deployments
func DefaultConfig() Config {
	return Config{
		YawThreshold:   25,
		PitchThreshold: 20,
		HistorySize:    5,
		SmoothingAlpha: 0,
		ConfirmFrames:  3,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string
	if c.YawThreshold <= 0 || c.YawThreshold > 90 {
		errors = append(errors, "yaw_threshold must be between 0 and 90 degrees")
	}
	if c.PitchThreshold <= 0 || c.PitchThreshold > 90 {
		errors = append(errors, "pitch_threshold must be between 0 and 90 degrees")
	}
	if c.HistorySize < 1 {
		errors = append(errors, "history_size must be at least 1")
	}
	if c.SmoothingAlpha < 0 || c.SmoothingAlpha > 1 {
		errors = append(errors, "smoothing_alpha must be between 0 and 1")
	}
	if c.ConfirmFrames < 1 {
		errors = append(errors, "confirm_frames must be at least 1")
	}
	return errors
}

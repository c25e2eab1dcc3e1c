package tracking

// Config holds all tunable parameters for identity tracking
type Config struct {
	// IoUThreshold is the minimum overlap for a detection to inherit a
	// track's identity.
	IoUThreshold float64 `json:"iou_threshold"`

	// DisappearFrames is the number of consecutive unmatched frames after
	// which a track is retired. The track is removed on the frame its miss
	// count reaches this value.
	DisappearFrames int `json:"disappear_frames"`
}

// DefaultConfig returns the recommended configuration for classroom-sized scenes
func DefaultConfig() Config {
	return Config{
		IoUThreshold:    0.3,
		DisappearFrames: 10,
	}
}

// StickyConfig keeps identities alive longer, for low frame rates where
// people can vanish behind each other for a second or two.
func StickyConfig() Config {
	cfg := DefaultConfig()
	cfg.IoUThreshold = 0.2
	cfg.DisappearFrames = 30
	return cfg
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		errors = append(errors, "iou_threshold must be in (0, 1]")
	}
	if c.DisappearFrames < 1 {
		errors = append(errors, "disappear_frames must be at least 1")
	}
	return errors
}

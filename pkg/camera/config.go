// Package camera opens capture sources for the attention pipeline.
// Opening a device goes through a ladder of backend strategies, each bounded
// by its own timeout, because drivers can hang indefinitely on open.
package camera

import "fmt"

// Target is the requested stream geometry applied after a capture opens.
// Devices may ignore it; frames carry their real dimensions.
type Target struct {
	Width  int `json:"width"`  // Frame width in pixels
	Height int `json:"height"` // Frame height in pixels
	FPS    int `json:"fps"`    // Target frames per second
}

// Limits accepted by Validate
const (
	MinWidth  = 160
	MinHeight = 120
	MaxWidth  = 3840
	MaxHeight = 2160
	MaxFPS    = 120
)

// DefaultTarget returns the stream geometry used when none is requested.
func DefaultTarget() Target {
	return Target{
		Width:  640,
		Height: 480,
		FPS:    20,
	}
}

// Validate checks if the target values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (t *Target) Validate() []string {
	var errors []string

	if t.Width < MinWidth || t.Width > MaxWidth {
		errors = append(errors, fmt.Sprintf("width must be between %d and %d", MinWidth, MaxWidth))
	}
	if t.Height < MinHeight || t.Height > MaxHeight {
		errors = append(errors, fmt.Sprintf("height must be between %d and %d", MinHeight, MaxHeight))
	}
	if t.FPS < 1 || t.FPS > MaxFPS {
		errors = append(errors, fmt.Sprintf("fps must be between 1 and %d", MaxFPS))
	}

	return errors
}

// Preset names for common stream targets
const (
	PresetDefault = "default"
	Preset480p    = "480p"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
)

// Presets returns all available preset targets.
func Presets() map[string]Target {
	return map[string]Target{
		PresetDefault: DefaultTarget(),
		Preset480p:    {Width: 640, Height: 480, FPS: 30},
		Preset720p:    {Width: 1280, Height: 720, FPS: 20},
		Preset1080p:   {Width: 1920, Height: 1080, FPS: 15},
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{PresetDefault, Preset480p, Preset720p, Preset1080p}
}

// GetPreset returns a preset target by name, or nil if not found.
func GetPreset(name string) *Target {
	if t, ok := Presets()[name]; ok {
		return &t
	}
	return nil
}

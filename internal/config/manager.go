package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/teslashibe/go-attention/pkg/camera"
)

// Runtime is the part of the configuration that can change while the
// daemon runs. Stream applies to cameras started afterwards.
type Runtime struct {
	Thresholds Thresholds    `json:"thresholds"`
	Stream     camera.Target `json:"stream"`
}

// Validate checks the runtime configuration.
func (r *Runtime) Validate() []string {
	return append(r.Thresholds.Validate(), r.Stream.Validate()...)
}

// Manager holds the current runtime configuration and handles updates.
type Manager struct {
	config Runtime
	mu     sync.RWMutex

	// Callback when config changes (for applying to running pipelines)
	OnConfigChange func(cfg Runtime) error
}

// NewManager creates a manager seeded from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		config: Runtime{Thresholds: cfg.Thresholds, Stream: cfg.Stream},
	}
}

// GetConfig returns the current runtime configuration.
func (m *Manager) GetConfig() Runtime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates and replaces the runtime configuration.
func (m *Manager) SetConfig(cfg Runtime) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	return nil
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of field names to values, as decoded from a JSON body.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	cfg := m.GetConfig()

	// A preset replaces the stream target; other keys still apply on top
	if presetName, ok := params["preset"].(string); ok {
		preset := camera.GetPreset(presetName)
		if preset == nil {
			return fmt.Errorf("unknown preset: %s", presetName)
		}
		cfg.Stream = *preset
	}

	for key, value := range params {
		switch key {
		case "preset":
		case "confidence_threshold":
			if v, ok := toFloat(value); ok {
				cfg.Thresholds.Confidence = v
			}
		case "iou_threshold":
			if v, ok := toFloat(value); ok {
				cfg.Thresholds.IoU = v
			}
		case "yaw_threshold":
			if v, ok := toFloat(value); ok {
				cfg.Thresholds.Yaw = v
			}
		case "pitch_threshold":
			if v, ok := toFloat(value); ok {
				cfg.Thresholds.Pitch = v
			}
		case "width":
			if v, ok := toInt(value); ok {
				cfg.Stream.Width = v
			}
		case "height":
			if v, ok := toInt(value); ok {
				cfg.Stream.Height = v
			}
		case "fps":
			if v, ok := toInt(value); ok {
				cfg.Stream.FPS = v
			}
		default:
			return fmt.Errorf("unknown config key: %s", key)
		}
	}

	return m.SetConfig(cfg)
}

// Helper functions for type conversion

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

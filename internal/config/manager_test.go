package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-attention/pkg/camera"
)

func TestManagerUpdateThresholds(t *testing.T) {
	m := NewManager(Default())

	var applied *Runtime
	m.OnConfigChange = func(cfg Runtime) error {
		applied = &cfg
		return nil
	}

	err := m.UpdateConfig(map[string]interface{}{
		"yaw_threshold":        30.0,
		"confidence_threshold": 0.5,
		"fps":                  float64(10),
	})
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 30.0, cfg.Thresholds.Yaw)
	assert.Equal(t, 0.5, cfg.Thresholds.Confidence)
	assert.Equal(t, 20.0, cfg.Thresholds.Pitch)
	assert.Equal(t, 10, cfg.Stream.FPS)
	require.NotNil(t, applied)
	assert.Equal(t, cfg, *applied)
}

func TestManagerPreset(t *testing.T) {
	m := NewManager(Default())

	require.NoError(t, m.UpdateConfig(map[string]interface{}{"preset": "720p", "fps": 12}))
	cfg := m.GetConfig()
	assert.Equal(t, 1280, cfg.Stream.Width)
	assert.Equal(t, 720, cfg.Stream.Height)
	assert.Equal(t, 12, cfg.Stream.FPS)

	assert.Error(t, m.UpdateConfig(map[string]interface{}{"preset": "8k"}))
}

func TestManagerRejectsInvalid(t *testing.T) {
	m := NewManager(Default())
	before := m.GetConfig()

	assert.Error(t, m.UpdateConfig(map[string]interface{}{"pitch_threshold": 120.0}))
	assert.Error(t, m.UpdateConfig(map[string]interface{}{"zoom": 2.0}))
	assert.Equal(t, before, m.GetConfig())
}

func TestManagerCallbackError(t *testing.T) {
	m := NewManager(Default())
	m.OnConfigChange = func(Runtime) error { return errors.New("pipeline busy") }

	err := m.SetConfig(Runtime{Thresholds: Default().Thresholds, Stream: camera.DefaultTarget()})
	assert.ErrorContains(t, err, "pipeline busy")
}

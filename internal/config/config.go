// Package config loads attentiond configuration from an optional YAML file
// and environment variables, and holds the runtime-tunable subset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-attention/pkg/camera"
)

// Default server configuration.
const (
	DefaultPort          = "8080"
	DefaultLogLevel      = "info"
	DefaultRecordingsDir = "recordings"
	DefaultJPEGQuality   = 80
)

// Thresholds are the detection and classification knobs that can change
// while cameras are running.
type Thresholds struct {
	Confidence float64 `yaml:"confidence" json:"confidence_threshold"`
	IoU        float64 `yaml:"iou" json:"iou_threshold"`
	Yaw        float64 `yaml:"yaw" json:"yaw_threshold"`
	Pitch      float64 `yaml:"pitch" json:"pitch_threshold"`
}

// Models holds ONNX model paths.
type Models struct {
	Person string `yaml:"person"` // YOLOv8 person detector
	Face   string `yaml:"face"`   // YuNet face detector
}

// Config is the full daemon configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Cameras lists device indices started at boot.
	Cameras []int `yaml:"cameras"`

	Stream         camera.Target `yaml:"stream"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	Thresholds      Thresholds `yaml:"thresholds"`
	DisappearFrames int        `yaml:"disappear_frames"`

	Models        Models `yaml:"models"`
	RecordingsDir string `yaml:"recordings_dir"`
	JPEGQuality   int    `yaml:"jpeg_quality"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		LogLevel:       DefaultLogLevel,
		Stream:         camera.DefaultTarget(),
		AcquireTimeout: 15 * time.Second,
		Thresholds: Thresholds{
			Confidence: 0.4,
			IoU:        0.3,
			Yaw:        25,
			Pitch:      20,
		},
		DisappearFrames: 10,
		Models: Models{
			Person: "models/yolov8n.onnx",
			Face:   "models/face_detection_yunet.onnx",
		},
		RecordingsDir: DefaultRecordingsDir,
		JPEGQuality:   DefaultJPEGQuality,
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return cfg, fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = envString("PORT", c.Port)
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	c.Models.Person = envString("YOLO_MODEL", c.Models.Person)
	c.Models.Face = envString("FACE_MODEL", c.Models.Face)
	c.RecordingsDir = envString("RECORDINGS_DIR", c.RecordingsDir)

	var err error
	set := func(e error) {
		if err == nil {
			err = e
		}
	}
	set(envFloat("CONF_THRESHOLD", &c.Thresholds.Confidence))
	set(envFloat("IOU_T", &c.Thresholds.IoU))
	set(envFloat("YAW_T", &c.Thresholds.Yaw))
	set(envFloat("PITCH_T", &c.Thresholds.Pitch))
	set(envInt("DISAPPEAR_FRAMES", &c.DisappearFrames))
	set(envInt("STREAM_WIDTH", &c.Stream.Width))
	set(envInt("STREAM_HEIGHT", &c.Stream.Height))
	set(envInt("STREAM_FPS", &c.Stream.FPS))
	set(envInt("JPEG_QUALITY", &c.JPEGQuality))
	set(envDuration("ACQUIRE_TIMEOUT", &c.AcquireTimeout))
	set(envInts("CAMERAS", &c.Cameras))
	return err
}

// Validate checks the configuration. Returns a list of problems, or nil.
func (c *Config) Validate() []string {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "port is required")
	}
	errors = append(errors, c.Stream.Validate()...)
	errors = append(errors, c.Thresholds.Validate()...)
	if c.DisappearFrames < 1 {
		errors = append(errors, "disappear_frames must be at least 1")
	}
	if c.AcquireTimeout <= 0 {
		errors = append(errors, "acquire_timeout must be positive")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errors = append(errors, "jpeg_quality must be between 1 and 100")
	}
	for _, id := range c.Cameras {
		if id < 0 {
			errors = append(errors, fmt.Sprintf("camera index %d must not be negative", id))
		}
	}

	return errors
}

// Validate checks threshold ranges.
func (t Thresholds) Validate() []string {
	var errors []string

	if t.Confidence < 0 || t.Confidence > 1 {
		errors = append(errors, "confidence_threshold must be between 0 and 1")
	}
	if t.IoU <= 0 || t.IoU > 1 {
		errors = append(errors, "iou_threshold must be in (0, 1]")
	}
	if t.Yaw <= 0 || t.Yaw >= 90 {
		errors = append(errors, "yaw_threshold must be between 0 and 90 degrees")
	}
	if t.Pitch <= 0 || t.Pitch >= 90 {
		errors = append(errors, "pitch_threshold must be between 0 and 90 degrees")
	}

	return errors
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = i
	return nil
}

// envDuration accepts Go durations ("15s") or plain seconds ("15").
func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

// envInts parses a comma separated list such as "0,1".
func envInts(key string, dst *[]int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		out = append(out, i)
	}
	*dst = out
	return nil
}

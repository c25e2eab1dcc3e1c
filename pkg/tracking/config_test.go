package tracking

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.IoUThreshold != 0.3 {
		t.Errorf("Expected IoUThreshold=0.3, got %v", cfg.IoUThreshold)
	}
	if cfg.DisappearFrames != 10 {
		t.Errorf("Expected DisappearFrames=10, got %v", cfg.DisappearFrames)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("default config should validate, got %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	configs := []struct {
		name    string
		cfg     Config
		wantErr int
	}{
		{"Default", DefaultConfig(), 0},
		{"Sticky", StickyConfig(), 0},
		{"zero iou", Config{IoUThreshold: 0, DisappearFrames: 5}, 1},
		{"iou above one", Config{IoUThreshold: 1.5, DisappearFrames: 5}, 1},
		{"no frames", Config{IoUThreshold: 0.3, DisappearFrames: 0}, 1},
		{"both bad", Config{}, 2},
	}

	for _, tc := range configs {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(tc.cfg.Validate()); got != tc.wantErr {
				t.Errorf("%s: got %d validation errors, want %d", tc.name, got, tc.wantErr)
			}
		})
	}
}

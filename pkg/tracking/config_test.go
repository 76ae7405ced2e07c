package tracking

import (
	"testing"
	"time"

	"github.com/econokeith/robocam/pkg/servo"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.XGains != (Gains{Kp: 0.02}) {
		t.Errorf("Expected x gains {0.02 0 0}, got %+v", cfg.XGains)
	}
	if cfg.YGains != (Gains{Kp: 0.01}) {
		t.Errorf("Expected y gains {0.01 0 0}, got %+v", cfg.YGains)
	}
	if cfg.UpdateInterval != 200*time.Millisecond {
		t.Errorf("Expected 5 Hz update interval, got %v", cfg.UpdateInterval)
	}
	if cfg.Home != (servo.Angles{70, 50}) {
		t.Errorf("Expected home [70 50], got %v", cfg.Home)
	}
	if cfg.Invert != [2]bool{true, true} {
		t.Errorf("Expected both axes inverted, got %v", cfg.Invert)
	}
}

func TestConfig_Presets(t *testing.T) {
	configs := []struct {
		name string
		cfg  Config
	}{
		{"Default", DefaultConfig()},
		{"Slow", SlowConfig()},
		{"Aggressive", AggressiveConfig()},
	}

	for _, tc := range configs {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err != nil {
				t.Errorf("%s config invalid: %v", tc.name, err)
			}
		})
	}

	if SlowConfig().UpdateInterval <= DefaultConfig().UpdateInterval {
		t.Error("Expected SlowConfig to update less often than default")
	}
	if AggressiveConfig().XGains.Kp <= DefaultConfig().XGains.Kp {
		t.Error("Expected AggressiveConfig to have a higher x gain")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateInterval = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for negative update interval")
	}

	cfg = DefaultConfig()
	cfg.PollInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero poll interval")
	}
}

package tracking

import (
	"fmt"
	"time"

	"github.com/econokeith/robocam/pkg/servo"
)

// Config holds all tunable parameters for gimbal tracking
type Config struct {
	// VideoCenter is the pixel position faces are kept on.
	VideoCenter Vector

	// PID gains per axis
	XGains Gains
	YGains Gains

	// Timing
	UpdateInterval time.Duration // Minimum time between control actions
	PollInterval   time.Duration // How often the shared state is sampled

	// Invert negates the PID output per axis before it is sent. The servos
	// move the camera opposite to the pixel error sign.
	Invert [2]bool

	// Home is the absolute pose commanded right after connecting.
	Home servo.Angles

	// Logging
	HeartbeatEvery uint64 // Log counters every N cycles, 0 disables
}

// DefaultConfig returns the tuning used on the bench gimbal: a 1280x720
// frame, proportional-only control, 5 updates per second.
func DefaultConfig() Config {
	return Config{
		VideoCenter: Vector{X: 640, Y: 360},

		XGains: Gains{Kp: 0.02},
		YGains: Gains{Kp: 0.01},

		UpdateInterval: 200 * time.Millisecond, // 5 Hz
		PollInterval:   5 * time.Millisecond,

		Invert: [2]bool{true, true},
		Home:   servo.Angles{70, 50},

		HeartbeatEvery: 1000, // ~5s at the default poll rate
	}
}

// SlowConfig returns a configuration for slower, smoother tracking
func SlowConfig() Config {
	cfg := DefaultConfig()
	cfg.UpdateInterval = 333 * time.Millisecond
	cfg.XGains.Kp = 0.012
	cfg.YGains.Kp = 0.006
	return cfg
}

// AggressiveConfig returns a configuration for fast tracking with a little
// damping to keep the overshoot in check
func AggressiveConfig() Config {
	cfg := DefaultConfig()
	cfg.UpdateInterval = 100 * time.Millisecond
	cfg.XGains = Gains{Kp: 0.03, Kd: 0.002}
	cfg.YGains = Gains{Kp: 0.015, Kd: 0.001}
	return cfg
}

// Validate checks the configuration for values the loop cannot run with.
func (c Config) Validate() error {
	if c.UpdateInterval < 0 {
		return fmt.Errorf("update interval must not be negative, got %v", c.UpdateInterval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	return nil
}

func (c Config) convention(axis int, output float64) float64 {
	if c.Invert[axis] {
		return -output
	}
	return output
}

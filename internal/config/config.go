// Package config loads the gimbal controller configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// GIMBAL_* environment variables. The result is validated before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/econokeith/robocam/pkg/servo"
	"github.com/econokeith/robocam/pkg/tracking"
)

// Default configuration values.
const (
	DefaultDevice     = "/dev/ttyACM0"
	DefaultIngestAddr = "127.0.0.1:8090"
	DefaultWebAddr    = "127.0.0.1:8091"
	DefaultCapacity   = 16
	DefaultLogLevel   = "info"
)

// Environment variable names.
const (
	EnvEnableTracking = "GIMBAL_ENABLE_TRACKING"
	EnvDevice         = "GIMBAL_DEVICE"
	EnvLogLevel       = "GIMBAL_LOG_LEVEL"
	EnvLogFile        = "GIMBAL_LOG_FILE"
	EnvIngestAddr     = "GIMBAL_INGEST_ADDR"
	EnvWebAddr        = "GIMBAL_WEB_ADDR"
	EnvJournal        = "GIMBAL_JOURNAL"
)

// Config holds all configuration for the gimbal command.
// Flag parsing is done in cmd/gimbal/main.go; this struct is data only.
type Config struct {
	// EnableTracking false makes the command exit before touching hardware.
	EnableTracking bool `yaml:"enable_tracking"`

	// Device is the serial port of the servo controller.
	Device string `yaml:"device"`

	Log      LogConfig      `yaml:"log"`
	Tracking TrackingConfig `yaml:"tracking"`
	Servo    ServoConfig    `yaml:"servo"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Web      WebConfig      `yaml:"web"`
	Journal  JournalConfig  `yaml:"journal"`
}

// LogConfig selects the log level and an optional rotating file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// TrackingConfig mirrors tracking.Config in file form.
type TrackingConfig struct {
	VideoCenter    [2]float64     `yaml:"video_center"`
	XGains         tracking.Gains `yaml:"x_gains"`
	YGains         tracking.Gains `yaml:"y_gains"`
	UpdateInterval time.Duration  `yaml:"update_interval"`
	PollInterval   time.Duration  `yaml:"poll_interval"`
	Invert         [2]bool        `yaml:"invert"`
	Home           [2]float64     `yaml:"home"`
	HeartbeatEvery uint64         `yaml:"heartbeat_every"`
}

// ServoConfig mirrors servo.Options in file form.
type ServoConfig struct {
	Port        servo.PortOptions `yaml:"port"`
	UseMicro    bool              `yaml:"use_micro"`
	MinPulse    int               `yaml:"min_pulse"`
	MaxPulse    int               `yaml:"max_pulse"`
	Travel      float64           `yaml:"travel"`
	Min         [2]float64        `yaml:"min"`
	Max         [2]float64        `yaml:"max"`
	SettleDelay time.Duration     `yaml:"settle_delay"`
}

// IngestConfig is the perception ingest endpoint.
type IngestConfig struct {
	Addr     string `yaml:"addr"`
	Capacity int    `yaml:"capacity"`
}

// WebConfig is the status dashboard. An empty Addr disables it.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// JournalConfig points at the SQLite cycle journal. An empty Path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	tc := tracking.DefaultConfig()
	so := servo.DefaultOptions()
	return Config{
		EnableTracking: true,
		Device:         DefaultDevice,
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Tracking: TrackingConfig{
			VideoCenter:    [2]float64{tc.VideoCenter.X, tc.VideoCenter.Y},
			XGains:         tc.XGains,
			YGains:         tc.YGains,
			UpdateInterval: tc.UpdateInterval,
			PollInterval:   tc.PollInterval,
			Invert:         tc.Invert,
			Home:           tc.Home,
			HeartbeatEvery: tc.HeartbeatEvery,
		},
		Servo: ServoConfig{
			UseMicro:    so.UseMicro,
			MinPulse:    so.MinPulse,
			MaxPulse:    so.MaxPulse,
			Travel:      so.Travel,
			Min:         so.Limits.Min,
			Max:         so.Limits.Max,
			SettleDelay: so.SettleDelay,
		},
		Ingest: IngestConfig{
			Addr:     DefaultIngestAddr,
			Capacity: DefaultCapacity,
		},
		Web: WebConfig{
			Addr: DefaultWebAddr,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadEnvConfig(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile overlays the YAML file at path. Keys missing from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.Parse(data)
}

// Parse overlays YAML data. Unknown keys are rejected.
func (c *Config) Parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		// An empty document leaves everything unchanged.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadEnvConfig applies GIMBAL_* environment overrides.
func (c *Config) LoadEnvConfig() error {
	if v := os.Getenv(EnvEnableTracking); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: "EnableTracking", Message: fmt.Sprintf("%s must be a boolean, got %q", EnvEnableTracking, v)}
		}
		c.EnableTracking = enabled
	}
	if v := os.Getenv(EnvDevice); v != "" {
		c.Device = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv(EnvIngestAddr); v != "" {
		c.Ingest.Addr = v
	}
	if v, ok := os.LookupEnv(EnvWebAddr); ok {
		c.Web.Addr = v
	}
	if v, ok := os.LookupEnv(EnvJournal); ok {
		c.Journal.Path = v
	}
	return nil
}

// Validate checks the values the command cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "Log.Level", Message: fmt.Sprintf("unknown log level %q", c.Log.Level)}
	}
	if !c.EnableTracking {
		// Nothing below is used when tracking is off.
		return nil
	}
	if c.Device == "" {
		return &ConfigError{Field: "Device", Message: "device is required"}
	}
	if c.Ingest.Addr == "" {
		return &ConfigError{Field: "Ingest.Addr", Message: "ingest address is required"}
	}
	if c.Ingest.Capacity <= 0 {
		return &ConfigError{Field: "Ingest.Capacity", Message: fmt.Sprintf("ingest capacity must be positive, got %d", c.Ingest.Capacity)}
	}
	if err := c.TrackingConfig().Validate(); err != nil {
		return &ConfigError{Field: "Tracking", Message: err.Error()}
	}
	if err := c.limits().Validate(); err != nil {
		return &ConfigError{Field: "Servo.Limits", Message: err.Error()}
	}
	if _, err := c.Servo.Port.Normalize(); err != nil {
		return &ConfigError{Field: "Servo.Port", Message: err.Error()}
	}
	if c.Servo.MinPulse >= c.Servo.MaxPulse {
		return &ConfigError{Field: "Servo.Pulse", Message: fmt.Sprintf("min pulse %d must be below max pulse %d", c.Servo.MinPulse, c.Servo.MaxPulse)}
	}
	return nil
}

// TrackingConfig converts the file form into the loop configuration.
func (c *Config) TrackingConfig() tracking.Config {
	t := c.Tracking
	return tracking.Config{
		VideoCenter:    tracking.Vector{X: t.VideoCenter[0], Y: t.VideoCenter[1]},
		XGains:         t.XGains,
		YGains:         t.YGains,
		UpdateInterval: t.UpdateInterval,
		PollInterval:   t.PollInterval,
		Invert:         t.Invert,
		Home:           servo.Angles(t.Home),
		HeartbeatEvery: t.HeartbeatEvery,
	}
}

// ServoOptions converts the file form into servo.Connect options.
func (c *Config) ServoOptions() servo.Options {
	s := c.Servo
	return servo.Options{
		Port:        s.Port,
		UseMicro:    s.UseMicro,
		MinPulse:    s.MinPulse,
		MaxPulse:    s.MaxPulse,
		Travel:      s.Travel,
		Limits:      c.limits(),
		SettleDelay: s.SettleDelay,
	}
}

func (c *Config) limits() servo.Limits {
	return servo.Limits{Min: servo.Angles(c.Servo.Min), Max: servo.Angles(c.Servo.Max)}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Message
}

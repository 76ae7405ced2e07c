package servo

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Arduino Servo library default pulse range in microseconds.
const (
	DefaultMinPulse = 544
	DefaultMaxPulse = 2400
)

// PortOptions describes the serial connection parameters.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate" json:"baud_rate"`
	DataBits int    `yaml:"data_bits" json:"data_bits"`
	StopBits int    `yaml:"stop_bits" json:"stop_bits"`
	Parity   string `yaml:"parity" json:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Options are the capability flags and link settings for Connect.
type Options struct {
	Port PortOptions

	// UseMicro sends pulse widths in microseconds instead of whole degrees.
	UseMicro bool
	MinPulse int
	MaxPulse int

	// Travel is the angle in degrees spanned by [MinPulse, MaxPulse].
	Travel float64

	Limits Limits

	// SettleDelay waits after opening the port. Most Arduino boards reset
	// when the port opens and drop bytes until the sketch is running.
	SettleDelay time.Duration

	// Opener replaces serial.Open, mainly for tests.
	Opener Opener

	Logger *slog.Logger
}

// DefaultOptions returns the settings for an Arduino running the gimbal sketch.
func DefaultOptions() Options {
	return Options{
		UseMicro:    true,
		MinPulse:    DefaultMinPulse,
		MaxPulse:    DefaultMaxPulse,
		Travel:      180,
		Limits:      DefaultLimits(),
		SettleDelay: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.MinPulse == 0 && o.MaxPulse == 0 {
		o.MinPulse, o.MaxPulse = DefaultMinPulse, DefaultMaxPulse
	}
	if o.Travel <= 0 {
		o.Travel = 180
	}
	if o.Limits == (Limits{}) {
		o.Limits = DefaultLimits()
	}
	if o.Opener == nil {
		o.Opener = OpenSerial
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "servo")
	}
	return o
}

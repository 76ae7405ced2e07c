// Package servo drives the two-axis pan/tilt gimbal.
//
// The Actuator interface is what the control loop depends on. ArduinoServo
// speaks a line protocol to a microcontroller over a serial port, and
// Recorder is an in-memory stand-in for dry runs and tests.
package servo

import (
	"errors"
	"fmt"
)

// Axis indexes.
const (
	Pan  = 0
	Tilt = 1
)

// ErrClosed is returned when commanding an actuator after Close.
var ErrClosed = errors.New("servo: actuator closed")

// Angles holds one value per axis in degrees, [pan, tilt].
type Angles [2]float64

// Add returns the element-wise sum.
func (a Angles) Add(d Angles) Angles {
	return Angles{a[0] + d[0], a[1] + d[1]}
}

// Limits bounds each axis to its physical safe range.
type Limits struct {
	Min Angles
	Max Angles
}

// DefaultLimits is the full travel of a hobby servo.
func DefaultLimits() Limits {
	return Limits{Min: Angles{0, 0}, Max: Angles{180, 180}}
}

// Clamp restricts each axis to its range.
func (l Limits) Clamp(a Angles) Angles {
	for i := range a {
		a[i] = clamp(a[i], l.Min[i], l.Max[i])
	}
	return a
}

// Validate checks that every range is non-empty.
func (l Limits) Validate() error {
	for i := range l.Min {
		if l.Min[i] > l.Max[i] {
			return fmt.Errorf("axis %d: min %.1f above max %.1f", i, l.Min[i], l.Max[i])
		}
	}
	return nil
}

// Actuator is the command surface the control loop uses.
type Actuator interface {
	// SetAngles commands absolute angles, clamped to the safe range.
	SetAngles(a Angles) error
	// MoveRelative offsets the last commanded angles, clamped to the safe range.
	MoveRelative(d Angles) error
	// Angles returns the last commanded, clamped angles.
	Angles() Angles
	// Close releases the link. Further commands return ErrClosed.
	Close() error
}

// ConnectError reports a failure to establish the actuator link.
type ConnectError struct {
	Device string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("servo: connect %s: %v", e.Device, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

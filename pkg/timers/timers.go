// Package timers provides small time-based gates used by the control loop and
// the perception simulator.
//
// Every gate implements Timer and answers a single question, "does it fire
// now?". The concrete strategy is chosen at construction with New.
package timers

import (
	"fmt"
	"time"

	"github.com/econokeith/robocam/internal/timeutil"
)

// Kind identifies a timer strategy.
type Kind int

const (
	// KindRateLimit fires at most once per interval.
	KindRateLimit Kind = iota
	// KindBlink is true during the on phase of a repeating on/off cycle.
	KindBlink
	// KindElapsed is true once a wait has passed since the first evaluation.
	KindElapsed
)

// String returns the strategy name.
func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate-limit"
	case KindBlink:
		return "blink"
	case KindElapsed:
		return "elapsed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Timer is the capability shared by all strategies.
type Timer interface {
	Kind() Kind
	// Evaluate reports whether the timer fires at the current clock time.
	Evaluate() bool
}

// Spec selects and parameterizes a strategy.
type Spec struct {
	Kind Kind

	// Interval is the minimum spacing for KindRateLimit and the wait for KindElapsed.
	Interval time.Duration

	// On and Off are the phase lengths for KindBlink. Off defaults to On.
	On  time.Duration
	Off time.Duration

	// Clock defaults to the wall clock.
	Clock timeutil.Clock
}

// New builds the strategy described by spec.
func New(spec Spec) (Timer, error) {
	clock := spec.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	switch spec.Kind {
	case KindRateLimit:
		if spec.Interval < 0 {
			return nil, fmt.Errorf("rate limit interval must not be negative, got %v", spec.Interval)
		}
		return NewRateLimiter(spec.Interval, clock), nil
	case KindBlink:
		off := spec.Off
		if off == 0 {
			off = spec.On
		}
		if spec.On <= 0 || off <= 0 {
			return nil, fmt.Errorf("blink phases must be positive, got on=%v off=%v", spec.On, off)
		}
		return NewBlinker(spec.On, off, clock), nil
	case KindElapsed:
		return NewElapsedGate(spec.Interval, clock), nil
	default:
		return nil, fmt.Errorf("unknown timer kind %v", spec.Kind)
	}
}

// Hz converts a frequency into the interval between events.
func Hz(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

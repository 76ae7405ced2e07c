package timers

import (
	"time"

	"github.com/econokeith/robocam/internal/timeutil"
)

// Blinker alternates between an on phase and an off phase, starting on at
// the first evaluation.
type Blinker struct {
	clock   timeutil.Clock
	on, off time.Duration

	start   time.Time
	started bool
}

// NewBlinker creates a blinker with the given phase lengths.
func NewBlinker(on, off time.Duration, clock timeutil.Clock) *Blinker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Blinker{clock: clock, on: on, off: off}
}

// Kind implements Timer.
func (b *Blinker) Kind() Kind { return KindBlink }

// Evaluate reports whether the cycle is currently in its on phase.
func (b *Blinker) Evaluate() bool {
	now := b.clock.Now()
	if !b.started {
		b.start = now
		b.started = true
	}
	period := b.on + b.off
	if period <= 0 {
		return true
	}
	pos := now.Sub(b.start) % period
	return pos < b.on
}

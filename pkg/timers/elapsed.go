package timers

import (
	"time"

	"github.com/econokeith/robocam/internal/timeutil"
)

// ElapsedGate measures time from its first evaluation and opens once the
// configured wait has passed.
type ElapsedGate struct {
	clock timeutil.Clock
	wait  time.Duration

	start   time.Time
	started bool
}

// NewElapsedGate creates a gate that opens after wait.
func NewElapsedGate(wait time.Duration, clock timeutil.Clock) *ElapsedGate {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ElapsedGate{clock: clock, wait: wait}
}

// Kind implements Timer.
func (g *ElapsedGate) Kind() Kind { return KindElapsed }

// Evaluate starts the gate on first use and reports whether more than the
// wait has elapsed since.
func (g *ElapsedGate) Evaluate() bool {
	return g.Elapsed() > g.wait
}

// Elapsed returns the time since the first evaluation, starting the gate if needed.
func (g *ElapsedGate) Elapsed() time.Duration {
	now := g.clock.Now()
	if !g.started {
		g.start = now
		g.started = true
		return 0
	}
	return now.Sub(g.start)
}

// Reset returns the gate to its unstarted state.
func (g *ElapsedGate) Reset() {
	g.started = false
	g.start = time.Time{}
}

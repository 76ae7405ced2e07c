package timers

import (
	"time"

	"github.com/econokeith/robocam/internal/timeutil"
)

// RateLimiter permits an action at most once per interval. It never blocks;
// callers that are refused simply skip the action this cycle.
//
// Not safe for concurrent use.
type RateLimiter struct {
	clock    timeutil.Clock
	interval time.Duration

	last  time.Time
	fired bool
}

// NewRateLimiter creates a limiter with a default interval.
func NewRateLimiter(interval time.Duration, clock timeutil.Clock) *RateLimiter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RateLimiter{clock: clock, interval: interval}
}

// Kind implements Timer.
func (r *RateLimiter) Kind() Kind { return KindRateLimit }

// Evaluate implements Timer using the configured interval.
func (r *RateLimiter) Evaluate() bool {
	return r.TryFire(r.interval)
}

// Interval returns the configured default interval.
func (r *RateLimiter) Interval() time.Duration {
	return r.interval
}

// TryFire returns true and records the current time when at least minInterval
// has elapsed since the last fire. The first call always fires. A refused call
// leaves the limiter untouched.
func (r *RateLimiter) TryFire(minInterval time.Duration) bool {
	now := r.clock.Now()
	if r.fired && now.Sub(r.last) < minInterval {
		return false
	}
	r.last = now
	r.fired = true
	return true
}

// LastFire returns the time of the last successful fire and whether one happened.
func (r *RateLimiter) LastFire() (time.Time, bool) {
	return r.last, r.fired
}

package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/econokeith/robocam/internal/timeutil"
	"github.com/econokeith/robocam/pkg/servo"
	"github.com/econokeith/robocam/pkg/timers"
	"github.com/econokeith/robocam/pkg/trackstate"
)

// State is the lifecycle phase of a Loop.
type State int32

const (
	StateAwaitingFirstDetection State = iota
	StateTracking
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstDetection:
		return "awaiting_first_detection"
	case StateTracking:
		return "tracking"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connector establishes the actuator link. It blocks until the link is
// usable or fails.
type Connector func(ctx context.Context) (servo.Actuator, error)

// Observer is notified of every cycle in which the rate limiter fired.
// It is called on the loop goroutine and must not block.
type Observer interface {
	ObserveCycle(c Cycle)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(c Cycle)

// ObserveCycle implements Observer.
func (f ObserverFunc) ObserveCycle(c Cycle) { f(c) }

// Cycle reports what one tracking iteration did.
type Cycle struct {
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	Version uint64    `json:"version"`
	NFaces  int       `json:"n_faces"`
	Target  Target    `json:"target"`

	Fired     bool `json:"fired"`     // rate limiter allowed a control action
	Unchanged bool `json:"unchanged"` // box equal to the last acted-upon box
	Centered  bool `json:"centered"`  // inside the dead zone
	Acted     bool `json:"acted"`     // a move was sent successfully

	Point   Vector       `json:"point"`
	Error   Vector       `json:"error"`
	Output  Vector       `json:"output"`
	Command servo.Angles `json:"command"`
	Angles  servo.Angles `json:"angles"`

	Err error `json:"-"`
}

// Stats are counters since the loop started.
type Stats struct {
	Cycles    uint64 `json:"cycles"`
	Empty     uint64 `json:"empty"`
	Fired     uint64 `json:"fired"`
	Unchanged uint64 `json:"unchanged"`
	Centered  uint64 `json:"centered"`
	Acted     uint64 `json:"acted"`
	Errors    uint64 `json:"errors"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock timeutil.Clock) Option {
	return func(l *Loop) {
		l.clock = clock
	}
}

// WithObserver adds a cycle observer.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		l.observers = append(l.observers, o)
	}
}

// Loop is the closed-loop gimbal controller. It owns the actuator from
// connect until Run returns.
type Loop struct {
	cfg       Config
	connect   Connector
	reader    *trackstate.Reader
	clock     timeutil.Clock
	logger    *slog.Logger
	observers []Observer

	state atomic.Int32

	// Owned by the loop goroutine
	actuator   servo.Actuator
	limiter    *timers.RateLimiter
	xPID       *PIDController
	yPID       *PIDController
	lastBox    trackstate.BBox
	hasLast    bool
	lastUpdate time.Time
	updated    bool
	lastErrLog time.Time

	cycles    atomic.Uint64
	empty     atomic.Uint64
	fired     atomic.Uint64
	unchanged atomic.Uint64
	centered  atomic.Uint64
	acted     atomic.Uint64
	failures  atomic.Uint64
}

// NewLoop creates a loop reading from reader and actuating through connect.
func NewLoop(cfg Config, connect Connector, reader *trackstate.Reader, opts ...Option) (*Loop, error) {
	if connect == nil {
		return nil, errors.New("tracking: nil connector")
	}
	if reader == nil {
		return nil, errors.New("tracking: nil reader")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tracking: %w", err)
	}

	l := &Loop{
		cfg:     cfg,
		connect: connect,
		reader:  reader,
		clock:   timeutil.RealClock{},
		xPID:    NewPIDController(cfg.XGains),
		yPID:    NewPIDController(cfg.YGains),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default().With("component", "tracking")
	}
	l.limiter = timers.NewRateLimiter(cfg.UpdateInterval, l.clock)
	return l, nil
}

// State returns the current phase. Safe for concurrent use.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev != s {
		l.logger.Info("state changed", "from", prev, "to", s)
	}
}

// Stats returns the cycle counters. Safe for concurrent use.
func (l *Loop) Stats() Stats {
	return Stats{
		Cycles:    l.cycles.Load(),
		Empty:     l.empty.Load(),
		Fired:     l.fired.Load(),
		Unchanged: l.unchanged.Load(),
		Centered:  l.centered.Load(),
		Acted:     l.acted.Load(),
		Errors:    l.failures.Load(),
	}
}

// Config returns the loop configuration.
func (l *Loop) Config() Config {
	return l.cfg
}

// Run connects the actuator, homes it, waits for the first detection and then
// tracks until ctx is cancelled. A connect failure is returned; cancellation
// is a clean shutdown and returns nil. The actuator is closed and the reader
// released on every return path.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.setState(StateShuttingDown)
		if l.actuator != nil {
			if err := l.actuator.Close(); err != nil {
				l.logger.Warn("actuator close failed", "error", err)
			}
		}
		l.reader.Release()
	}()

	act, err := l.connect(ctx)
	if err != nil {
		return fmt.Errorf("tracking: connect actuator: %w", err)
	}
	l.actuator = act

	if err := act.SetAngles(l.cfg.Home); err != nil {
		return fmt.Errorf("tracking: home actuator: %w", err)
	}
	l.logger.Info("gimbal homed", "pan", l.cfg.Home[servo.Pan], "tilt", l.cfg.Home[servo.Tilt])

	l.logger.Info("waiting for first detection")
	snap, err := l.reader.WaitForFaces(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, trackstate.ErrClosed) {
			return nil
		}
		return fmt.Errorf("tracking: wait for faces: %w", err)
	}

	l.setState(StateTracking)
	l.logger.Info("tracking started",
		"faces", snap.NFaces(),
		"update_interval", l.cfg.UpdateInterval,
		"x_gains", l.cfg.XGains,
		"y_gains", l.cfg.YGains)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.Step()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Step()
		}
	}
}

// Step executes one tracking cycle against the latest snapshot. Run calls it
// on every poll tick once the actuator is connected; it must not be called
// from any other goroutine.
func (l *Loop) Step() Cycle {
	now := l.clock.Now()
	c := Cycle{Seq: l.cycles.Add(1), At: now}
	defer l.heartbeat(c.Seq)

	snap := l.reader.Snapshot()
	if snap.NFaces() == 0 {
		l.empty.Add(1)
		return c
	}
	c.Version = snap.Version
	c.NFaces = snap.NFaces()

	idx := SelectFace(snap.Names, snap.Primary)
	box, _ := snap.Box(idx)
	c.Target = Target{Index: idx, Name: snap.Name(idx), Box: box}

	if !l.limiter.TryFire(l.cfg.UpdateInterval) {
		return c
	}
	c.Fired = true
	l.fired.Add(1)

	if l.hasLast && box == l.lastBox {
		c.Unchanged = true
		l.unchanged.Add(1)
		l.notify(c)
		return c
	}

	point, errv, centered := ComputeError(box, l.cfg.VideoCenter)
	c.Point, c.Error, c.Centered = point, errv, centered

	if centered {
		l.centered.Add(1)
	} else {
		var dt time.Duration
		if l.updated {
			dt = now.Sub(l.lastUpdate)
		}
		l.lastUpdate, l.updated = now, true

		c.Output = Vector{
			X: l.xPID.Update(errv.X, dt),
			Y: l.yPID.Update(errv.Y, dt),
		}
		c.Command = servo.Angles{
			l.cfg.convention(servo.Pan, c.Output.X),
			l.cfg.convention(servo.Tilt, c.Output.Y),
		}

		if err := l.move(c.Command); err != nil {
			c.Err = err
		} else {
			c.Acted = true
			l.acted.Add(1)
		}
	}

	l.lastBox, l.hasLast = box, true
	c.Angles = l.actuator.Angles()
	l.notify(c)
	return c
}

func (l *Loop) move(delta servo.Angles) error {
	err := l.actuator.MoveRelative(delta)
	if err == nil {
		return nil
	}

	n := l.failures.Add(1)
	now := l.clock.Now()
	// Don't spam, max once per 5 seconds
	if l.lastErrLog.IsZero() || now.Sub(l.lastErrLog) > 5*time.Second {
		l.logger.Error("actuator move failed", "error", err, "total_errors", n)
		l.lastErrLog = now
	}
	return err
}

func (l *Loop) notify(c Cycle) {
	for _, o := range l.observers {
		o.ObserveCycle(c)
	}
}

func (l *Loop) heartbeat(seq uint64) {
	if l.cfg.HeartbeatEvery == 0 || seq%l.cfg.HeartbeatEvery != 0 {
		return
	}
	s := l.Stats()
	l.logger.Info("heartbeat",
		"cycles", s.Cycles,
		"fired", s.Fired,
		"acted", s.Acted,
		"centered", s.Centered,
		"unchanged", s.Unchanged,
		"empty", s.Empty,
		"errors", s.Errors)
}

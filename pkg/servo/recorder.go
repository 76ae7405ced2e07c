package servo

import "sync"

// CommandKind distinguishes absolute and relative commands.
type CommandKind string

const (
	CommandSet  CommandKind = "set"
	CommandMove CommandKind = "move"
)

// Command is one call received by a Recorder.
type Command struct {
	Kind CommandKind
	// Value is the argument as passed: angles for set, deltas for move.
	Value Angles
	// Result is the clamped position after the command.
	Result Angles
}

// Recorder is an Actuator that keeps every command in memory.
type Recorder struct {
	limits Limits

	mu       sync.Mutex
	angles   Angles
	commands []Command
	closed   bool
	err      error
}

// NewRecorder creates a recorder bounded by limits.
func NewRecorder(limits Limits) *Recorder {
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	return &Recorder{limits: limits}
}

// FailWith makes subsequent commands return err without being recorded.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// SetAngles implements Actuator.
func (r *Recorder) SetAngles(a Angles) error {
	return r.record(CommandSet, a, a)
}

// MoveRelative implements Actuator.
func (r *Recorder) MoveRelative(d Angles) error {
	r.mu.Lock()
	target := r.angles.Add(d)
	r.mu.Unlock()
	return r.record(CommandMove, d, target)
}

func (r *Recorder) record(kind CommandKind, value, target Angles) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.err != nil {
		return r.err
	}
	r.angles = r.limits.Clamp(target)
	r.commands = append(r.commands, Command{Kind: kind, Value: value, Result: r.angles})
	return nil
}

// Angles implements Actuator.
func (r *Recorder) Angles() Angles {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.angles
}

// Close implements Actuator.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Moves returns only the relative commands.
func (r *Recorder) Moves() []Command {
	var moves []Command
	for _, c := range r.Commands() {
		if c.Kind == CommandMove {
			moves = append(moves, c)
		}
	}
	return moves
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var _ Actuator = (*Recorder)(nil)

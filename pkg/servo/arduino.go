package servo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrShortWrite is returned when the port accepts fewer bytes than a frame.
var ErrShortWrite = errors.New("servo: short write to serial port")

// ArduinoServo commands a two-servo gimbal attached to a microcontroller.
// Commands are serialized: a frame is always written whole before the next.
type ArduinoServo struct {
	device string
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	port   Porter
	angles Angles
	closed bool
}

// Connect opens the serial link and waits for the board to settle. It blocks
// until the link is usable; a failure is returned as *ConnectError.
func Connect(ctx context.Context, device string, opts Options) (*ArduinoServo, error) {
	opts = opts.withDefaults()
	if err := opts.Limits.Validate(); err != nil {
		return nil, &ConnectError{Device: device, Err: err}
	}

	port, err := opts.Opener(device, opts.Port)
	if err != nil {
		return nil, &ConnectError{Device: device, Err: err}
	}

	if opts.SettleDelay > 0 {
		timer := time.NewTimer(opts.SettleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			port.Close()
			return nil, &ConnectError{Device: device, Err: ctx.Err()}
		}
	}

	opts.Logger.Info("servo connected", "device", device, "use_micro", opts.UseMicro)

	return &ArduinoServo{
		device: device,
		opts:   opts,
		logger: opts.Logger,
		port:   port,
	}, nil
}

// Device returns the path the servo was opened on.
func (s *ArduinoServo) Device() string {
	return s.device
}

// SetAngles writes absolute angles.
func (s *ArduinoServo) SetAngles(a Angles) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(a)
}

// MoveRelative offsets the last commanded angles.
func (s *ArduinoServo) MoveRelative(d Angles) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(s.angles.Add(d))
}

// Angles returns the last commanded angles.
func (s *ArduinoServo) Angles() Angles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angles
}

func (s *ArduinoServo) writeLocked(a Angles) error {
	if s.closed {
		return ErrClosed
	}
	a = s.opts.Limits.Clamp(a)
	frame := EncodeFrame(a, s.opts)

	n, err := s.port.Write(frame)
	if err != nil {
		return fmt.Errorf("servo: write %s: %w", s.device, err)
	}
	if n != len(frame) {
		return ErrShortWrite
	}
	s.angles = a
	return nil
}

// Close releases the serial port. It is safe to call more than once.
func (s *ArduinoServo) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("servo closed", "device", s.device)
	return s.port.Close()
}

var _ Actuator = (*ArduinoServo)(nil)

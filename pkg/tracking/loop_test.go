package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/econokeith/robocam/internal/timeutil"
	"github.com/econokeith/robocam/pkg/servo"
	"github.com/econokeith/robocam/pkg/trackstate"
)

type fixture struct {
	loop   *Loop
	store  *trackstate.Store
	reader *trackstate.Reader
	rec    *servo.Recorder
	clock  *timeutil.MockClock
	cycles *cycleLog
}

type cycleLog struct {
	mu     sync.Mutex
	cycles []Cycle
}

func (l *cycleLog) ObserveCycle(c Cycle) {
	l.mu.Lock()
	l.cycles = append(l.cycles, c)
	l.mu.Unlock()
}

func (l *cycleLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cycles)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VideoCenter = Vector{X: 150, Y: 150}
	cfg.HeartbeatEvery = 0
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds a loop with the recorder already attached so Step can be
// driven directly with the mock clock.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		store:  trackstate.NewStore(0),
		rec:    servo.NewRecorder(servo.Limits{}),
		clock:  timeutil.NewMockClock(time.Unix(1_700_000_000, 0)),
		cycles: &cycleLog{},
	}
	f.reader = trackstate.NewReader(f.store)

	connect := func(ctx context.Context) (servo.Actuator, error) { return f.rec, nil }
	loop, err := NewLoop(cfg, connect, f.reader,
		WithClock(f.clock), WithLogger(quietLogger()), WithObserver(f.cycles))
	require.NoError(t, err)

	require.NoError(t, f.rec.SetAngles(cfg.Home))
	loop.actuator = f.rec
	f.loop = loop
	return f
}

func (f *fixture) publish(t *testing.T, primary string, names []string, boxes ...trackstate.BBox) {
	t.Helper()
	_, err := f.store.Publish(names, boxes, primary)
	require.NoError(t, err)
}

func TestLoop_CenteredFaceSendsNothing(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t, "", []string{"alice"}, trackstate.BBox{Top: 100, Right: 100, Bottom: 200, Left: 200})

	c := f.loop.Step()

	assert.True(t, c.Fired)
	assert.True(t, c.Centered)
	assert.False(t, c.Acted)
	assert.Equal(t, Vector{}, c.Error)
	assert.Empty(t, f.rec.Moves())
	assert.Equal(t, uint64(1), f.loop.Stats().Centered)
}

func TestLoop_OffCenterFaceMovesOpposite(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t, "", []string{"alice"}, trackstate.BBox{Top: 50, Right: 250, Bottom: 250, Left: 350})

	c := f.loop.Step()

	require.True(t, c.Acted)
	assert.Equal(t, Vector{X: 300, Y: 150}, c.Point)
	assert.Equal(t, Vector{X: 150, Y: 0}, c.Error)
	assert.Equal(t, 3.0, c.Output.X)

	moves := f.rec.Moves()
	require.Len(t, moves, 1)
	assert.Equal(t, servo.Angles{-3.0, 0}, moves[0].Value)
	assert.Equal(t, servo.Angles{67, 50}, moves[0].Result)
	assert.Equal(t, servo.Angles{67, 50}, c.Angles)
}

func TestLoop_SelectsPrimary(t *testing.T) {
	f := newFixture(t, testConfig())
	bob := trackstate.BBox{Top: 100, Right: 100, Bottom: 200, Left: 200}
	alice := trackstate.BBox{Top: 50, Right: 250, Bottom: 250, Left: 350}

	f.publish(t, "alice", []string{"bob", "alice"}, bob, alice)
	c := f.loop.Step()
	assert.Equal(t, Target{Index: 1, Name: "alice", Box: alice}, c.Target)

	f.clock.Advance(time.Second)
	f.publish(t, "carol", []string{"bob", "alice"}, bob, alice)
	c = f.loop.Step()
	assert.Equal(t, 0, c.Target.Index)
	assert.Equal(t, "bob", c.Target.Name)
}

func TestLoop_UnchangedBoxIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	box := trackstate.BBox{Top: 50, Right: 250, Bottom: 250, Left: 350}
	f.publish(t, "", []string{"alice"}, box)

	f.loop.Step()
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		f.publish(t, "", []string{"alice"}, box)
		c := f.loop.Step()
		assert.True(t, c.Fired)
		assert.True(t, c.Unchanged)
	}

	assert.Len(t, f.rec.Moves(), 1)
	assert.Equal(t, uint64(5), f.loop.Stats().Unchanged)
}

func TestLoop_RateLimited(t *testing.T) {
	f := newFixture(t, testConfig())

	for i := 0; i < 20; i++ {
		// a new off-center box every 50ms
		offset := float64(i)
		f.publish(t, "", []string{"alice"},
			trackstate.BBox{Top: 50, Right: 250 + offset, Bottom: 250, Left: 350 + offset})
		f.loop.Step()
		f.clock.Advance(50 * time.Millisecond)
	}

	// 1s of samples at 5 Hz
	assert.Len(t, f.rec.Moves(), 5)
	assert.Equal(t, 5, f.cycles.len(), "observers only see fired cycles")
	assert.Equal(t, uint64(20), f.loop.Stats().Cycles)
}

func TestLoop_DeadZoneStillRecordsBox(t *testing.T) {
	f := newFixture(t, testConfig())
	centered := trackstate.BBox{Top: 100, Right: 100, Bottom: 200, Left: 200}

	f.publish(t, "", []string{"alice"}, centered)
	f.loop.Step()

	f.clock.Advance(time.Second)
	c := f.loop.Step()
	assert.True(t, c.Unchanged, "a centered box counts as acted upon")
}

func TestLoop_EmptySnapshotSkips(t *testing.T) {
	f := newFixture(t, testConfig())

	c := f.loop.Step()
	assert.False(t, c.Fired)
	assert.Equal(t, 0, c.NFaces)

	f.publish(t, "", nil)
	c = f.loop.Step()
	assert.False(t, c.Fired)

	assert.Equal(t, uint64(2), f.loop.Stats().Empty)
	assert.Empty(t, f.rec.Moves())
}

func TestLoop_PIDTimeStep(t *testing.T) {
	cfg := testConfig()
	cfg.XGains = Gains{Kd: 1}
	cfg.YGains = Gains{}
	f := newFixture(t, cfg)

	f.publish(t, "", []string{"alice"}, trackstate.BBox{Top: 50, Right: 250, Bottom: 250, Left: 350})
	c := f.loop.Step()
	assert.Equal(t, 0.0, c.Output.X, "first update has no derivative")

	f.clock.Advance(200 * time.Millisecond)
	f.publish(t, "", []string{"alice"}, trackstate.BBox{Top: 50, Right: 200, Bottom: 250, Left: 300})
	c = f.loop.Step()
	require.True(t, c.Acted)
	assert.InDelta(t, -250.0, c.Output.X, 1e-9)
	assert.InDelta(t, 250.0, c.Command[servo.Pan], 1e-9)
}

func TestLoop_MoveErrorIsAbsorbed(t *testing.T) {
	f := newFixture(t, testConfig())
	f.rec.FailWith(errors.New("link lost"))

	f.publish(t, "", []string{"alice"}, trackstate.BBox{Top: 50, Right: 250, Bottom: 250, Left: 350})
	c := f.loop.Step()

	assert.False(t, c.Acted)
	assert.EqualError(t, c.Err, "link lost")
	assert.Equal(t, uint64(1), f.loop.Stats().Errors)
}

func TestLoop_NoInversion(t *testing.T) {
	cfg := testConfig()
	cfg.Invert = [2]bool{false, false}
	f := newFixture(t, cfg)

	f.publish(t, "", []string{"alice"}, trackstate.BBox{Top: 50, Right: 250, Bottom: 250, Left: 350})
	c := f.loop.Step()
	assert.Equal(t, servo.Angles{3.0, 0}, c.Command)
}

func TestNewLoop_Validation(t *testing.T) {
	reader := trackstate.NewReader(trackstate.NewStore(0))
	connect := func(ctx context.Context) (servo.Actuator, error) { return nil, nil }

	_, err := NewLoop(testConfig(), nil, reader)
	assert.Error(t, err)

	_, err = NewLoop(testConfig(), connect, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.PollInterval = 0
	_, err = NewLoop(cfg, connect, reader)
	assert.Error(t, err)
}

func TestLoop_RunConnectFailure(t *testing.T) {
	errNoDevice := errors.New("no device")
	store := trackstate.NewStore(0)
	reader := trackstate.NewReader(store)
	connect := func(ctx context.Context) (servo.Actuator, error) {
		return nil, &servo.ConnectError{Device: "/dev/ttyACM0", Err: errNoDevice}
	}

	loop, err := NewLoop(testConfig(), connect, reader, WithLogger(quietLogger()))
	require.NoError(t, err)

	err = loop.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoDevice)

	var ce *servo.ConnectError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, StateShuttingDown, loop.State())
	assert.True(t, reader.Released())
}

func TestLoop_RunCancelledBeforeFirstDetection(t *testing.T) {
	store := trackstate.NewStore(0)
	reader := trackstate.NewReader(store)
	rec := servo.NewRecorder(servo.Limits{})
	connect := func(ctx context.Context) (servo.Actuator, error) { return rec, nil }

	loop, err := NewLoop(testConfig(), connect, reader, WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.Commands()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateAwaitingFirstDetection, loop.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, rec.Closed())
	assert.True(t, reader.Released())
	assert.Empty(t, rec.Moves())
	assert.Equal(t, StateShuttingDown, loop.State())
}

func TestLoop_RunTracksAndShutsDown(t *testing.T) {
	store := trackstate.NewStore(0)
	reader := trackstate.NewReader(store)
	rec := servo.NewRecorder(servo.Limits{})
	connect := func(ctx context.Context) (servo.Actuator, error) { return rec, nil }

	cfg := testConfig()
	cfg.PollInterval = time.Millisecond
	cfg.UpdateInterval = 10 * time.Millisecond
	cycles := &cycleLog{}

	loop, err := NewLoop(cfg, connect, reader, WithLogger(quietLogger()), WithObserver(cycles))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	_, err = store.Publish([]string{"alice"},
		[]trackstate.BBox{{Top: 50, Right: 250, Bottom: 250, Left: 350}}, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.Moves()) >= 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateTracking, loop.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	cmds := rec.Commands()
	assert.Equal(t, servo.CommandSet, cmds[0].Kind)
	assert.Equal(t, cfg.Home, cmds[0].Value)
	assert.Equal(t, servo.Angles{-3.0, 0}, rec.Moves()[0].Value)
	assert.True(t, rec.Closed())
	assert.True(t, reader.Released())
	assert.GreaterOrEqual(t, cycles.len(), 1)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_first_detection", StateAwaitingFirstDetection.String())
	assert.Equal(t, "tracking", StateTracking.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
}

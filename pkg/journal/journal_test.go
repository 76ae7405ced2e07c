package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/econokeith/robocam/pkg/servo"
	"github.com/econokeith/robocam/pkg/tracking"
	"github.com/econokeith/robocam/pkg/trackstate"
)

func openTest(t *testing.T, path string, opts ...Option) *Journal {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	j, err := Open(path, opts...)
	require.NoError(t, err)
	return j
}

func flush(t *testing.T, j *Journal) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, j.Flush(ctx))
}

func TestJournal_RecordsCycles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j := openTest(t, path, WithRunInfo("/dev/ttyACM0", `{"x_kp":0.02}`))
	defer j.Close()

	at := time.UnixMilli(1_700_000_000_000)
	j.ObserveCycle(tracking.Cycle{
		Seq:     1,
		At:      at,
		Version: 3,
		Target: tracking.Target{
			Index: 1,
			Name:  "alice",
			Box:   trackstate.BBox{Top: 50, Right: 250, Bottom: 250, Left: 350},
		},
		Fired:   true,
		Acted:   true,
		Error:   tracking.Vector{X: 150},
		Output:  tracking.Vector{X: 3},
		Command: servo.Angles{-3, 0},
		Angles:  servo.Angles{67, 50},
	})
	j.ObserveCycle(tracking.Cycle{
		Seq:       2,
		At:        at.Add(200 * time.Millisecond),
		Fired:     true,
		Unchanged: true,
		Err:       errors.New("link lost"),
	})
	flush(t, j)

	entries, err := j.Cycles(context.Background(), "", 0)
	require.NoError(t, err)

	want := []Entry{
		{
			RunID:       j.RunID(),
			Seq:         1,
			At:          at,
			Version:     3,
			TargetIndex: 1,
			TargetName:  "alice",
			Box:         [4]float64{50, 250, 250, 350},
			Acted:       true,
			Error:       tracking.Vector{X: 150},
			Output:      tracking.Vector{X: 3},
			Command:     [2]float64{-3, 0},
			Angles:      [2]float64{67, 50},
		},
		{
			RunID:     j.RunID(),
			Seq:       2,
			At:        at.Add(200 * time.Millisecond),
			Unchanged: true,
			ErrorText: "link lost",
		},
	}
	if diff := cmp.Diff(want, entries, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(2), j.Stats().Written)
}

func TestJournal_RunsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	first := openTest(t, path, WithRunInfo("/dev/ttyACM0", ""))
	firstID := first.RunID()
	require.NoError(t, first.Close())

	second := openTest(t, path)
	defer second.Close()
	assert.NotEqual(t, firstID, second.RunID())

	runs, err := second.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]Run{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	assert.NotNil(t, byID[firstID].EndedAt, "closed run should have an end time")
	assert.Equal(t, "/dev/ttyACM0", byID[firstID].Device)
	assert.Nil(t, byID[second.RunID()].EndedAt)

	version, dirty, err := second.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestJournal_CyclesScopedToRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	first := openTest(t, path)
	first.ObserveCycle(tracking.Cycle{Seq: 1, At: time.Now()})
	flush(t, first)
	firstID := first.RunID()
	require.NoError(t, first.Close())

	second := openTest(t, path)
	defer second.Close()

	entries, err := second.Cycles(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = second.Cycles(context.Background(), firstID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJournal_Close(t *testing.T) {
	j := openTest(t, filepath.Join(t.TempDir(), "journal.db"))

	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Close(), ErrClosed)

	// observing after close is a no-op
	j.ObserveCycle(tracking.Cycle{Seq: 1})
	assert.Equal(t, uint64(0), j.Stats().Written)
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "journal.db"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	assert.Error(t, err)
}

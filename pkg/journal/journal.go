// Package journal records evaluated control cycles in sqlite so a tracking
// run can be replayed when tuning gains.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/econokeith/robocam/pkg/tracking"
)

// queueSize bounds the cycles waiting to be written
const queueSize = 256

// ErrClosed is returned when using a closed journal.
var ErrClosed = errors.New("journal: closed")

// Run describes one controller session.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Device     string     `json:"device"`
	ConfigJSON string     `json:"config_json,omitempty"`
}

// Entry is one journaled cycle.
type Entry struct {
	RunID       string
	Seq         uint64
	At          time.Time
	Version     uint64
	TargetIndex int
	TargetName  string
	Box         [4]float64
	Unchanged   bool
	Centered    bool
	Acted       bool
	Error       tracking.Vector
	Output      tracking.Vector
	Command     [2]float64
	Angles      [2]float64
	ErrorText   string
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the journal logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// WithRunInfo records the actuator device and a config dump on the run row.
func WithRunInfo(device, configJSON string) Option {
	return func(j *Journal) {
		j.device = device
		j.configJSON = configJSON
	}
}

// Journal writes cycles asynchronously to a sqlite database.
type Journal struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger

	device     string
	configJSON string

	queue   chan tracking.Cycle
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	queued  atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Open opens or creates the database at path, applies migrations and starts
// a new run.
func Open(path string, opts ...Option) (*Journal, error) {
	j := &Journal{
		runID: uuid.NewString(),
		queue: make(chan tracking.Cycle, queueSize),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = slog.Default().With("component", "journal")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// a single connection keeps writes ordered and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: pragmas: %w", err)
	}
	if err := migrateUp(db, j.logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}

	_, err = db.Exec(`INSERT INTO runs (run_id, started_at, device, config_json) VALUES (?, ?, ?, ?)`,
		j.runID, time.Now().UnixMilli(), j.device, j.configJSON)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: start run: %w", err)
	}

	j.db = db
	j.wg.Add(1)
	go j.writer()

	j.logger.Info("journal opened", "path", path, "run", j.runID)
	return j, nil
}

// RunID returns the id of the run being recorded.
func (j *Journal) RunID() string {
	return j.runID
}

// ObserveCycle queues c for writing. It never blocks; cycles are dropped
// when the writer falls behind. It implements tracking.Observer.
func (j *Journal) ObserveCycle(c tracking.Cycle) {
	j.closeMu.RLock()
	defer j.closeMu.RUnlock()
	if j.closed {
		return
	}

	select {
	case j.queue <- c:
		j.queued.Add(1)
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) writer() {
	defer j.wg.Done()
	for c := range j.queue {
		if err := j.insert(c); err != nil {
			n := j.failed.Add(1)
			if n == 1 || n%100 == 0 {
				j.logger.Warn("journal write failed", "error", err, "failures", n)
			}
			continue
		}
		j.written.Add(1)
	}
}

func (j *Journal) insert(c tracking.Cycle) error {
	var errText sql.NullString
	if c.Err != nil {
		errText = sql.NullString{String: c.Err.Error(), Valid: true}
	}
	box := c.Target.Box

	_, err := j.db.Exec(`
		INSERT INTO cycles (
			run_id, seq, at_ms, version, target_index, target_name,
			box_top, box_right, box_bottom, box_left,
			unchanged, centered, acted,
			error_x, error_y, output_x, output_y,
			command_pan, command_tilt, angle_pan, angle_tilt, error_text
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, int64(c.Seq), c.At.UnixMilli(), int64(c.Version), c.Target.Index, c.Target.Name,
		box.Top, box.Right, box.Bottom, box.Left,
		boolInt(c.Unchanged), boolInt(c.Centered), boolInt(c.Acted),
		c.Error.X, c.Error.Y, c.Output.X, c.Output.Y,
		c.Command[0], c.Command[1], c.Angles[0], c.Angles[1], errText,
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Flush waits until every queued cycle has been written or ctx ends.
func (j *Journal) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for j.written.Load()+j.failed.Load() < j.queued.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stats are write counters since Open.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Stats returns the write counters.
func (j *Journal) Stats() Stats {
	return Stats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
		Failed:  j.failed.Load(),
	}
}

// Cycles returns up to limit cycles of a run in sequence order. An empty
// runID selects the current run.
func (j *Journal) Cycles(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if runID == "" {
		runID = j.runID
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, seq, at_ms, version, target_index, COALESCE(target_name, ''),
			box_top, box_right, box_bottom, box_left,
			unchanged, centered, acted,
			error_x, error_y, output_x, output_y,
			command_pan, command_tilt, angle_pan, angle_tilt, COALESCE(error_text, '')
		FROM cycles WHERE run_id = ? ORDER BY seq LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query cycles: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e            Entry
			seq, version int64
			atMs         int64
		)
		err := rows.Scan(&e.RunID, &seq, &atMs, &version, &e.TargetIndex, &e.TargetName,
			&e.Box[0], &e.Box[1], &e.Box[2], &e.Box[3],
			&e.Unchanged, &e.Centered, &e.Acted,
			&e.Error.X, &e.Error.Y, &e.Output.X, &e.Output.Y,
			&e.Command[0], &e.Command[1], &e.Angles[0], &e.Angles[1], &e.ErrorText)
		if err != nil {
			return nil, fmt.Errorf("journal: scan cycle: %w", err)
		}
		e.Seq = uint64(seq)
		e.Version = uint64(version)
		e.At = time.UnixMilli(atMs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Runs lists recorded runs, newest first.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, started_at, ended_at, COALESCE(device, ''), COALESCE(config_json, '')
		FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.Device, &r.ConfigJSON); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			r.EndedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SchemaVersion returns the applied migration version.
func (j *Journal) SchemaVersion() (uint, bool, error) {
	return schemaVersion(j.db, j.logger)
}

// Close drains the queue, marks the run ended and closes the database.
func (j *Journal) Close() error {
	j.closeMu.Lock()
	if j.closed {
		j.closeMu.Unlock()
		return ErrClosed
	}
	j.closed = true
	close(j.queue)
	j.closeMu.Unlock()

	j.wg.Wait()

	_, err := j.db.Exec(`UPDATE runs SET ended_at = ? WHERE run_id = ?`, time.Now().UnixMilli(), j.runID)
	if cerr := j.db.Close(); err == nil {
		err = cerr
	}
	stats := j.Stats()
	j.logger.Info("journal closed", "run", j.runID, "written", stats.Written, "dropped", stats.Dropped)
	return err
}

var _ tracking.Observer = (*Journal)(nil)

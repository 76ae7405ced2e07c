// Package web serves the live gimbal status dashboard API
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/econokeith/robocam/pkg/hub"
	"github.com/econokeith/robocam/pkg/ingest"
	"github.com/econokeith/robocam/pkg/protocol"
	"github.com/econokeith/robocam/pkg/tracking"
)

// recentCycles is how many observed cycles the server keeps
const recentCycles = 100

// LoopSource is the read side of the control loop
type LoopSource interface {
	State() tracking.State
	Stats() tracking.Stats
}

// CycleView is a cycle as served to dashboard clients
type CycleView struct {
	tracking.Cycle
	Failure string `json:"failure,omitempty"`
}

func newCycleView(c tracking.Cycle) CycleView {
	v := CycleView{Cycle: c}
	if c.Err != nil {
		v.Failure = c.Err.Error()
	}
	return v
}

// Status is the dashboard snapshot
type Status struct {
	State     string         `json:"state"`
	Uptime    string         `json:"uptime"`
	Stats     tracking.Stats `json:"stats"`
	Last      *CycleView     `json:"last,omitempty"`
	Ingest    *ingest.Stats  `json:"ingest,omitempty"`
	Listeners int            `json:"listeners"`
}

// Server is the dashboard server
type Server struct {
	app     *fiber.App
	addr    string
	logger  *slog.Logger
	started time.Time

	mu     sync.RWMutex
	loop   LoopSource
	ingest *ingest.Server
	last   *CycleView
	recent []CycleView

	statusHub *hub.Hub
}

// NewServer creates a dashboard server listening on addr
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "web")
	}
	s := &Server{
		addr:      addr,
		logger:    logger,
		started:   time.Now(),
		recent:    make([]CycleView, 0, recentCycles),
		statusHub: hub.New("status", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Gimbal Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/cycles", s.handleCycles)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// SetLoop attaches the control loop whose state is reported
func (s *Server) SetLoop(loop LoopSource) {
	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
}

// SetIngest attaches the ingest server whose stats are reported
func (s *Server) SetIngest(in *ingest.Server) {
	s.mu.Lock()
	s.ingest = in
	s.mu.Unlock()
}

// App returns the underlying Fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// ObserveCycle records a loop cycle and pushes the new status to listeners.
// It implements tracking.Observer.
func (s *Server) ObserveCycle(c tracking.Cycle) {
	view := newCycleView(c)

	s.mu.Lock()
	s.last = &view
	if len(s.recent) == recentCycles {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:recentCycles-1]
	}
	s.recent = append(s.recent, view)
	s.mu.Unlock()

	msg, err := protocol.NewMessage(protocol.TypeStatus, s.Status())
	if err == nil {
		err = s.statusHub.Publish(msg)
	}
	if err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}

// Status returns the current dashboard snapshot
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:     "detached",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Last:      s.last,
		Listeners: s.statusHub.ListenerCount(),
	}
	if s.loop != nil {
		st.State = s.loop.State().String()
		st.Stats = s.loop.Stats()
	}
	if s.ingest != nil {
		stats := s.ingest.GetStats()
		st.Ingest = &stats
	}
	return st
}

// Recent returns the observed cycles, oldest first
func (s *Server) Recent() []CycleView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CycleView(nil), s.recent...)
}

// Run serves the dashboard until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	}
}

var _ tracking.Observer = (*Server)(nil)

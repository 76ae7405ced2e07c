// Package ingest receives face detections from perception processes and
// publishes them into the shared tracking state.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/econokeith/robocam/pkg/protocol"
	"github.com/econokeith/robocam/pkg/trackstate"
)

// ProducerConnection represents a connected perception process
type ProducerConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send sends a message to the producer
func (p *ProducerConnection) Send(msg *protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return p.Conn.WriteMessage(websocket.TextMessage, data)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server accepts detections over WebSocket and HTTP
type Server struct {
	store  *trackstate.Store
	logger *slog.Logger

	mu        sync.RWMutex
	producers map[string]*ProducerConnection

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	publishes        atomic.Uint64
	rejected         atomic.Uint64
	lastVersion      atomic.Uint64
}

// NewServer creates an ingest server writing into store
func NewServer(store *trackstate.Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		producers: make(map[string]*ProducerConnection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "ingest")
	}
	return s
}

// Publish validates detections and installs them as the newest snapshot.
func (s *Server) Publish(d *protocol.DetectionsData) (uint64, error) {
	if err := d.Validate(); err != nil {
		s.rejected.Add(1)
		return 0, fmt.Errorf("%w: %v", trackstate.ErrMismatch, err)
	}

	boxes := make([]trackstate.BBox, len(d.Boxes))
	for i, b := range d.Boxes {
		boxes[i] = trackstate.BBoxFromArray(b)
	}

	version, err := s.store.Publish(d.Names, boxes, d.Primary)
	if err != nil {
		s.rejected.Add(1)
		return 0, err
	}
	s.publishes.Add(1)
	s.lastVersion.Store(version)
	return version, nil
}

// SetPrimary changes the preferred target.
func (s *Server) SetPrimary(name string) (uint64, error) {
	version, err := s.store.SetPrimary(name)
	if err != nil {
		s.rejected.Add(1)
		return 0, err
	}
	s.lastVersion.Store(version)
	return version, nil
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (s *Server) RegisterRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Producer connection endpoint
	app.Get("/ws/perception", websocket.New(s.handleProducer))
	app.Get("/ws/perception/:id", websocket.New(s.handleProducer))
}

// handleProducer handles a perception WebSocket connection
func (s *Server) handleProducer(c *websocket.Conn) {
	// Get producer ID from path or generate one
	producerID := c.Params("id")
	if producerID == "" {
		producerID = uuid.NewString()
	}

	producer := &ProducerConnection{
		ID:        producerID,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	s.mu.Lock()
	s.producers[producerID] = producer
	count := len(s.producers)
	s.mu.Unlock()

	s.logger.Info("producer connected", "producer", producerID, "total", count)

	defer func() {
		s.mu.Lock()
		// a reconnect under the same id may already have replaced us
		if s.producers[producerID] == producer {
			delete(s.producers, producerID)
		}
		count := len(s.producers)
		s.mu.Unlock()

		s.logger.Info("producer disconnected", "producer", producerID, "total", count)
	}()

	// Read loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("producer read error", "producer", producerID, "error", err)
			}
			return
		}

		producer.mu.Lock()
		producer.LastSeen = time.Now()
		producer.mu.Unlock()

		s.messagesReceived.Add(1)
		if reply := s.handleMessage(producerID, data); reply != nil {
			s.messagesSent.Add(1)
			if err := producer.Send(reply); err != nil {
				s.logger.Warn("producer send error", "producer", producerID, "error", err)
				return
			}
		}
	}
}

// handleMessage processes an incoming message and returns the reply
func (s *Server) handleMessage(producerID string, data []byte) *protocol.Message {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Debug("parse error", "producer", producerID, "error", err)
		return errorReply(err)
	}

	switch msg.Type {
	case protocol.TypeDetections:
		detections, err := msg.GetDetectionsData()
		if err != nil {
			s.rejected.Add(1)
			return errorReply(err)
		}
		version, err := s.Publish(detections)
		if err != nil {
			return errorReply(err)
		}
		return ackReply(version)

	case protocol.TypePrimary:
		primary, err := msg.GetPrimaryData()
		if err != nil {
			s.rejected.Add(1)
			return errorReply(err)
		}
		version, err := s.SetPrimary(primary.Name)
		if err != nil {
			return errorReply(err)
		}
		return ackReply(version)

	case protocol.TypePing:
		var id string
		if ping, err := msg.GetPingData(); err == nil {
			id = ping.ID
		}
		pong, _ := protocol.NewPongMessage(id, msg.Timestamp, time.Now().UnixMilli())
		return pong

	default:
		s.rejected.Add(1)
		return errorReply(fmt.Errorf("unsupported message type %q", msg.Type))
	}
}

func ackReply(version uint64) *protocol.Message {
	msg, _ := protocol.NewAckMessage(version)
	return msg
}

func errorReply(err error) *protocol.Message {
	msg, _ := protocol.NewErrorMessage(err)
	return msg
}

// GetProducer returns a producer connection by ID
func (s *Server) GetProducer(producerID string) *ProducerConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.producers[producerID]
}

// ProducerCount returns the number of connected producers
func (s *Server) ProducerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.producers)
}

// Stats contains ingest statistics
type Stats struct {
	ProducerCount    int    `json:"producer_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Publishes        uint64 `json:"publishes"`
	Rejected         uint64 `json:"rejected"`
	LastVersion      uint64 `json:"last_version"`
}

// GetStats returns ingest statistics
func (s *Server) GetStats() Stats {
	return Stats{
		ProducerCount:    s.ProducerCount(),
		MessagesReceived: s.messagesReceived.Load(),
		MessagesSent:     s.messagesSent.Load(),
		Publishes:        s.publishes.Load(),
		Rejected:         s.rejected.Load(),
		LastVersion:      s.lastVersion.Load(),
	}
}

// ProducerInfo contains info about a connected producer
type ProducerInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetProducerInfos returns info about all connected producers
func (s *Server) GetProducerInfos() []ProducerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]ProducerInfo, 0, len(s.producers))
	for _, p := range s.producers {
		p.mu.Lock()
		infos = append(infos, ProducerInfo{
			ID:        p.ID,
			Connected: p.Connected,
			LastSeen:  p.LastSeen,
		})
		p.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers the HTTP publish and inspection routes
func (s *Server) RegisterAPIRoutes(api fiber.Router) {
	// Publish detections
	api.Post("/detections", func(c *fiber.Ctx) error {
		var d protocol.DetectionsData
		if err := c.BodyParser(&d); err != nil {
			s.rejected.Add(1)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		version, err := s.Publish(&d)
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"version": version})
	})

	// Change the primary target
	api.Post("/primary", func(c *fiber.Ctx) error {
		var p protocol.PrimaryData
		if err := c.BodyParser(&p); err != nil {
			s.rejected.Add(1)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		version, err := s.SetPrimary(p.Name)
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"version": version})
	})

	ingest := api.Group("/ingest")

	// Get ingest stats
	ingest.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.GetStats())
	})

	// List connected producers
	ingest.Get("/producers", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"producers": s.GetProducerInfos(),
			"count":     s.ProducerCount(),
		})
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, trackstate.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, trackstate.ErrCapacity), errors.Is(err, trackstate.ErrMismatch):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// App returns a Fiber app with all ingest routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Gimbal Ingest",
		DisableStartupMessage: true,
	})
	s.RegisterRoutes(app)
	s.RegisterAPIRoutes(app.Group("/api"))
	return app
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	return serveApp(ctx, s.App(), addr, s.logger)
}

func serveApp(ctx context.Context, app *fiber.App, addr string, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ingest listening", "addr", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	}
}

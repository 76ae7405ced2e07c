// Package hub fans status frames out to websocket listeners. One goroutine
// owns the listener set and each listener has its own writer goroutine.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/econokeith/robocam/pkg/protocol"
)

// queueSize bounds frames waiting for the hub goroutine
const queueSize = 256

// Stats are hub counters since creation.
type Stats struct {
	Listeners  int    `json:"listeners"`
	Broadcasts uint64 `json:"broadcasts"`
	Dropped    uint64 `json:"dropped"` // frames discarded because the queue was full
	Evicted    uint64 `json:"evicted"` // listeners cut off for falling behind
}

// Hub tracks connected listeners and delivers every published frame to each.
type Hub struct {
	name   string
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	frames  chan []byte
	join    chan *Listener
	leave   chan *Listener
	stopped chan struct{}

	// last is replayed to listeners as they join
	last atomic.Pointer[[]byte]

	running    atomic.Bool
	broadcasts atomic.Uint64
	dropped    atomic.Uint64
	evicted    atomic.Uint64
}

// New creates a hub. name tags its log records.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:      name,
		logger:    logger.With("hub", name),
		listeners: make(map[*Listener]struct{}),
		frames:    make(chan []byte, queueSize),
		join:      make(chan *Listener),
		leave:     make(chan *Listener),
		stopped:   make(chan struct{}),
	}
}

// Run delivers frames until ctx is cancelled, then disconnects every
// listener. A hub runs once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for l := range h.listeners {
				h.drop(l)
			}
			h.mu.Unlock()
			return

		case l := <-h.join:
			h.mu.Lock()
			h.listeners[l] = struct{}{}
			n := len(h.listeners)
			h.mu.Unlock()
			if last := h.last.Load(); last != nil {
				l.offer(*last)
			}
			h.logger.Debug("listener joined", "id", l.id, "listeners", n)

		case l := <-h.leave:
			h.mu.Lock()
			if _, ok := h.listeners[l]; ok {
				h.drop(l)
			}
			n := len(h.listeners)
			h.mu.Unlock()
			h.logger.Debug("listener left", "id", l.id, "listeners", n)

		case frame := <-h.frames:
			h.mu.Lock()
			for l := range h.listeners {
				if !l.offer(frame) {
					h.drop(l)
					h.evicted.Add(1)
					h.logger.Warn("evicted slow listener", "id", l.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes l and ends its writer. Caller holds mu.
func (h *Hub) drop(l *Listener) {
	delete(h.listeners, l)
	close(l.send)
}

// Publish encodes msg once and queues it for every listener.
func (h *Hub) Publish(msg *protocol.Message) error {
	frame, err := msg.Bytes()
	if err != nil {
		return err
	}
	h.PublishFrame(frame)
	return nil
}

// PublishFrame queues a pre-encoded text frame. It never blocks; when the
// queue is full the frame is counted as dropped but still becomes the one
// replayed to new listeners.
func (h *Hub) PublishFrame(frame []byte) {
	h.last.Store(&frame)
	h.broadcasts.Add(1)
	select {
	case h.frames <- frame:
	default:
		h.dropped.Add(1)
	}
}

// Last returns the most recently published frame, or nil.
func (h *Hub) Last() []byte {
	if last := h.last.Load(); last != nil {
		return *last
	}
	return nil
}

// ListenerCount returns the number of connected listeners
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Stats returns the hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Listeners:  h.ListenerCount(),
		Broadcasts: h.broadcasts.Load(),
		Dropped:    h.dropped.Load(),
		Evicted:    h.evicted.Load(),
	}
}

// IsRunning returns whether the hub loop is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

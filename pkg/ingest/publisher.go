package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/econokeith/robocam/pkg/protocol"
)

// ErrPublisherClosed is returned by calls on a closed Publisher.
var ErrPublisherClosed = errors.New("ingest: publisher closed")

// RejectedError is the controller's reason for refusing a message.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "ingest: rejected: " + e.Reason
}

// Publisher is the producer side of the perception WebSocket. Each call
// waits for the controller's reply, so calls are serialized.
type Publisher struct {
	id   string
	conn *websocket.Conn

	reqMu   sync.Mutex
	writeMu sync.Mutex
	replies chan *protocol.Message
	done    chan struct{}
	readErr error

	closeOnce sync.Once
}

// Dial connects to the ingest endpoint at url, for example
// ws://localhost:8090/ws/perception. A session id is appended to the path.
func Dial(ctx context.Context, url string) (*Publisher, error) {
	return DialID(ctx, url, uuid.NewString())
}

// DialID is Dial with an explicit producer id.
func DialID(ctx context.Context, url, id string) (*Publisher, error) {
	target := strings.TrimRight(url, "/") + "/" + id

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ingest: dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ingest: dial %s: %w", target, err)
	}

	p := &Publisher{
		id:      id,
		conn:    conn,
		replies: make(chan *protocol.Message, 1),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// ID returns the producer id this session registered with.
func (p *Publisher) ID() string {
	return p.id
}

func (p *Publisher) readLoop() {
	defer close(p.done)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.readErr = err
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		select {
		case p.replies <- msg:
		default:
			// nobody waiting, drop unsolicited messages
		}
	}
}

// PublishDetections sends one complete set of detections and returns the
// snapshot version assigned by the controller.
func (p *Publisher) PublishDetections(ctx context.Context, names []string, boxes [][4]float64, primary string) (uint64, error) {
	msg, err := protocol.NewDetectionsMessage(names, boxes, primary)
	if err != nil {
		return 0, err
	}
	return p.requestAck(ctx, msg)
}

// SetPrimary changes the preferred target without new detections.
func (p *Publisher) SetPrimary(ctx context.Context, name string) (uint64, error) {
	msg, err := protocol.NewPrimaryMessage(name)
	if err != nil {
		return 0, err
	}
	return p.requestAck(ctx, msg)
}

// Ping measures the round trip to the controller.
func (p *Publisher) Ping(ctx context.Context) (time.Duration, error) {
	msg, err := protocol.NewPingMessage(p.id)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	reply, err := p.request(ctx, msg)
	if err != nil {
		return 0, err
	}
	if reply.Type != protocol.TypePong {
		return 0, fmt.Errorf("ingest: unexpected reply %q to ping", reply.Type)
	}
	return time.Since(start), nil
}

func (p *Publisher) requestAck(ctx context.Context, msg *protocol.Message) (uint64, error) {
	reply, err := p.request(ctx, msg)
	if err != nil {
		return 0, err
	}

	switch reply.Type {
	case protocol.TypeAck:
		ack, err := reply.GetAckData()
		if err != nil {
			return 0, err
		}
		return ack.Version, nil
	case protocol.TypeError:
		data, err := reply.GetErrorData()
		if err != nil {
			return 0, err
		}
		return 0, &RejectedError{Reason: data.Error}
	default:
		return 0, fmt.Errorf("ingest: unexpected reply %q", reply.Type)
	}
}

func (p *Publisher) request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	select {
	case <-p.done:
		return nil, p.closedErr()
	default:
	}

	data, err := msg.Bytes()
	if err != nil {
		return nil, err
	}

	// a reply to an abandoned request must not answer this one
	select {
	case <-p.replies:
	default:
	}

	p.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		p.conn.SetWriteDeadline(deadline)
	} else {
		p.conn.SetWriteDeadline(time.Time{})
	}
	err = p.conn.WriteMessage(websocket.TextMessage, data)
	p.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("ingest: write: %w", err)
	}

	select {
	case reply := <-p.replies:
		return reply, nil
	case <-p.done:
		return nil, p.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Publisher) closedErr() error {
	if p.readErr != nil && !websocket.IsCloseError(p.readErr, websocket.CloseNormalClosure) {
		return fmt.Errorf("%w: %v", ErrPublisherClosed, p.readErr)
	}
	return ErrPublisherClosed
}

// Close sends a close frame and tears down the connection.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		p.writeMu.Unlock()
		err = p.conn.Close()
		<-p.done
	})
	return err
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/econokeith/robocam/pkg/ingest"
	"github.com/econokeith/robocam/pkg/protocol"
	"github.com/econokeith/robocam/pkg/servo"
	"github.com/econokeith/robocam/pkg/tracking"
	"github.com/econokeith/robocam/pkg/trackstate"
)

type fakeLoop struct {
	state tracking.State
	stats tracking.Stats
}

func (f *fakeLoop) State() tracking.State { return f.state }
func (f *fakeLoop) Stats() tracking.Stats { return f.stats }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatus_Detached(t *testing.T) {
	s := NewServer(":0", quiet())

	req := httptest.NewRequest("GET", "/api/status", nil)
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}

	var st Status
	json.NewDecoder(resp.Body).Decode(&st)
	if st.State != "detached" {
		t.Errorf("State = %q, want detached", st.State)
	}
}

func TestStatus_WithLoopAndIngest(t *testing.T) {
	s := NewServer(":0", quiet())
	s.SetLoop(&fakeLoop{state: tracking.StateTracking, stats: tracking.Stats{Cycles: 12, Acted: 3}})
	s.SetIngest(ingest.NewServer(trackstate.NewStore(0), ingest.WithLogger(quiet())))

	s.ObserveCycle(tracking.Cycle{
		Seq:     7,
		Fired:   true,
		Acted:   true,
		Command: servo.Angles{-3, 0},
	})

	st := s.Status()
	if st.State != "tracking" {
		t.Errorf("State = %q, want tracking", st.State)
	}
	if st.Stats.Cycles != 12 || st.Stats.Acted != 3 {
		t.Errorf("Stats = %+v", st.Stats)
	}
	if st.Ingest == nil {
		t.Error("Ingest stats should be reported once attached")
	}
	if st.Last == nil || st.Last.Seq != 7 {
		t.Fatalf("Last = %+v, want seq 7", st.Last)
	}
}

func TestObserveCycle_KeepsRecent(t *testing.T) {
	s := NewServer(":0", quiet())

	for i := 1; i <= recentCycles+5; i++ {
		s.ObserveCycle(tracking.Cycle{Seq: uint64(i)})
	}

	recent := s.Recent()
	if len(recent) != recentCycles {
		t.Fatalf("len(Recent) = %d, want %d", len(recent), recentCycles)
	}
	if recent[0].Seq != 6 || recent[len(recent)-1].Seq != recentCycles+5 {
		t.Errorf("Recent spans %d..%d", recent[0].Seq, recent[len(recent)-1].Seq)
	}
}

func TestObserveCycle_ErrorText(t *testing.T) {
	s := NewServer(":0", quiet())
	s.ObserveCycle(tracking.Cycle{Seq: 1, Err: errors.New("link lost")})

	if got := s.Status().Last.Failure; got != "link lost" {
		t.Errorf("Failure = %q, want link lost", got)
	}
}

func TestCyclesEndpoint(t *testing.T) {
	s := NewServer(":0", quiet())
	s.ObserveCycle(tracking.Cycle{Seq: 1})
	s.ObserveCycle(tracking.Cycle{Seq: 2})

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/cycles", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}

	var cycles []CycleView
	json.NewDecoder(resp.Body).Decode(&cycles)
	if len(cycles) != 2 {
		t.Errorf("len(cycles) = %d, want 2", len(cycles))
	}
}

func TestStatusWebSocket(t *testing.T) {
	s := NewServer(":18190", quiet())
	s.SetLoop(&fakeLoop{state: tracking.StateTracking})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18190/ws/status", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)
	s.ObserveCycle(tracking.Cycle{Seq: 42, Fired: true})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if msg.Type != protocol.TypeStatus {
		t.Errorf("Type = %s, want status", msg.Type)
	}

	var st Status
	if err := msg.ParseData(&st); err != nil {
		t.Fatalf("ParseData error: %v", err)
	}
	if st.Last == nil || st.Last.Seq != 42 {
		t.Errorf("Last = %+v, want seq 42", st.Last)
	}
}

func TestStatusWebSocket_RequiresUpgrade(t *testing.T) {
	s := NewServer(":0", quiet())

	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/status", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestCycleViewJSONKeepsErrorVector(t *testing.T) {
	v := newCycleView(tracking.Cycle{
		Seq:   3,
		Error: tracking.Vector{X: 150, Y: -40},
		Err:   errors.New("short write"),
	})

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out struct {
		Error   tracking.Vector `json:"error"`
		Failure string          `json:"failure"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Error != (tracking.Vector{X: 150, Y: -40}) {
		t.Errorf("error vector = %+v", out.Error)
	}
	if out.Failure != "short write" {
		t.Errorf("failure = %q", out.Failure)
	}
}

package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	wsHub "github.com/copperwatch/copperwatch/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func event(id string) alerts.Event {
	return alerts.Event{ID: id, RuleID: "breakout", Symbol: "CU", Value: 75100, Timestamp: time.Now().UTC()}
}

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
// Returns the ws:// URL, the hub, and a cancel function.
func startHub(t *testing.T, interval time.Duration, backlog int) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(interval, backlog)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelope reads messages until one with the wanted event name arrives.
func readEnvelope(t *testing.T, conn *websocket.Conn, want string) envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline) //nolint:errcheck
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Event == want {
			return env
		}
	}
}

func send(t *testing.T, hub *wsHub.Hub, ev alerts.Event) {
	t.Helper()
	if err := hub.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func waitCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Count: got %d, want %d", hub.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_Name(t *testing.T) {
	if got := wsHub.New(time.Second, 0).Name(); got != "websocket" {
		t.Errorf("Name: got %q, want websocket", got)
	}
}

func TestHub_Connect_ReceivesEmptyBacklog(t *testing.T) {
	wsURL, _, _ := startHub(t, time.Hour, 10)
	conn := dial(t, wsURL)

	env := readEnvelope(t, conn, wsHub.EventBacklog)
	var events []alerts.Event
	if err := json.Unmarshal(env.Data, &events); err != nil {
		t.Fatalf("backlog data: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Errorf("backlog: got %v, want empty list", events)
	}
}

func TestHub_Connect_ReplaysRecentEvents(t *testing.T) {
	wsURL, hub, _ := startHub(t, time.Hour, 2)
	for _, id := range []string{"e1", "e2", "e3"} {
		send(t, hub, event(id))
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.Recent()) != 2 || hub.Recent()[1].ID != "e3" {
		if time.Now().After(deadline) {
			t.Fatalf("Recent: got %v", hub.Recent())
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn := dial(t, wsURL)
	env := readEnvelope(t, conn, wsHub.EventBacklog)
	var events []alerts.Event
	json.Unmarshal(env.Data, &events) //nolint:errcheck
	if len(events) != 2 || events[0].ID != "e2" || events[1].ID != "e3" {
		t.Errorf("backlog: got %v, want e2,e3", events)
	}
}

func TestHub_AllClientsReceiveAlert(t *testing.T) {
	wsURL, hub, _ := startHub(t, time.Hour, 0)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readEnvelope(t, conns[i], wsHub.EventBacklog)
	}
	waitCount(t, hub, 3)

	send(t, hub, event("e1"))
	for i, conn := range conns {
		env := readEnvelope(t, conn, wsHub.EventAlert)
		var ev alerts.Event
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			t.Fatalf("client %d: unmarshal: %v", i, err)
		}
		if ev.ID != "e1" || ev.Value != 75100 {
			t.Errorf("client %d: got %+v", i, ev)
		}
	}
}

func TestHub_Heartbeat(t *testing.T) {
	wsURL, _, _ := startHub(t, testInterval, 0)
	conn := dial(t, wsURL)

	env := readEnvelope(t, conn, wsHub.EventHeartbeat)
	var hb wsHub.Heartbeat
	if err := json.Unmarshal(env.Data, &hb); err != nil {
		t.Fatalf("heartbeat data: %v", err)
	}
	if hb.Time.IsZero() {
		t.Error("heartbeat time: missing")
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, time.Hour, 0)

	conn := dial(t, wsURL)
	readEnvelope(t, conn, wsHub.EventBacklog)
	waitCount(t, hub, 1)

	conn.Close()
	waitCount(t, hub, 0)
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, time.Hour, 0)

	conn := dial(t, wsURL)
	readEnvelope(t, conn, wsHub.EventBacklog)
	waitCount(t, hub, 1)

	cancel() // signal shutdown
	waitCount(t, hub, 0)

	err := hub.Send(context.Background(), event("late"))
	if !errors.Is(err, wsHub.ErrHubStopped) {
		t.Errorf("Send after stop: got %v, want ErrHubStopped", err)
	}
	var de *alerts.DeliveryError
	if !errors.As(err, &de) || de.Channel != "websocket" {
		t.Errorf("Send after stop: got %T, want *alerts.DeliveryError", err)
	}
}

func TestHub_SendHonoursContextWhenQueueFull(t *testing.T) {
	hub := wsHub.New(time.Hour, 0) // Run not started: nothing drains the queue
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		err = hub.Send(ctx, event("flood"))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send: got %v, want deadline exceeded", err)
	}
}

func TestHub_EngineDeliversThroughHub(t *testing.T) {
	wsURL, hub, _ := startHub(t, time.Hour, 5)
	conn := dial(t, wsURL)
	readEnvelope(t, conn, wsHub.EventBacklog)

	var n alerts.Notifier = hub
	if err := n.Send(context.Background(), event("via-engine")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	env := readEnvelope(t, conn, wsHub.EventAlert)
	if !strings.Contains(string(env.Data), "via-engine") {
		t.Errorf("alert data: %s", env.Data)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(testInterval, 0)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	// Plain HTTP GET without WebSocket upgrade headers: 400
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

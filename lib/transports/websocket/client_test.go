package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// relayStub upgrades one connection and exposes what it received plus a way
// to write frames back and to hang up.
type relayStub struct {
	srv      *httptest.Server
	mu       sync.Mutex
	conn     *websocket.Conn
	ready    chan struct{}
	received chan []byte
	onPing   func() // set before the client connects
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	stub := &relayStub{
		ready:    make(chan struct{}),
		received: make(chan []byte, 16),
	}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.mu.Lock()
		stub.conn = conn
		stub.mu.Unlock()
		if stub.onPing != nil {
			handler := conn.PingHandler()
			conn.SetPingHandler(func(data string) error {
				stub.onPing()
				return handler(data)
			})
		}
		close(stub.ready)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			stub.received <- msg
		}
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *relayStub) write(t *testing.T, frame string) {
	t.Helper()
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("stub write: %v", err)
	}
}

func (s *relayStub) hangUp() {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

func TestConnectAndSend(t *testing.T) {
	stub := newRelayStub(t)
	c := NewClient(stub.url())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("expected connected state after Connect")
	}

	if err := c.Send(context.Background(), []interface{}{"CLOSE", "sub1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-stub.received:
		if string(msg) != `["CLOSE","sub1"]` {
			t.Errorf("unexpected wire payload: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("relay never received the frame")
	}
}

func TestFramesDeliverInbound(t *testing.T) {
	stub := newRelayStub(t)
	c := NewClient(stub.url())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	stub.write(t, `["NOTICE","hello"]`)

	select {
	case frame := <-c.Frames():
		if string(frame) != `["NOTICE","hello"]` {
			t.Errorf("unexpected frame: %s", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	stub := newRelayStub(t)
	c := NewClient(stub.url())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect should be a no-op: %v", err)
	}
}

func TestSendBeforeConnect(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1")
	if err := c.Send(context.Background(), "x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("expected dial failure")
	}
}

// TestServerHangUp: a dropped connection closes the frame channel and records
// a terminal error.
func TestServerHangUp(t *testing.T) {
	stub := newRelayStub(t)
	c := NewClient(stub.url())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	stub.hangUp()

	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-c.Frames():
		case <-deadline:
			t.Fatal("frame channel never closed after hang up")
		}
	}

	if c.Err() == nil {
		t.Error("expected a terminal error after hang up")
	}
	if c.IsConnected() {
		t.Error("expected disconnected state")
	}
	if err := c.Send(context.Background(), "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after hang up, got %v", err)
	}
}

// TestConnect_AfterConnectionLoss: the client can dial again after the relay
// drops it; the new connection delivers frames on a fresh channel.
func TestConnect_AfterConnectionLoss(t *testing.T) {
	conns := make(chan *websocket.Conn, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := <-conns
	first.Close()

	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-c.Frames():
		case <-deadline:
			t.Fatal("frame channel never closed after the relay dropped us")
		}
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("expected connected state after reconnect")
	}
	if c.Err() != nil {
		t.Errorf("terminal error should reset on reconnect, got %v", c.Err())
	}

	second := <-conns
	if err := second.WriteMessage(websocket.TextMessage, []byte(`["NOTICE","back"]`)); err != nil {
		t.Fatalf("relay write: %v", err)
	}

	select {
	case frame, ok := <-c.Frames():
		if !ok {
			t.Fatal("fresh frame channel closed unexpectedly")
		}
		if string(frame) != `["NOTICE","back"]` {
			t.Errorf("unexpected frame after reconnect: %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered after reconnect")
	}
}

// TestConnect_AfterClose: a deliberate Close is terminal.
func TestConnect_AfterClose(t *testing.T) {
	stub := newRelayStub(t)
	c := NewClient(stub.url())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

// TestClose: a deliberate Close drains without recording an error.
func TestClose(t *testing.T) {
	stub := newRelayStub(t)
	c := NewClient(stub.url())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-c.Frames():
		case <-deadline:
			t.Fatal("frame channel never closed after Close")
		}
	}

	if c.Err() != nil {
		t.Errorf("deliberate Close must not record an error, got %v", c.Err())
	}
}

func TestKeepalivePing(t *testing.T) {
	stub := newRelayStub(t)
	pings := make(chan struct{}, 4)
	stub.onPing = func() {
		select {
		case pings <- struct{}{}:
		default:
		}
	}

	c := NewClient(stub.url(), WithPingInterval(50*time.Millisecond))
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive ping observed")
	}
}

package connection

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// recorder collects transport events for assertions.
type recorder struct {
	mu       sync.Mutex
	opened   bool
	closed   bool
	errs     []error
	messages []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnOpen: func() {
			r.mu.Lock()
			r.opened = true
			r.mu.Unlock()
		},
		OnMessage: func(data []byte, receivedAt time.Time) {
			r.mu.Lock()
			r.messages = append(r.messages, string(data))
			r.mu.Unlock()
		},
		OnClose: func() {
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) waitOpened(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		opened := r.opened
		r.mu.Unlock()
		if opened {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for open event")
}

func (r *recorder) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for close event")
}

func (r *recorder) snapshot() ([]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := make([]string, len(r.messages))
	copy(msgs, r.messages)
	errs := make([]error, len(r.errs))
	copy(errs, r.errs)
	return msgs, errs
}

func TestWebsocketDialer_BadAddress(t *testing.T) {
	d := NewWebsocketDialer(DefaultDialConfig(), nil)

	tests := []string{
		"https://ccwap.example/live", // wrong scheme
		"ws://",                      // missing host
		"://nope",                    // unparsable
	}

	for _, addr := range tests {
		tr, err := d.Dial(addr, Handlers{})
		if !errors.Is(err, ErrBadAddress) {
			t.Errorf("Dial(%q) error = %v, want ErrBadAddress", addr, err)
		}
		if tr != nil {
			t.Errorf("Dial(%q) returned a transport on failure", addr)
		}
	}
}

func TestWebsocketTransport_OpenAndReceive(t *testing.T) {
	frames := []string{
		`{"type":"session_update","tokens":100}`,
		`{"type":"cost_update","usd":0.42}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	rec := &recorder{}
	d := NewWebsocketDialer(DefaultDialConfig(), nil)
	tr, err := d.Dial(wsURL(server), rec.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	rec.waitOpened(t)
	if !tr.IsOpen() {
		t.Error("IsOpen = false after open event")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, _ := rec.snapshot()
		if len(msgs) == len(frames) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs, errs := rec.snapshot()
	if len(msgs) != len(frames) {
		t.Fatalf("received %d frames, want %d", len(msgs), len(frames))
	}
	for i, want := range frames {
		if msgs[i] != want {
			t.Errorf("frame %d = %q, want %q", i, msgs[i], want)
		}
	}
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestWebsocketTransport_Send(t *testing.T) {
	received := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
	})
	defer server.Close()

	rec := &recorder{}
	d := NewWebsocketDialer(DefaultDialConfig(), nil)
	tr, err := d.Dial(wsURL(server), rec.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	rec.waitOpened(t)
	if err := tr.Send([]byte("ping")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "ping" {
			t.Errorf("server received %q, want %q", got, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server to receive frame")
	}
}

func TestWebsocketTransport_SendBeforeOpen(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	d := NewWebsocketDialer(DefaultDialConfig(), nil)

	// No handlers bound: the transport exists but may not be open yet.
	tr, err := d.Dial(wsURL(server), Handlers{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	if !tr.IsOpen() {
		if err := tr.Send([]byte("ping")); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Send before open = %v, want ErrNotConnected", err)
		}
	}
}

func TestWebsocketTransport_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	})
	defer server.Close()

	rec := &recorder{}
	d := NewWebsocketDialer(DefaultDialConfig(), nil)
	tr, err := d.Dial(wsURL(server), rec.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	rec.waitClosed(t)
	if tr.IsOpen() {
		t.Error("IsOpen = true after server close")
	}

	// Clean close: close event without an error event.
	_, errs := rec.snapshot()
	if len(errs) != 0 {
		t.Errorf("clean close produced errors: %v", errs)
	}
}

func TestWebsocketTransport_DialFailureEvents(t *testing.T) {
	// Nothing listens here.
	rec := &recorder{}
	cfg := DialConfig{HandshakeTimeout: 500 * time.Millisecond, WriteTimeout: time.Second}
	d := NewWebsocketDialer(cfg, nil)

	tr, err := d.Dial("ws://127.0.0.1:1/live", rec.handlers())
	if err != nil {
		t.Fatalf("Dial returned synchronous error for reachable-shaped addr: %v", err)
	}
	defer tr.Close()

	rec.waitClosed(t)
	_, errs := rec.snapshot()
	if len(errs) == 0 {
		t.Error("expected an error event before the close event")
	}
}

func TestWebsocketTransport_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	rec := &recorder{}
	d := NewWebsocketDialer(DefaultDialConfig(), nil)
	tr, err := d.Dial(wsURL(server), rec.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	rec.waitOpened(t)

	if err := tr.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if tr.IsOpen() {
		t.Error("IsOpen = true after Close")
	}
}

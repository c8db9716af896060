package connection

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handlers is the closed set of transport callbacks. Dial binds all four
// slots before returning; a nil slot is treated as a no-op.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte, receivedAt time.Time)
	OnClose   func()
	OnError   func(err error)
}

// Transport is a live bidirectional channel to the feed server. It is owned
// exclusively by the Manager and never shared outward.
type Transport interface {
	// Send writes a text frame to the connection.
	Send(data []byte) error

	// Close tears down the connection. Safe to call more than once.
	Close() error

	// IsOpen reports whether the transport currently has an open connection.
	IsOpen() bool
}

// Dialer constructs Transports. A Dial error represents a construction
// failure (e.g. a malformed address); transport-level failures after
// construction are delivered through the bound handlers instead, as an
// error event followed by a close event.
type Dialer interface {
	Dial(addr string, h Handlers) (Transport, error)
}

// WebsocketDialer dials gorilla/websocket transports. The network dial and
// read loop run asynchronously; the open event arrives via OnOpen.
type WebsocketDialer struct {
	cfg    DialConfig
	logger *slog.Logger
}

// NewWebsocketDialer creates a dialer with the given transport tuning.
func NewWebsocketDialer(cfg DialConfig, logger *slog.Logger) *WebsocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &WebsocketDialer{cfg: cfg, logger: logger}
}

// Dial validates the address synchronously, then connects in the background.
func (d *WebsocketDialer) Dial(addr string, h Handlers) (Transport, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme %q", ErrBadAddress, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrBadAddress)
	}

	t := &wsTransport{
		cfg:    d.cfg,
		logger: d.logger,
	}
	go t.run(addr, h)

	return t, nil
}

// wsTransport implements Transport over a gorilla/websocket connection.
type wsTransport struct {
	cfg    DialConfig
	logger *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool
}

// run dials the server, delivers the open event, and pumps inbound frames
// until the connection dies.
func (t *wsTransport) run(addr string, h Handlers) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.Dial(addr, nil)
	if err != nil {
		t.logger.Debug("websocket dial failed", "addr", addr, "error", err)
		if h.OnError != nil {
			h.OnError(err)
		}
		if h.OnClose != nil {
			h.OnClose()
		}
		return
	}

	t.mu.Lock()
	if t.closed {
		// Closed while the handshake was in flight.
		t.mu.Unlock()
		conn.Close()
		if h.OnClose != nil {
			h.OnClose()
		}
		return
	}
	t.conn = conn
	t.open = true
	t.mu.Unlock()

	t.logger.Debug("websocket connected", "addr", addr)
	if h.OnOpen != nil {
		h.OnOpen()
	}

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			t.mu.Lock()
			t.open = false
			wasClosed := t.closed
			t.mu.Unlock()

			// A clean close and a local Close() are not errors; everything
			// else is surfaced before the paired close event.
			if !wasClosed && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if h.OnError != nil {
					h.OnError(err)
				}
			}
			if h.OnClose != nil {
				h.OnClose()
			}
			return
		}

		if h.OnMessage != nil {
			h.OnMessage(data, receivedAt)
		}
	}
}

// Send writes a text frame to the connection.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	conn, open := t.conn, t.open
	t.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears down the connection. Idempotent.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.open = false
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// IsOpen reports whether the connection is currently open.
func (t *wsTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && !t.closed
}

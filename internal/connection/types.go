package connection

import (
	"errors"
	"time"

	"github.com/ccwap/livefeed/internal/feed"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrBadAddress     = errors.New("invalid feed address")
	ErrAlreadyStarted = errors.New("already started")
	ErrAlreadyClosed  = errors.New("already closed")
)

// State is the lifecycle state of a live connection. Exactly one value is
// active at a time.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Production tuning for the live connection.
const (
	DefaultMaxMessages      = 100
	DefaultPingInterval     = 30 * time.Second
	DefaultReconnectBase    = 1 * time.Second
	DefaultReconnectCap     = 30 * time.Second
	DefaultUpdateBuffer     = 256
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// ManagerConfig configures a live connection Manager.
type ManagerConfig struct {
	MaxMessages   int           // Event log capacity
	PingInterval  time.Duration // Heartbeat cadence while connected
	ReconnectBase time.Duration // Base delay between reconnect attempts
	ReconnectCap  time.Duration // Delay saturation for repeated failures
	UpdateBuffer  int           // Updates channel buffer size
}

// DefaultManagerConfig returns the fixed production tuning.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxMessages:   DefaultMaxMessages,
		PingInterval:  DefaultPingInterval,
		ReconnectBase: DefaultReconnectBase,
		ReconnectCap:  DefaultReconnectCap,
		UpdateBuffer:  DefaultUpdateBuffer,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxMessages == 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = DefaultReconnectBase
	}
	if c.ReconnectCap == 0 {
		c.ReconnectCap = DefaultReconnectCap
	}
	if c.UpdateBuffer == 0 {
		c.UpdateBuffer = DefaultUpdateBuffer
	}
	return c
}

// DialConfig configures the WebSocket transport.
type DialConfig struct {
	HandshakeTimeout time.Duration // Deadline for the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends
}

// DefaultDialConfig returns sensible defaults.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// ManagerStats provides a read-only view of manager state and counters.
type ManagerStats struct {
	State     State
	Retries   int   // Consecutive failed attempts since the last open
	Accepted  int64 // Frames surfaced to consumers
	Malformed int64 // Frames discarded as non-decodable
	Pongs     int64 // Liveness acknowledgments filtered out
	Dropped   int64 // Updates channel overflows
	Log       feed.LogStats
}

// heartbeatPayload is the literal liveness probe sent while connected.
var heartbeatPayload = []byte("ping")

package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccwap/livefeed/internal/feed"
)

// Manager maintains one logical live connection to a single feed address,
// transparently reconnecting on failure.
type Manager interface {
	// Start mounts the manager and begins the first connection attempt.
	// The transport is constructed synchronously; by the time Start
	// returns the status is StateConnecting.
	Start() error

	// Stop tears the manager down permanently. Idempotent. All pending
	// timers and callbacks are rendered inert before the transport is
	// released; the status freezes at its value at the moment of teardown.
	Stop() error

	// Resume opportunistically attempts a reconnect, for hosts that learn
	// the process regained foreground or network. No-op while an attempt
	// is in flight or the transport is already open; backoff bookkeeping
	// is untouched.
	Resume()

	// Status returns the current connection state.
	Status() State

	// LastEvent returns the most recently accepted event, or false if
	// none has arrived yet.
	LastEvent() (feed.Event, bool)

	// Events returns the bounded event history, most recent first.
	Events() []feed.Event

	// Updates returns a channel of accepted events. Delivery is
	// non-blocking; a slow consumer loses updates but the event log keeps
	// the history. Closed on Stop.
	Updates() <-chan feed.Event

	// Stats returns current state and normalizer counters.
	Stats() ManagerStats
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	addr   string
	dialer Dialer
	logger *slog.Logger

	mu        sync.Mutex
	mounted   bool
	closed    bool
	state     State
	retries   int
	gen       uint64 // current attempt generation; bumping detaches stale callbacks
	transport Transport
	dialing   bool // a connection attempt is outstanding
	hbStop    chan struct{}
	reconnect *time.Timer

	log     *feed.Log
	updates chan feed.Event

	accepted  int64
	malformed int64
	pongs     int64
	dropped   int64
}

// NewManager creates a live connection manager for the given feed address.
func NewManager(addr string, cfg ManagerConfig, dialer Dialer, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &manager{
		cfg:     cfg,
		addr:    addr,
		dialer:  dialer,
		logger:  logger.With("feed_id", uuid.New().String()[:8]),
		state:   StateDisconnected,
		log:     feed.NewLog(cfg.MaxMessages),
		updates: make(chan feed.Event, cfg.UpdateBuffer),
	}
}

// Start mounts the manager and initiates the first connection attempt.
func (m *manager) Start() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.mounted {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.mounted = true
	m.mu.Unlock()

	m.logger.Info("live feed starting", "addr", m.addr)
	m.connect()
	return nil
}

// Stop tears the manager down. The order matters: detach first (generation
// bump plus timer cancellation), then release the transport, so no callback
// can mutate state after this returns.
func (m *manager) Stop() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mounted = false
	m.gen++

	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.stopHeartbeatLocked()

	tr := m.transport
	m.transport = nil
	m.dialing = false
	close(m.updates)
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}

	m.logger.Info("live feed stopped")
	return nil
}

// Resume attempts an immediate reconnect if the transport is not open.
func (m *manager) Resume() {
	m.connect()
}

// Status returns the current connection state.
func (m *manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastEvent returns the most recently accepted event.
func (m *manager) LastEvent() (feed.Event, bool) {
	return m.log.Latest()
}

// Events returns the bounded history, most recent first.
func (m *manager) Events() []feed.Event {
	return m.log.Snapshot()
}

// Updates returns the accepted-event channel.
func (m *manager) Updates() <-chan feed.Event {
	return m.updates
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		State:     m.state,
		Retries:   m.retries,
		Accepted:  m.accepted,
		Malformed: m.malformed,
		Pongs:     m.pongs,
		Dropped:   m.dropped,
		Log:       m.log.Stats(),
	}
}

// connect performs one connection attempt. At most one attempt may be
// outstanding: re-entry while dialing, or while the transport is open, is a
// no-op, so a reconnect timer and a Resume call cannot race into two live
// handles.
func (m *manager) connect() {
	m.mu.Lock()
	if !m.mounted || m.dialing {
		m.mu.Unlock()
		return
	}
	if m.transport != nil && m.transport.IsOpen() {
		m.mu.Unlock()
		return
	}
	m.dialing = true
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.mu.Unlock()

	h := Handlers{
		OnOpen:    func() { m.onOpen(gen) },
		OnMessage: func(data []byte, at time.Time) { m.onMessage(gen, data, at) },
		OnClose:   func() { m.onClose(gen) },
		OnError:   func(err error) { m.onError(gen, err) },
	}

	tr, err := m.dialer.Dial(m.addr, h)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || gen != m.gen {
		// Superseded by teardown or a close that already happened.
		if tr != nil {
			go tr.Close()
		}
		return
	}

	if err != nil {
		// Construction failure behaves like an error plus close: state
		// goes to Error and a retry is scheduled, nothing propagates.
		m.dialing = false
		m.state = StateError
		m.logger.Warn("connect failed", "addr", m.addr, "error", err)
		m.scheduleReconnectLocked()
		return
	}

	m.transport = tr
}

// onOpen handles a successful transport open.
func (m *manager) onOpen(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted || gen != m.gen {
		return
	}

	m.dialing = false
	m.state = StateConnected
	m.retries = 0
	m.startHeartbeatLocked(gen)
	m.logger.Info("feed connected", "addr", m.addr)
}

// onMessage normalizes one inbound frame. Malformed frames and liveness
// acknowledgments are dropped without touching state.
func (m *manager) onMessage(gen uint64, data []byte, receivedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted || gen != m.gen {
		return
	}

	ev, ok := feed.Decode(data, receivedAt)
	if !ok {
		m.malformed++
		return
	}
	if ev.Type == feed.PongType {
		m.pongs++
		return
	}

	m.accepted++
	m.log.Push(ev)

	select {
	case m.updates <- ev:
	default:
		m.dropped++
	}
}

// onError handles a transport-level error event. Retry bookkeeping is left
// to the paired close event.
func (m *manager) onError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted || gen != m.gen {
		return
	}

	m.state = StateError
	m.logger.Warn("feed connection error", "error", err)
}

// onClose handles a transport close, clean or not: stop the heartbeat,
// detach the defunct handle, and schedule a reconnect.
func (m *manager) onClose(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted || gen != m.gen {
		return
	}

	m.stopHeartbeatLocked()
	m.gen++ // detach any remaining callbacks from this handle
	m.transport = nil
	m.dialing = false
	m.state = StateDisconnected
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer. The delay is
// computed from the retry count before incrementing it. Arming supersedes
// any previous pending timer.
func (m *manager) scheduleReconnectLocked() {
	delay := backoffDelay(m.cfg.ReconnectBase, m.cfg.ReconnectCap, m.retries)
	m.retries++

	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.reconnect = time.AfterFunc(delay, m.connect)

	m.logger.Debug("reconnect scheduled",
		"delay", delay,
		"retries", m.retries,
	)
}

// backoffDelay returns min(base * 2^retries, max).
func backoffDelay(base, max time.Duration, retries int) time.Duration {
	delay := base
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		delay = max
	}
	return delay
}

// startHeartbeatLocked starts a fresh heartbeat for the given attempt.
// Timers are never shared across attempts.
func (m *manager) startHeartbeatLocked(gen uint64) {
	m.stopHeartbeatLocked()
	stop := make(chan struct{})
	m.hbStop = stop
	go m.heartbeat(gen, stop)
}

// stopHeartbeatLocked stops the current heartbeat, if any.
func (m *manager) stopHeartbeatLocked() {
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

// heartbeat sends the liveness probe at a fixed interval while its attempt
// is current. Probes are skipped silently when the transport is not open.
func (m *manager) heartbeat(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			current := m.mounted && gen == m.gen
			tr := m.transport
			m.mu.Unlock()

			if !current {
				return
			}
			if tr == nil || !tr.IsOpen() {
				continue
			}
			if err := tr.Send(heartbeatPayload); err != nil {
				m.logger.Debug("heartbeat send failed", "error", err)
			}
		}
	}
}

// Package conn owns the WebSocket session to the agent daemon: dialing,
// keepalive, bounded outgoing writes, reconnect with backoff, and fan-out of
// decoded incoming frames to whoever subscribes.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/strandtui/strand/pkg/observability"
	"github.com/strandtui/strand/pkg/wire"
)

var (
	// ErrBackpressure means the outgoing queue is full. The caller decides
	// whether to retry, surface it, or drop the message.
	ErrBackpressure = errors.New("conn: outgoing queue full")

	// ErrNotConnected means there is no live socket to write to.
	ErrNotConnected = errors.New("conn: not connected")
)

const (
	defaultDialTimeout   = 15 * time.Second
	defaultMaxRetries    = 5
	defaultMaxBackoff    = 30 * time.Second
	defaultKeepalive     = 30 * time.Second
	defaultPingTimeout   = 5 * time.Second
	outgoingQueueSize    = 100
	incomingReadLimit    = 32 << 20
	minReconnectInterval = 500 * time.Millisecond
)

// CloseError is a transport-level close carrying the peer's code and reason.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("conn: closed by peer (code=%d): %s", e.Code, e.Reason)
}

// CloseInfo records why the last session ended.
type CloseInfo struct {
	Reason    string
	Retryable bool
}

// Transport is one live socket. The production implementation wraps
// nhooyr.io/websocket; tests substitute an in-memory fake.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Dialer opens a Transport to the given endpoint.
type Dialer func(ctx context.Context, endpoint string) (Transport, error)

// Config controls a Manager. Zero values pick production defaults.
type Config struct {
	Host  string
	Token string
	TLS   bool

	MaxRetries  int
	MaxBackoff  time.Duration
	DialTimeout time.Duration
	Keepalive   time.Duration
	PingTimeout time.Duration

	Dialer Dialer
}

func (c *Config) fillDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.Keepalive == 0 {
		c.Keepalive = defaultKeepalive
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = defaultPingTimeout
	}
	if c.Dialer == nil {
		c.Dialer = DialWebSocket
	}
}

// Endpoint builds the socket URL for this config.
func (c Config) Endpoint() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.Host, Path: "/ws"}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Manager maintains one agent socket across reconnects.
type Manager struct {
	cfg Config
	log *observability.Logger

	incoming *Hub[wire.ControlMessage]
	states   *Hub[State]
	outgoing chan []byte

	mu        sync.RWMutex
	state     State
	transport Transport
	lastClose *CloseInfo
	shutdown  bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewManager builds a Manager; call Run to start it.
func NewManager(cfg Config, log *observability.Logger) *Manager {
	cfg.fillDefaults()
	if log == nil {
		log = observability.NewLogger("conn")
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		incoming: NewHub[wire.ControlMessage](),
		states:   NewHub[State](),
		outgoing: make(chan []byte, outgoingQueueSize),
		state:    Disconnected,
		stopped:  make(chan struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// WatchState returns a channel of state transitions and a cleanup func.
func (m *Manager) WatchState() (<-chan State, func()) {
	return m.states.Subscribe()
}

// Messages returns a subscription to decoded incoming frames.
func (m *Manager) Messages() (<-chan wire.ControlMessage, func()) {
	return m.incoming.Subscribe()
}

// LastClose reports why the previous session ended, if one has ended.
func (m *Manager) LastClose() (CloseInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastClose == nil {
		return CloseInfo{}, false
	}
	return *m.lastClose, true
}

// CanSend reports whether a Send would reach a live socket.
func (m *Manager) CanSend() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transport != nil && m.state.Phase == PhaseConnected
}

// Send queues one outgoing message without blocking. A full queue surfaces
// ErrBackpressure; no live socket surfaces ErrNotConnected.
func (m *Manager) Send(msg wire.Outgoing) error {
	if !m.CanSend() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conn: encode outgoing: %w", err)
	}
	select {
	case m.outgoing <- payload:
		return nil
	default:
		observability.OutgoingDropped.Inc()
		return ErrBackpressure
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev == s {
		return
	}
	observability.ConnectionState.Set(float64(s.Phase))
	m.log.ConnectionStateChanged(prev.String(), s.String(), s.Attempt)
	m.states.Publish(s)
}

func (m *Manager) setTransport(t Transport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
}

// Shutdown closes the socket with a normal close frame, forces Disconnected,
// and stops reconnecting. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		t := m.transport
		m.transport = nil
		m.mu.Unlock()
		if t != nil {
			_ = t.Close("client shutting down")
		}
		close(m.stopped)
	})
	m.setState(Disconnected)
}

func (m *Manager) isShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shutdown
}

// backoffFor returns the delay before the given retry attempt (1-based).
func (m *Manager) backoffFor(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxBackoff {
			return m.cfg.MaxBackoff
		}
	}
	if d > m.cfg.MaxBackoff {
		d = m.cfg.MaxBackoff
	}
	if d < minReconnectInterval {
		d = minReconnectInterval
	}
	return d
}

// Run dials and services the socket until the context ends, Shutdown is
// called, retries are exhausted, or the peer closes with an explicit reason.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Disconnected)
	defer m.incoming.Close()

	attempt := 0
	for {
		if ctx.Err() != nil || m.isShutdown() {
			return ctx.Err()
		}

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		transport, err := m.cfg.Dialer(dialCtx, m.cfg.Endpoint())
		cancel()
		if err != nil {
			attempt++
			observability.ReconnectAttempts.Inc()
			if attempt > m.cfg.MaxRetries {
				m.log.Error("giving up after repeated connect failures", "attempts", attempt-1, "error", err)
				return fmt.Errorf("conn: connect failed after %d attempts: %w", attempt-1, err)
			}
			m.setState(Reconnecting(attempt))
			delay := m.backoffFor(attempt)
			m.log.Warn("connect failed, retrying", "attempt", attempt, "backoff", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.stopped:
				return nil
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		m.setTransport(transport)
		m.setState(Connected)

		err = m.serve(ctx, transport)
		m.setTransport(nil)

		if ctx.Err() != nil || m.isShutdown() {
			_ = transport.Close("client shutting down")
			return ctx.Err()
		}

		var closeErr *CloseError
		if errors.As(err, &closeErr) && closeErr.Reason != "" {
			// The peer said why it hung up. That is a retryable condition
			// but not one we retry on our own; the user decides.
			m.mu.Lock()
			m.lastClose = &CloseInfo{Reason: closeErr.Reason, Retryable: true}
			m.mu.Unlock()
			m.log.Warn("connection closed by peer", "reason", closeErr.Reason)
			m.setState(Disconnected)
			return nil
		}

		// Flip the observable before the next dial starts; a slow dial must
		// not leave samplers believing the dead socket is still live.
		m.log.Warn("connection lost, reconnecting", "error", err)
		m.setState(Reconnecting(1))
	}
}

// serve runs the read loop, write pump, and keepalive for one session. It
// returns when the socket dies or the context ends.
func (m *Manager) serve(ctx context.Context, transport Transport) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- m.writePump(sessionCtx, transport)
	}()

	go m.keepalive(sessionCtx, transport)

	readErr := make(chan error, 1)
	go func() {
		readErr <- m.readLoop(sessionCtx, transport)
	}()

	select {
	case err := <-readErr:
		return err
	case err := <-writeErr:
		return err
	case <-m.stopped:
		return nil
	case <-sessionCtx.Done():
		return sessionCtx.Err()
	}
}

func (m *Manager) readLoop(ctx context.Context, transport Transport) error {
	for {
		frame, err := transport.Read(ctx)
		if err != nil {
			return err
		}
		msg, err := wire.DecodeControl(frame)
		if err != nil {
			// A malformed frame is the peer's problem, not a reason to drop
			// the socket.
			observability.DecodeFailures.WithLabelValues("control").Inc()
			m.log.DecodeFailed("control", frameSnippet(frame), err)
			continue
		}
		m.incoming.Publish(msg)
	}
}

func (m *Manager) writePump(ctx context.Context, transport Transport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-m.outgoing:
			if err := transport.Write(ctx, payload); err != nil {
				return err
			}
			m.log.MessageSent("outgoing", len(payload))
		}
	}
}

func (m *Manager) keepalive(ctx context.Context, transport Transport) {
	ticker := time.NewTicker(m.cfg.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
			err := transport.Ping(pingCtx)
			cancel()
			if err != nil {
				// Let the read loop observe the dead socket and reconnect.
				return
			}
		}
	}
}

func frameSnippet(frame []byte) string {
	const max = 120
	if len(frame) > max {
		return string(frame[:max])
	}
	return string(frame)
}

// DialWebSocket is the production Dialer.
func DialWebSocket(ctx context.Context, endpoint string) (Transport, error) {
	c, resp, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("conn: dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("conn: dial %s: %w", endpoint, err)
	}
	c.SetReadLimit(incomingReadLimit)
	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

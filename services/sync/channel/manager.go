// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package channel owns the push-channel connection for one authenticated
// session.
//
// The manager is an explicit state machine over a websocket transport:
//
//	disconnected → connecting → connected
//	                   ↓            ↓ (unexpected close)
//	               backing-off ←────┘
//	                   ↓ (delay, attempt++)
//	               connecting
//
// Reconnect delays follow min(base·2^attempt, max) with a fixed attempt
// ceiling, after which the manager stops retrying and raises a
// channel-unavailable event. The channel is an optimization: the sync
// engine keeps working through the fallback client and local cache when
// it is down, so no correctness depends on this package succeeding.
//
// The manager owns connection state only; it never touches business data.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// Fixed timing parameters. Connect timeout and backoff bounds are not
// user-configurable at this layer (tests shrink them via Config).
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultMaxAttempts    = 5
)

var (
	// ErrNotConnected is returned by Send when the channel is not in the
	// connected state. Callers fall back to the request client.
	ErrNotConnected = errors.New("channel not connected")

	// ErrAlreadyStarted is returned by Connect on a manager whose run
	// loop is already running or has terminated.
	ErrAlreadyStarted = errors.New("channel manager already started")
)

// State is the connection state of the manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackingOff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing-off"
	default:
		return "disconnected"
	}
}

// Event is emitted on every state transition. Unavailable marks the
// terminal give-up after the attempt ceiling; consumers should treat it
// as "operate through the fallback path from now on".
type Event struct {
	State       State
	Attempt     int
	Unavailable bool
	Err         error
}

// Message types on the wire. The client joins its user's room
// immediately after connecting so server-pushed updates addressed to
// this user are received; the server relays progress-updated envelopes
// to the user's other sessions.
const (
	TypeJoinRoom        = "join-room"
	TypeProgressUpdate  = "progress-update"
	TypeProgressUpdated = "progress-updated"
)

// Envelope is the wire frame exchanged over the channel.
type Envelope struct {
	Type     string                      `json:"type"`
	UserID   string                      `json:"userId,omitempty"`
	Progress *datatypes.CompletionRecord `json:"progress,omitempty"`
}

// Conn is one open bidirectional connection.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Transport dials connections. The production implementation is
// gorilla/websocket; tests substitute scripted fakes.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsTransport struct {
	dialer *websocket.Dialer
}

// NewWebsocketTransport returns the gorilla/websocket transport with the
// fixed handshake timeout.
func NewWebsocketTransport() Transport {
	return &wsTransport{
		dialer: &websocket.Dialer{HandshakeTimeout: DefaultConnectTimeout},
	}
}

func (t *wsTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config configures a Manager.
type Config struct {
	// URL is the websocket endpoint.
	URL string

	// UserID binds the session; sent in the join-room frame.
	UserID string

	// ConnectTimeout bounds one dial attempt. Default 10s.
	ConnectTimeout time.Duration

	// BaseDelay and MaxDelay bound the backoff schedule
	// min(BaseDelay·2^attempt, MaxDelay). Defaults 1s and 30s.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MaxAttempts is the reconnect ceiling. Default 5.
	MaxAttempts int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = DefaultBaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = DefaultMaxDelay
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	return out
}

// Delay returns the reconnect delay before retry number attempt
// (1-based): min(base·2^attempt, max). With the defaults this yields
// 2s, 4s, 8s, 16s, 30s for attempts 1..5.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 62 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Manager owns one push-channel connection.
//
// Thread Safety: Safe for concurrent use. Writes to the underlying
// connection are serialized internally.
type Manager struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	attempt int
	conn    Conn
	started bool

	events   chan Event
	incoming chan datatypes.CompletionRecord
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager. Call Connect to start it.
func NewManager(cfg Config, transport Transport, logger *slog.Logger) *Manager {
	if transport == nil {
		transport = NewWebsocketTransport()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		transport: transport,
		logger:    logger.With("component", "channel"),
		state:     StateDisconnected,
		events:    make(chan Event, 32),
		incoming:  make(chan datatypes.CompletionRecord, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Connect starts the connection loop. It returns immediately; progress
// is reported via Events. A manager connects at most once per lifetime;
// sign-out tears it down via Disconnect.
func (m *Manager) Connect() error {
	if m.stopped() {
		return ErrAlreadyStarted
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	go m.run()
	return nil
}

// Disconnect permanently stops the manager (user sign-out). It clears
// the attempt counter, closes any open connection, and waits for the run
// loop to exit. Safe to call multiple times.
func (m *Manager) Disconnect() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		if m.conn != nil {
			m.conn.Close()
		}
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.done
		} else {
			close(m.done)
		}
		m.setState(StateDisconnected, 0, nil, false)
	})
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns the state-transition stream. The channel is buffered;
// slow consumers lose oldest-style delivery (transitions are coalesced
// by dropping, never blocked on).
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Incoming returns remote-originated completion records relayed by the
// server (progress-updated frames).
func (m *Manager) Incoming() <-chan datatypes.CompletionRecord {
	return m.incoming
}

// Send delivers one completion record over the channel. Returns
// ErrNotConnected when the channel is down so the caller can use the
// fallback client instead.
func (m *Manager) Send(rec datatypes.CompletionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return ErrNotConnected
	}
	env := Envelope{Type: TypeProgressUpdate, UserID: m.cfg.UserID, Progress: &rec}
	if err := m.conn.WriteJSON(env); err != nil {
		// The read loop will observe the broken connection and drive the
		// backoff transition; here we just report the failure.
		return err
	}
	return nil
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		select {
		case <-m.stop:
			return
		default:
		}

		m.setState(StateConnecting, m.attemptCount(), nil, false)

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		conn, err := m.transport.Dial(ctx, m.cfg.URL)
		cancel()

		if err != nil {
			if m.stopped() {
				return
			}
			if !m.backOff(err) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.attempt = 0
		m.mu.Unlock()

		if m.stopped() {
			m.dropConn()
			return
		}

		// Join the user's room before announcing connected: subscribers
		// drain their replay queues on the connected event, and those
		// sends must land after the room membership is established.
		if err := m.writeJSON(Envelope{Type: TypeJoinRoom, UserID: m.cfg.UserID}); err != nil {
			m.logger.Warn("join-room failed", "error", err)
			m.dropConn()
			if m.stopped() {
				return
			}
			if !m.backOff(err) {
				return
			}
			continue
		}

		m.setState(StateConnected, 0, nil, false)
		m.logger.Info("channel connected", "user_id", m.cfg.UserID)

		serverClosed := m.readLoop(conn)
		m.dropConn()

		if m.stopped() {
			return
		}
		if serverClosed {
			// Explicit server-initiated close is terminal for this
			// session; no auto-retry.
			m.logger.Info("channel closed by server")
			m.setState(StateDisconnected, 0, nil, false)
			return
		}
		if !m.backOff(errors.New("connection lost")) {
			return
		}
	}
}

// readLoop consumes frames until the connection fails. It returns true
// when the server explicitly requested the disconnect.
func (m *Manager) readLoop(conn Conn) bool {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				switch closeErr.Code {
				case websocket.CloseNormalClosure, websocket.CloseGoingAway:
					return true
				}
			}
			return false
		}

		if env.Type != TypeProgressUpdated || env.Progress == nil {
			continue
		}
		select {
		case m.incoming <- *env.Progress:
		case <-m.stop:
			return false
		}
	}
}

// backOff schedules the next reconnect. It returns false when the
// attempt ceiling is exceeded, after which the manager is permanently
// disconnected and a channel-unavailable event has been raised.
func (m *Manager) backOff(cause error) bool {
	m.mu.Lock()
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()

	if attempt > m.cfg.MaxAttempts {
		m.logger.Warn("channel retry ceiling reached, giving up",
			"attempts", attempt-1, "error", cause)
		m.setState(StateDisconnected, attempt-1, cause, true)
		return false
	}

	delay := Delay(attempt, m.cfg.BaseDelay, m.cfg.MaxDelay)
	m.setState(StateBackingOff, attempt, cause, false)
	m.logger.Info("channel backing off",
		"attempt", attempt, "delay", delay.String(), "error", cause)

	select {
	case <-m.stop:
		return false
	case <-time.After(delay):
		return true
	}
}

func (m *Manager) setState(s State, attempt int, err error, unavailable bool) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	ev := Event{State: s, Attempt: attempt, Err: err, Unavailable: unavailable}
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("dropping channel event, consumer too slow", "state", s.String())
	}
}

func (m *Manager) writeJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	return m.conn.WriteJSON(v)
}

func (m *Manager) dropConn() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *Manager) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

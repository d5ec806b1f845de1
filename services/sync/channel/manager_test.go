// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// fakeConn is a scriptable connection. Reads block until a frame is
// queued or the connection fails.
type fakeConn struct {
	mu      sync.Mutex
	wrote   []Envelope
	frames  chan Envelope
	readErr chan error
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan Envelope, 16),
		readErr: make(chan error, 1),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	env, ok := v.(Envelope)
	if !ok {
		return errors.New("unexpected frame type")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed conn")
	}
	c.wrote = append(c.wrote, env)
	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case env := <-c.frames:
		*(v.(*Envelope)) = env
		return nil
	case err := <-c.readErr:
		return err
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		select {
		case c.readErr <- errors.New("use of closed connection"):
		default:
		}
	}
	return nil
}

func (c *fakeConn) written() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.wrote))
	copy(out, c.wrote)
	return out
}

// fakeTransport serves a script of dial outcomes: nil means dial error,
// a conn means success. Past the end of the script, dials fail.
type fakeTransport struct {
	mu    sync.Mutex
	calls int
	conns []*fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.calls <= len(t.conns) && t.conns[t.calls-1] != nil {
		return t.conns[t.calls-1], nil
	}
	return nil, errors.New("dial refused")
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func fastConfig() Config {
	return Config{
		URL:            "ws://test/ws",
		UserID:         "u1",
		ConnectTimeout: 100 * time.Millisecond,
		BaseDelay:      time.Millisecond,
		MaxDelay:       30 * time.Millisecond,
		MaxAttempts:    5,
	}
}

func waitForEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("expected channel event never arrived")
		}
	}
}

// TestDelaySchedule pins the exact backoff schedule:
// 2000, 4000, 8000, 16000, 30000 ms for attempts 1..5.
func TestDelaySchedule(t *testing.T) {
	want := []time.Duration{
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		got := Delay(i+1, DefaultBaseDelay, DefaultMaxDelay)
		assert.Equal(t, w, got, "attempt %d", i+1)
	}

	// Monotonic and capped beyond the ceiling.
	assert.Equal(t, DefaultMaxDelay, Delay(6, DefaultBaseDelay, DefaultMaxDelay))
	assert.Equal(t, DefaultMaxDelay, Delay(100, DefaultBaseDelay, DefaultMaxDelay))
}

// TestConnectJoinsRoomBeforeConnectedEvent verifies the join-room frame
// is written before the connected transition is announced, so replay
// drains always run with room membership established.
func TestConnectJoinsRoomBeforeConnectedEvent(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{conn}}

	m := NewManager(fastConfig(), tr, nil)
	require.NoError(t, m.Connect())
	defer m.Disconnect()

	waitForEvent(t, m.Events(), func(ev Event) bool { return ev.State == StateConnected })

	wrote := conn.written()
	require.NotEmpty(t, wrote)
	assert.Equal(t, TypeJoinRoom, wrote[0].Type)
	assert.Equal(t, "u1", wrote[0].UserID)
	assert.Equal(t, StateConnected, m.State())
}

// TestSendRequiresConnected verifies Send refuses while disconnected so
// callers route through the fallback client.
func TestSendRequiresConnected(t *testing.T) {
	m := NewManager(fastConfig(), &fakeTransport{}, nil)
	err := m.Send(datatypes.CompletionRecord{UserID: "u1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

// TestSendWritesProgressUpdate verifies the outbound frame shape.
func TestSendWritesProgressUpdate(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{conn}}

	m := NewManager(fastConfig(), tr, nil)
	require.NoError(t, m.Connect())
	defer m.Disconnect()
	waitForEvent(t, m.Events(), func(ev Event) bool { return ev.State == StateConnected })

	rec := datatypes.CompletionRecord{
		UserID: "u1", RoadmapID: "r1", ModuleID: "m1", TaskID: "t1",
		Completed: true, UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.Send(rec))

	wrote := conn.written()
	require.Len(t, wrote, 2)
	assert.Equal(t, TypeProgressUpdate, wrote[1].Type)
	require.NotNil(t, wrote[1].Progress)
	assert.Equal(t, rec.Key(), wrote[1].Progress.Key())
}

// TestIncomingDeliversRemoteUpdates verifies progress-updated frames
// reach the Incoming stream and other frame types are ignored.
func TestIncomingDeliversRemoteUpdates(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{conn}}

	m := NewManager(fastConfig(), tr, nil)
	require.NoError(t, m.Connect())
	defer m.Disconnect()
	waitForEvent(t, m.Events(), func(ev Event) bool { return ev.State == StateConnected })

	conn.frames <- Envelope{Type: "noise"}
	rec := datatypes.CompletionRecord{
		UserID: "u1", RoadmapID: "r1", ModuleID: "m1", TaskID: "t2",
		Completed: true, UpdatedAt: time.Now().UTC(),
	}
	conn.frames <- Envelope{Type: TypeProgressUpdated, Progress: &rec}

	select {
	case got := <-m.Incoming():
		assert.Equal(t, rec.Key(), got.Key())
	case <-time.After(2 * time.Second):
		t.Fatal("remote update never delivered")
	}
}

// TestReconnectAfterUnexpectedClose verifies an unexpected read failure
// drives backing-off → connecting → connected, and that the attempt
// counter resets on success.
func TestReconnectAfterUnexpectedClose(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{first, second}}

	m := NewManager(fastConfig(), tr, nil)
	require.NoError(t, m.Connect())
	defer m.Disconnect()
	waitForEvent(t, m.Events(), func(ev Event) bool { return ev.State == StateConnected })

	first.readErr <- errors.New("connection reset")

	waitForEvent(t, m.Events(), func(ev Event) bool { return ev.State == StateBackingOff })
	waitForEvent(t, m.Events(), func(ev Event) bool { return ev.State == StateConnected })

	assert.Equal(t, 2, tr.dialCount())
	// Fresh connection re-joined the room.
	wrote := second.written()
	require.NotEmpty(t, wrote)
	assert.Equal(t, TypeJoinRoom, wrote[0].Type)
}

// TestGivesUpAfterCeiling verifies the manager stops retrying past
// MaxAttempts and raises channel-unavailable.
func TestGivesUpAfterCeiling(t *testing.T) {
	tr := &fakeTransport{} // every dial fails

	m := NewManager(fastConfig(), tr, nil)
	require.NoError(t, m.Connect())
	defer m.Disconnect()

	ev := waitForEvent(t, m.Events(), func(ev Event) bool { return ev.Unavailable })
	assert.Equal(t, StateDisconnected, ev.State)
	assert.Equal(t, 5, ev.Attempt)

	// Initial dial plus five retries, then nothing more.
	assert.Equal(t, 6, tr.dialCount())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 6, tr.dialCount())
	assert.Equal(t, StateDisconnected, m.State())
}

// TestServerInitiatedCloseIsTerminal verifies a normal-closure frame ends
// the session without auto-retry.
func TestServerInitiatedCloseIsTerminal(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{conn, newFakeConn()}}

	m := NewManager(fastConfig(), tr, nil)
	require.NoError(t, m.Connect())
	defer m.Disconnect()
	waitForEvent(t, m.Events(), func(ev Event) bool { return ev.State == StateConnected })

	conn.readErr <- &websocket.CloseError{Code: websocket.CloseNormalClosure}

	waitForEvent(t, m.Events(), func(ev Event) bool {
		return ev.State == StateDisconnected && !ev.Unavailable
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount(), "terminal close must not redial")
}

// TestDisconnectStopsRetrying verifies sign-out interrupts the backoff
// wait and leaves the manager disconnected.
func TestDisconnectStopsRetrying(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = time.Hour // park the manager in backing-off
	cfg.MaxDelay = time.Hour
	tr := &fakeTransport{}

	m := NewManager(cfg, tr, nil)
	require.NoError(t, m.Connect())
	waitForEvent(t, m.Events(), func(ev Event) bool { return ev.State == StateBackingOff })

	done := make(chan struct{})
	go func() {
		m.Disconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect hung during backoff")
	}
	assert.Equal(t, StateDisconnected, m.State())
	assert.ErrorIs(t, m.Connect(), ErrAlreadyStarted)
}

package watchparty

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/trongtinIUH/watchparty-sdk-go/watchparty/internal"

	"github.com/coder/websocket"
)

// Transport frame commands.
const (
	frameSubscribe   = "SUBSCRIBE"
	frameUnsubscribe = "UNSUBSCRIBE"
	frameSend        = "SEND"
	frameMessage     = "MESSAGE"
)

// frame is the transport-level envelope: a command plus a
// destination-addressed JSON body.
type frame struct {
	Command     string          `json:"command"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// LifecycleHandlers receives transport lifecycle notifications.
// OnDisconnect gets a nil error for an intentional disconnect and the
// causing error when the connection dropped.
type LifecycleHandlers struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)
}

// Transport owns one persistent connection to the sync broker and exposes
// destination-based subscribe/publish on top of it. It has no knowledge of
// room semantics. Connection failures are retried indefinitely using the
// configured backoff table; an explicit Disconnect suppresses any further
// retry.
type Transport struct {
	cfg    Config
	logger Logger

	mu              sync.Mutex
	state           ConnectionState
	conn            *internal.Conn
	writeCh         chan frame
	subs            map[string]func(WireEvent)
	handlers        LifecycleHandlers
	shouldReconnect bool
	failures        int
	retryTimer      *time.Timer
	cancel          context.CancelFunc
	gen             int
	onState         func(StateEvent)
}

// NewTransport constructs a transport for the broker named in cfg.
func NewTransport(cfg Config, logger Logger) *Transport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Transport{
		cfg:    cfg.withDefaults(),
		logger: logger,
		subs:   make(map[string]func(WireEvent)),
	}
}

// OnStateChanged registers a callback for connection-state transitions.
func (t *Transport) OnStateChanged(fn func(StateEvent)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected reports whether the transport is currently connected.
func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

// Connect opens the broker connection and wires lifecycle handlers. It is
// idempotent: when already connected it fires OnConnect synchronously and
// returns; when an attempt is in flight it only updates the handler set.
// Dial failures are not returned — they surface through OnError and the
// retry machinery.
func (t *Transport) Connect(h LifecycleHandlers) error {
	t.mu.Lock()
	switch t.state {
	case StateConnected:
		t.handlers = h
		t.mu.Unlock()
		if h.OnConnect != nil {
			h.OnConnect()
		}
		return nil
	case StateConnecting, StateReconnectScheduled:
		t.handlers = h
		t.mu.Unlock()
		return nil
	}
	if t.cfg.BrokerURL == "" {
		t.mu.Unlock()
		return NewError(ErrorInvalidConfig, "empty broker URL")
	}
	if _, err := url.Parse(t.cfg.BrokerURL); err != nil {
		t.mu.Unlock()
		return WrapError(ErrorInvalidConfig, "broker URL", err)
	}
	t.handlers = h
	t.shouldReconnect = true
	ev := t.setStateLocked(StateConnecting, nil)
	t.mu.Unlock()

	t.emitState(ev)
	go t.dial()
	return nil
}

// Disconnect tears down the connection, cancels any pending retry and
// forgets every subscription. Safe to call repeatedly. No reconnect is
// attempted afterwards until the next Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.shouldReconnect = false
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	t.failures = 0
	conn := t.conn
	t.conn = nil
	cancel := t.cancel
	t.cancel = nil
	t.writeCh = nil
	t.subs = make(map[string]func(WireEvent))
	was := t.state
	ev := t.setStateLocked(StateDisconnected, nil)
	h := t.handlers
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	t.emitState(ev)
	if was == StateConnected && h.OnDisconnect != nil {
		h.OnDisconnect(nil)
	}
}

// Subscribe registers a handler for a destination and returns an
// unsubscribe func. Incoming frames for the destination are decoded as
// WireEvents; a decode failure is logged and dropped, never raised into the
// handler. The subscription survives reconnects until unsubscribed.
func (t *Transport) Subscribe(destination string, handler func(WireEvent)) (unsubscribe func()) {
	t.mu.Lock()
	t.subs[destination] = handler
	connected := t.state == StateConnected
	t.mu.Unlock()

	if connected {
		t.enqueue(frame{Command: frameSubscribe, Destination: destination})
	}
	return func() {
		t.mu.Lock()
		_, had := t.subs[destination]
		delete(t.subs, destination)
		connected := t.state == StateConnected
		t.mu.Unlock()
		if had && connected {
			t.enqueue(frame{Command: frameUnsubscribe, Destination: destination})
		}
	}
}

// Publish serializes body and sends it to destination. When not connected
// it logs a warning and does nothing: there is no queueing or replay, lost
// intents are recovered by re-snapshotting after reconnect.
func (t *Transport) Publish(destination string, body any) {
	t.mu.Lock()
	connected := t.state == StateConnected
	t.mu.Unlock()
	if !connected {
		t.logger.Warn("publish skipped, not connected", map[string]any{"destination": destination})
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.logger.Error("publish marshal failed", map[string]any{"destination": destination, "error": err.Error()})
		return
	}
	t.enqueue(frame{Command: frameSend, Destination: destination, Body: raw})
}

// PublishSync writes the frame on the socket before returning, bypassing
// the write queue. For frames that must flush ahead of a teardown, like the
// leave announcement.
func (t *Transport) PublishSync(ctx context.Context, destination string, body any) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()
	if !connected || conn == nil {
		return NewError(ErrorNotConnected, "not connected")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return WrapError(ErrorSerialization, "publish marshal failed", err)
	}
	return conn.Write(ctx, frame{Command: frameSend, Destination: destination, Body: raw})
}

func (t *Transport) enqueue(f frame) {
	t.mu.Lock()
	ch := t.writeCh
	t.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
		t.logger.Warn("write queue full, frame dropped", map[string]any{"destination": f.Destination})
	}
}

func (t *Transport) dial() {
	dialCtx := context.Background()
	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(dialCtx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, t.cfg.BrokerURL, nil)
	if err != nil {
		t.scheduleRetry(err)
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if !t.shouldReconnect {
		// Disconnect raced with the dial.
		t.mu.Unlock()
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "client disconnect")
		return
	}
	t.conn = internal.NewConn(ws, t.cfg.ReadTimeout, t.cfg.WriteTimeout)
	t.writeCh = make(chan frame, 32)
	t.cancel = cancel
	t.failures = 0
	t.gen++
	gen := t.gen
	conn, ch := t.conn, t.writeCh
	resubs := make([]string, 0, len(t.subs))
	for d := range t.subs {
		resubs = append(resubs, d)
	}
	ev := t.setStateLocked(StateConnected, nil)
	h := t.handlers
	t.mu.Unlock()

	go t.readLoop(runCtx, conn, gen)
	go t.writeLoop(runCtx, conn, ch)
	for _, d := range resubs {
		t.enqueue(frame{Command: frameSubscribe, Destination: d})
	}
	t.emitState(ev)
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

// scheduleRetry arms the backoff timer after a failed dial or a dropped
// connection. Callers must not hold t.mu.
func (t *Transport) scheduleRetry(cause error) {
	t.mu.Lock()
	if !t.shouldReconnect {
		t.mu.Unlock()
		return
	}
	t.failures++
	delay := backoffDelay(t.cfg.BackoffTable, t.failures)
	ev := t.setStateLocked(StateReconnectScheduled, cause)
	t.retryTimer = time.AfterFunc(delay, t.retryFire)
	failures := t.failures
	h := t.handlers
	t.mu.Unlock()

	t.logger.Warn("connection attempt failed", map[string]any{
		"failures": failures,
		"retry_in": delay.String(),
		"error":    cause.Error(),
	})
	t.emitState(ev)
	if h.OnError != nil {
		h.OnError(WrapError(ErrorConnection, "broker connection failed", cause))
	}
}

func (t *Transport) retryFire() {
	t.mu.Lock()
	if !t.shouldReconnect || t.state != StateReconnectScheduled {
		t.mu.Unlock()
		return
	}
	t.retryTimer = nil
	ev := t.setStateLocked(StateConnecting, nil)
	t.mu.Unlock()
	t.emitState(ev)
	t.dial()
}

func (t *Transport) readLoop(ctx context.Context, conn *internal.Conn, gen int) {
	for {
		data, err := conn.ReadRaw(ctx)
		if err != nil {
			t.handleReadError(ctx, gen, err)
			return
		}
		t.handleRaw(data)
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn *internal.Conn, ch chan frame) {
	for {
		select {
		case f := <-ch:
			if err := conn.Write(ctx, f); err != nil {
				if !isExpectedDisconnect(ctx, err) {
					t.logger.Warn("write failed", map[string]any{"error": err.Error()})
				}
				// The read loop will observe the broken connection and
				// drive the reconnect path.
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleRaw decodes one inbound message into a frame. Anything malformed
// is logged and dropped; it must never terminate the connection or escape
// into caller code.
func (t *Transport) handleRaw(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.logger.Warn("dropping malformed frame", map[string]any{"error": err.Error()})
		return
	}
	t.handleFrame(f)
}

func (t *Transport) handleFrame(f frame) {
	if f.Command != frameMessage {
		t.logger.Debug("ignoring frame", map[string]any{"command": f.Command})
		return
	}
	t.mu.Lock()
	handler := t.subs[f.Destination]
	t.mu.Unlock()
	if handler == nil {
		return
	}
	var ev WireEvent
	if err := json.Unmarshal(f.Body, &ev); err != nil {
		t.logger.Warn("dropping malformed message", map[string]any{
			"destination": f.Destination,
			"error":       err.Error(),
		})
		return
	}
	handler(ev)
}

func (t *Transport) handleReadError(ctx context.Context, gen int, err error) {
	// Classify for logging before cancelling the run context below; after
	// the cancel every error would look context-induced.
	quiet := isExpectedDisconnect(ctx, err)

	t.mu.Lock()
	if gen != t.gen || t.state != StateConnected {
		// A newer connection or an explicit disconnect already took over.
		t.mu.Unlock()
		return
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.writeCh = nil
	retry := t.shouldReconnect
	h := t.handlers
	var ev *StateEvent
	if !retry {
		ev = t.setStateLocked(StateDisconnected, nil)
	}
	t.mu.Unlock()

	if conn != nil {
		_ = conn.CloseNow()
	}
	if !retry {
		t.emitState(ev)
		if h.OnDisconnect != nil {
			h.OnDisconnect(nil)
		}
		return
	}
	// Even a clean peer close is a dropped connection from this side:
	// only a local Disconnect suppresses the retry.
	if !quiet {
		t.logger.Warn("connection lost", map[string]any{"error": err.Error()})
	}
	if h.OnDisconnect != nil {
		h.OnDisconnect(WrapError(ErrorDisconnected, "connection lost", err))
	}
	t.scheduleRetry(err)
}

// dropConnection closes the socket without a close handshake so the read
// loop fails and normal reconnection takes over. Used when application-level
// liveness (a missed heartbeat) declares the connection dead.
func (t *Transport) dropConnection(reason string) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return
	}
	t.logger.Warn("dropping connection", map[string]any{"reason": reason})
	_ = conn.CloseNow()
}

// setStateLocked records a transition and returns the event to emit after
// unlocking, or nil when the state did not change.
func (t *Transport) setStateLocked(next ConnectionState, cause error) *StateEvent {
	if t.state == next {
		return nil
	}
	ev := &StateEvent{OldState: t.state, NewState: next, Error: cause}
	t.state = next
	return ev
}

func (t *Transport) emitState(ev *StateEvent) {
	if ev == nil {
		return
	}
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(*ev)
	}
}

// backoffDelay returns the reconnect delay for the given consecutive-failure
// count (1-based), clamped to the last table entry.
func backoffDelay(table []time.Duration, failures int) time.Duration {
	if len(table) == 0 {
		return 0
	}
	idx := failures - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(table) {
		idx = len(table) - 1
	}
	return table[idx]
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}

package application

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/pulsefit/pulsefit-client-go/internal/adapters/config"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/metrics"
	"github.com/pulsefit/pulsefit-client-go/internal/domain"
	"github.com/pulsefit/pulsefit-client-go/pkg/backoff"
	"github.com/pulsefit/pulsefit-client-go/pkg/contextkeys"
	"github.com/pulsefit/pulsefit-client-go/pkg/safego"
)

// TokenSource supplies the current access token for the socket handshake;
// wired to Gateway.AccessToken in bootstrap.
type TokenSource func() string

// RealtimeChannel maintains the persistent socket connection to the
// realtime backend. It reconnects with exponential backoff on unexpected
// disconnects (read failures and server-initiated `disconnect` frames alike),
// queues outbound events while disconnected, and fans inbound events out to
// registered listeners.
type RealtimeChannel struct {
	cfgProvider config.Provider
	logger      domain.Logger
	dialer      domain.RealtimeDialer
	clock       clock.Clock
	tokenSource TokenSource

	state atomic.Int32

	mu                sync.Mutex
	conn              domain.RealtimeConn
	connCancel        context.CancelFunc
	sessionID         string
	closed            bool // client-initiated Close; suppresses reconnection
	reconnecting      bool
	reconnectAttempts int
	failedEmitted     bool
	outbound          []domain.Event

	handlersMu    sync.Mutex
	handlers      map[string]map[int]domain.EventHandler
	nextHandlerID int

	pongMu      sync.Mutex
	pongWaiters []chan struct{}
}

// NewRealtimeChannel constructs a channel. Nothing connects until Connect is
// called. A nil clk selects the real clock; a nil tokenSource connects
// unauthenticated.
func NewRealtimeChannel(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	dialer domain.RealtimeDialer,
	tokenSource TokenSource,
	clk clock.Clock,
) *RealtimeChannel {
	if cfgProvider == nil {
		panic("cfgProvider cannot be nil in NewRealtimeChannel")
	}
	if appLogger == nil {
		panic("logger cannot be nil in NewRealtimeChannel")
	}
	if dialer == nil {
		panic("dialer cannot be nil in NewRealtimeChannel")
	}
	if clk == nil {
		clk = clock.New()
	}
	if tokenSource == nil {
		tokenSource = func() string { return "" }
	}
	c := &RealtimeChannel{
		cfgProvider: cfgProvider,
		logger:      appLogger,
		dialer:      dialer,
		clock:       clk,
		tokenSource: tokenSource,
		handlers:    make(map[string]map[int]domain.EventHandler),
	}
	c.state.Store(int32(domain.StateDisconnected))
	return c
}

// State returns the channel's current lifecycle state.
func (c *RealtimeChannel) State() domain.ConnectionState {
	return domain.ConnectionState(c.state.Load())
}

// Connect establishes the socket. It is idempotent while connected unless
// forceReconnect is set, in which case the existing connection is torn down
// first. The handshake is bounded by the configured connect timeout; an
// expired timeout abandons the underlying connection attempt as well.
func (c *RealtimeChannel) Connect(ctx context.Context, forceReconnect bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == domain.StateConnected && c.conn != nil {
		if !forceReconnect {
			return nil
		}
		c.teardownLocked("force reconnect")
	}

	c.closed = false
	c.failedEmitted = false
	return c.connectLocked(ctx)
}

// connectLocked dials and installs a new connection. Callers hold c.mu.
// An existing connection is torn down first so two can never be live at
// once.
func (c *RealtimeChannel) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		c.teardownLocked("superseded by new connection")
	}
	cfg := c.cfgProvider.Get().Realtime
	c.state.Store(int32(domain.StateConnecting))

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, cfg.URL)
	if err != nil {
		c.state.Store(int32(domain.StateDisconnected))
		return fmt.Errorf("realtime connect failed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCancel = connCancel
	c.sessionID = uuid.NewString()
	c.reconnectAttempts = 0
	c.state.Store(int32(domain.StateConnected))

	logCtx := context.WithValue(connCtx, contextkeys.SessionIDKey, c.sessionID)
	c.logger.Info(logCtx, "Realtime channel connected", "url", cfg.URL)

	// Auth rides in the handshake payload; the server associates the
	// session before any domain event flows.
	if token := c.tokenSource(); token != "" {
		authData, _ := json.Marshal(map[string]string{"token": token, "sessionId": c.sessionID})
		if err := conn.WriteEvent(ctx, domain.Event{Name: domain.EventAuth, Data: authData}); err != nil {
			c.logger.Warn(logCtx, "Failed to send auth handshake", "error", err.Error())
		}
	}

	c.drainOutboundLocked(ctx, logCtx)

	// The ticker is created here, not inside the goroutine, so a mocked
	// clock advanced right after Connect returns still fires it.
	ticker := c.clock.Ticker(cfg.HeartbeatInterval())
	safego.Execute(logCtx, c.logger, "RealtimeHeartbeat", func() {
		defer ticker.Stop()
		c.heartbeatLoop(logCtx, conn, ticker)
	})
	safego.Execute(logCtx, c.logger, "RealtimeReadLoop", func() {
		c.readLoop(logCtx, conn)
	})
	return nil
}

// drainOutboundLocked replays queued events FIFO. On a write failure the
// unsent remainder is kept queued; the read loop will observe the broken
// connection and trigger reconnection.
func (c *RealtimeChannel) drainOutboundLocked(ctx context.Context, logCtx context.Context) {
	if len(c.outbound) == 0 {
		return
	}
	queued := c.outbound
	c.outbound = nil
	for i, ev := range queued {
		if err := c.conn.WriteEvent(ctx, ev); err != nil {
			c.logger.Warn(logCtx, "Failed to replay queued event; keeping remainder queued",
				"event", ev.Name, "remaining", len(queued)-i, "error", err.Error())
			c.outbound = append(queued[i:], c.outbound...)
			break
		}
		metrics.RealtimeEventsTotal.WithLabelValues("outbound").Inc()
	}
	metrics.SetRealtimeOutboundQueueDepth(len(c.outbound))
	c.logger.Info(logCtx, "Outbound event queue drained", "sent", len(queued)-len(c.outbound))
}

func (c *RealtimeChannel) heartbeatLoop(connCtx context.Context, conn domain.RealtimeConn, ticker *clock.Ticker) {
	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteEvent(connCtx, domain.Event{Name: domain.EventPing}); err != nil {
				c.logger.Debug(connCtx, "Heartbeat ping failed", "error", err.Error())
				return
			}
		}
	}
}

func (c *RealtimeChannel) readLoop(connCtx context.Context, conn domain.RealtimeConn) {
	for {
		event, err := conn.ReadEvent(connCtx)
		if err != nil {
			if connCtx.Err() != nil {
				return // deliberate teardown
			}
			c.logger.Warn(connCtx, "Realtime read failed", "error", err.Error())
			c.handleUnexpectedDisconnect(connCtx)
			return
		}

		switch event.Name {
		case domain.EventDisconnect:
			c.logger.Warn(connCtx, "Server initiated disconnect")
			c.dispatch(*event)
			c.handleUnexpectedDisconnect(connCtx)
			return
		case domain.EventPong:
			c.notifyPong()
			c.dispatch(*event)
		default:
			metrics.RealtimeEventsTotal.WithLabelValues("inbound").Inc()
			c.dispatch(*event)
		}
	}
}

// handleUnexpectedDisconnect tears the connection down and, unless the
// client closed deliberately, starts the backoff reconnect loop.
func (c *RealtimeChannel) handleUnexpectedDisconnect(ctx context.Context) {
	c.mu.Lock()
	c.teardownLocked("unexpected disconnect")

	if c.closed {
		c.state.Store(int32(domain.StateDisconnected))
		c.mu.Unlock()
		return
	}
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.state.Store(int32(domain.StateReconnecting))
	c.mu.Unlock()

	safego.Execute(ctx, c.logger, "RealtimeReconnect", func() {
		c.reconnectLoop()
	})
}

// reconnectLoop retries the connection with exponentially growing delays
// (base * 2^(attempt-1), capped). After the configured attempt bound it
// emits connection:failed to local listeners exactly once and stops.
func (c *RealtimeChannel) reconnectLoop() {
	cfg := c.cfgProvider.Get().Realtime
	policy := backoff.Policy{
		Base:        cfg.ReconnectBaseDelay(),
		MaxDelay:    cfg.ReconnectMaxDelay(),
		MaxAttempts: cfg.MaxReconnectAttempts(),
	}
	ctx := context.Background()

	for attempt := 1; ; attempt++ {
		delay := policy.Delay(attempt - 1)
		c.logger.Info(ctx, "Scheduling realtime reconnect attempt",
			"attempt", attempt, "max_attempts", policy.MaxAttempts, "delay", delay.String())

		<-c.clock.After(delay)

		c.mu.Lock()
		if c.closed {
			c.reconnecting = false
			c.state.Store(int32(domain.StateDisconnected))
			c.mu.Unlock()
			return
		}
		if c.conn != nil {
			// A user-driven Connect raced the backoff sleep and already
			// established a connection; the loop stands down rather than
			// dialing a second one on top of it.
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		metrics.RealtimeReconnectsTotal.Inc()
		c.reconnectAttempts = attempt
		err := c.connectLocked(ctx)
		if err == nil {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		// connectLocked left the state at Disconnected; we are still driving.
		c.state.Store(int32(domain.StateReconnecting))
		c.mu.Unlock()

		c.logger.Warn(ctx, "Realtime reconnect attempt failed", "attempt", attempt, "error", err.Error())

		if policy.Exhausted(attempt) {
			c.mu.Lock()
			c.reconnecting = false
			c.state.Store(int32(domain.StateDisconnected))
			emit := !c.failedEmitted
			c.failedEmitted = true
			c.mu.Unlock()

			if emit {
				c.logger.Error(ctx, "Realtime reconnection gave up", "attempts", attempt)
				reason, _ := json.Marshal(map[string]any{"attempts": attempt})
				c.dispatch(domain.Event{Name: domain.EventConnectionFailed, Data: reason})
			}
			return
		}
	}
}

// Emit sends an event immediately when connected, and queues it for replay
// on reconnect otherwise. The queue is bounded; when full the oldest queued
// event is dropped.
func (c *RealtimeChannel) Emit(ctx context.Context, name string, data any) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to serialize event '%s': %w", name, err)
		}
		raw = encoded
	}
	event := domain.Event{Name: name, Data: raw}

	c.mu.Lock()
	if c.State() == domain.StateConnected && c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		if err := conn.WriteEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to emit '%s': %w", name, err)
		}
		metrics.RealtimeEventsTotal.WithLabelValues("outbound").Inc()
		return nil
	}
	defer c.mu.Unlock()

	limit := c.cfgProvider.Get().Realtime.OutboundQueueLimit
	if limit <= 0 {
		limit = 1000
	}
	if len(c.outbound) >= limit {
		dropped := c.outbound[0]
		c.outbound = c.outbound[1:]
		metrics.RealtimeEventsTotal.WithLabelValues("dropped").Inc()
		c.logger.Warn(ctx, "Outbound queue full, dropping oldest event", "dropped_event", dropped.Name, "limit", limit)
	}
	c.outbound = append(c.outbound, event)
	metrics.RealtimeEventsTotal.WithLabelValues("queued").Inc()
	metrics.SetRealtimeOutboundQueueDepth(len(c.outbound))
	return nil
}

// On registers handler for the named event and returns an unsubscribe
// function. Multiple handlers per event are supported.
func (c *RealtimeChannel) On(name string, handler domain.EventHandler) (off func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if c.handlers[name] == nil {
		c.handlers[name] = make(map[int]domain.EventHandler)
	}
	id := c.nextHandlerID
	c.nextHandlerID++
	c.handlers[name][id] = handler

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		delete(c.handlers[name], id)
	}
}

// dispatch fans one event out to its listeners. A panicking listener is
// logged and skipped so it cannot break dispatch to the others.
func (c *RealtimeChannel) dispatch(event domain.Event) {
	c.handlersMu.Lock()
	registered := c.handlers[event.Name]
	callbacks := make([]domain.EventHandler, 0, len(registered))
	for _, h := range registered {
		callbacks = append(callbacks, h)
	}
	c.handlersMu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error(context.Background(), "Panic recovered in event listener",
						"event", event.Name,
						"panic_info", fmt.Sprintf("%v", r),
						"stacktrace", string(debug.Stack()),
					)
				}
			}()
			cb(event.Data)
		}()
	}
}

// HealthCheck sends one ping and reports whether a pong arrived within the
// configured health-check timeout. Distinct from the steady-state heartbeat;
// used for on-demand liveness probing.
func (c *RealtimeChannel) HealthCheck(ctx context.Context) (bool, error) {
	c.mu.Lock()
	conn := c.conn
	connected := c.State() == domain.StateConnected && conn != nil
	c.mu.Unlock()
	if !connected {
		return false, nil
	}

	pongCh := make(chan struct{}, 1)
	c.pongMu.Lock()
	c.pongWaiters = append(c.pongWaiters, pongCh)
	c.pongMu.Unlock()
	defer c.removePongWaiter(pongCh)

	if err := conn.WriteEvent(ctx, domain.Event{Name: domain.EventPing}); err != nil {
		return false, fmt.Errorf("health check ping failed: %w", err)
	}

	timer := c.clock.Timer(c.cfgProvider.Get().Realtime.HealthCheckTimeout())
	defer timer.Stop()

	select {
	case <-pongCh:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *RealtimeChannel) notifyPong() {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	for _, ch := range c.pongWaiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *RealtimeChannel) removePongWaiter(target chan struct{}) {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	for i, ch := range c.pongWaiters {
		if ch == target {
			c.pongWaiters = append(c.pongWaiters[:i], c.pongWaiters[i+1:]...)
			return
		}
	}
}

// JoinRoom subscribes this client to a room's events, via the same
// online/offline queuing logic as any other emit.
func (c *RealtimeChannel) JoinRoom(ctx context.Context, room string) error {
	return c.Emit(ctx, domain.EventRoomJoin, map[string]string{"room": room})
}

// LeaveRoom unsubscribes from a room.
func (c *RealtimeChannel) LeaveRoom(ctx context.Context, room string) error {
	return c.Emit(ctx, domain.EventRoomLeave, map[string]string{"room": room})
}

// UpdateAuth pushes a new access token to the server post-connect.
func (c *RealtimeChannel) UpdateAuth(ctx context.Context, token string) error {
	return c.Emit(ctx, domain.EventAuthUpdate, map[string]string{"token": token})
}

// Close tears the connection down client-side. No reconnection follows.
func (c *RealtimeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.teardownLocked("client disconnect")
	c.state.Store(int32(domain.StateDisconnected))
}

// teardownLocked releases the current connection. Callers hold c.mu.
func (c *RealtimeChannel) teardownLocked(reason string) {
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(reason); err != nil {
			c.logger.Debug(context.Background(), "Error closing realtime connection", "reason", reason, "error", err.Error())
		}
		c.conn = nil
	}
}

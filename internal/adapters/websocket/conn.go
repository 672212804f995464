// Package websocket adapts coder/websocket to the domain.RealtimeConn
// contract used by the realtime channel.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pulsefit/pulsefit-client-go/internal/domain"
)

// Conn wraps a dialed websocket.Conn with JSON event framing, a write mutex
// and a per-frame write timeout.
type Conn struct {
	wsConn       *websocket.Conn
	logger       domain.Logger
	writeTimeout time.Duration

	mu        sync.Mutex // protects wsConn for writes
	closeOnce sync.Once
	closeErr  error
}

// Dialer implements domain.RealtimeDialer with coder/websocket.
type Dialer struct {
	Logger       domain.Logger
	WriteTimeout time.Duration
}

// Dial opens a websocket connection. The handshake is bounded by ctx; a
// cancelled ctx aborts the underlying connection attempt as well.
func (d *Dialer) Dial(ctx context.Context, url string) (domain.RealtimeConn, error) {
	wsConn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial to '%s' failed: %w", url, err)
	}
	// Domain event payloads are bounded by backend convention, but the
	// default 32KiB read limit is too small for activity feed batches.
	wsConn.SetReadLimit(1 << 20)

	return &Conn{
		wsConn:       wsConn,
		logger:       d.Logger,
		writeTimeout: d.WriteTimeout,
	}, nil
}

// WriteEvent marshals and sends one event frame.
func (c *Conn) WriteEvent(ctx context.Context, event domain.Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event '%s': %w", event.Name, err)
	}

	writeCtx := ctx
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.wsConn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("failed to write event '%s': %w", event.Name, err)
	}
	return nil
}

// ReadEvent blocks for the next inbound frame and decodes it. Frames that
// are not valid event JSON are surfaced as errors; the channel decides
// whether to drop or disconnect.
func (c *Conn) ReadEvent(ctx context.Context) (*domain.Event, error) {
	msgType, data, err := c.wsConn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket read failed: %w", err)
	}
	if msgType != websocket.MessageText {
		return nil, fmt.Errorf("unexpected websocket message type %v", msgType)
	}

	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event frame: %w", err)
	}
	if event.Name == "" {
		return nil, fmt.Errorf("event frame missing event name")
	}
	return &event, nil
}

// Close closes the socket with a normal closure status. Safe to call more
// than once; later calls return the first result.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.wsConn.Close(websocket.StatusNormalClosure, reason)
	})
	return c.closeErr
}

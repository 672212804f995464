package domain

import "context"

// RealtimeConn is one established socket, as seen by the realtime channel.
// Implementations frame events as JSON text messages.
type RealtimeConn interface {
	// WriteEvent sends one event frame.
	WriteEvent(ctx context.Context, event Event) error

	// ReadEvent blocks until the next inbound frame, ctx cancellation, or
	// connection failure.
	ReadEvent(ctx context.Context) (*Event, error)

	// Close tears the socket down. reason is sent in the close frame when
	// the transport supports it.
	Close(reason string) error
}

// RealtimeDialer establishes socket connections. The dial ctx bounds the
// whole handshake: when it expires the underlying connection attempt is
// abandoned too, not leaked.
type RealtimeDialer interface {
	Dial(ctx context.Context, url string) (RealtimeConn, error)
}

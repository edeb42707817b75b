package client

import (
	"context"
	"fmt"

	"github.com/ember-chat/ember/internal/frame"
)

// Transport is one open byte stream to the backend. Implementations exist
// for WebSocket and SSE; tests inject fakes.
type Transport interface {
	// Authenticate presents the bearer token. For WebSocket this sends the
	// auth frame; for SSE the token already travelled in the request
	// headers and this is a no-op.
	Authenticate(ctx context.Context, token string) error

	// Receive blocks until the next batch of complete frames arrives.
	// Frames within a batch are in wire order. Returns an error when the
	// transport drops or is closed.
	Receive(ctx context.Context) ([]frame.Frame, error)

	// Send marshals v as JSON and delivers it to the backend.
	Send(v any) error

	// Close tears the transport down. Unblocks any pending Receive.
	Close() error
}

// DialParams carries everything a dialer needs for one connection attempt.
type DialParams struct {
	BaseURL   string
	AgentID   string
	SessionID string
	Token     string

	// OnProtocolError receives malformed-input diagnostics with the raw
	// payload. Never nil when supplied by the Client.
	OnProtocolError func(err error, raw string)
}

// Dialer opens a Transport. The Client owns retry and backoff; a dialer
// performs exactly one attempt.
type Dialer interface {
	Dial(ctx context.Context, p DialParams) (Transport, error)
}

// TransportKind selects the wire transport.
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportSSE       TransportKind = "sse"
)

func defaultDialer(kind TransportKind) (Dialer, error) {
	switch kind {
	case TransportWebSocket, "":
		return wsDialer{}, nil
	case TransportSSE:
		return sseDialer{}, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

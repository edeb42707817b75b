package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ember-chat/ember/internal/frame"
	"github.com/ember-chat/ember/internal/protocol"
)

const (
	wsReadLimit    = 4 * 1024 * 1024 // 4 MB
	wsPingInterval = 10 * time.Second
	wsWriteWait    = 5 * time.Second
)

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, p DialParams) (Transport, error) {
	u, err := wsURL(p.BaseURL, p.AgentID, p.SessionID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", u, err)
	}

	t := newWSTransport(conn, p.OnProtocolError)
	t.startPing(wsPingInterval)
	return t, nil
}

// wsURL converts the HTTP base URL into the stream endpoint URL.
func wsURL(baseURL, agentID, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/agents/" + agentID + "/stream"
	if sessionID != "" {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// wsTransport wraps a gorilla WebSocket connection with mutex-guarded writes
// and frame decoding.
type wsTransport struct {
	conn    *websocket.Conn
	onError func(err error, raw string)

	mu     sync.Mutex // guards writes
	closed bool
	done   chan struct{}
}

func newWSTransport(conn *websocket.Conn, onError func(error, string)) *wsTransport {
	conn.SetReadLimit(wsReadLimit)
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(3 * wsPingInterval))
		return nil
	})
	return &wsTransport{conn: conn, onError: onError, done: make(chan struct{})}
}

func (t *wsTransport) Authenticate(ctx context.Context, token string) error {
	return t.Send(protocol.NewAuthMessage(token))
}

// Receive reads text frames until one decodes cleanly. Malformed JSON is
// reported and skipped; a broken frame must not take the stream down.
func (t *wsTransport) Receive(ctx context.Context) ([]frame.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		f, err := frame.DecodeWSFrame(data)
		if err != nil {
			if t.onError != nil {
				t.onError(err, string(data))
			}
			continue
		}
		return []frame.Frame{f}, nil
	}
}

func (t *wsTransport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws marshal: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("ws connection closed")
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return t.conn.Close()
}

// startPing keeps the connection alive until Close.
func (t *wsTransport) startPing(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				t.mu.Lock()
				if t.closed {
					t.mu.Unlock()
					return
				}
				_ = t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
				t.mu.Unlock()
			}
		}
	}()
}

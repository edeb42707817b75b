package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ember-chat/ember/internal/frame"
)

const sseReadBufferSize = 4096

type sseDialer struct{}

func (sseDialer) Dial(ctx context.Context, p DialParams) (Transport, error) {
	streamURL, err := restURL(p.BaseURL, "/agents/"+p.AgentID+"/events", p.SessionID)
	if err != nil {
		return nil, err
	}

	// The stream must outlive the dial context, which typically carries a
	// connect timeout. Close cancels it.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sse dial: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: http %d", ErrAuthRejected, resp.StatusCode)
	default:
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sse dial: unexpected status %d", resp.StatusCode)
	}

	return &sseTransport{
		baseURL:   p.BaseURL,
		agentID:   p.AgentID,
		sessionID: p.SessionID,
		token:     p.Token,
		body:      resp.Body,
		cancel:    cancel,
		parser:    frame.NewParser(p.OnProtocolError),
		buf:       make([]byte, sseReadBufferSize),
	}, nil
}

func restURL(baseURL, path, sessionID string) (string, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return "", fmt.Errorf("sse requires an http(s) base url, got %q", baseURL)
	}
	u := strings.TrimSuffix(baseURL, "/") + path
	if sessionID != "" {
		u += "?session_id=" + sessionID
	}
	return u, nil
}

// sseTransport consumes a Server-Sent-Events response body. Receiving is
// chunk-driven: each read is fed through the incremental parser, so frames
// split across network chunks reassemble correctly. Outbound commands go
// over plain HTTP POST since SSE is one-directional.
type sseTransport struct {
	baseURL   string
	agentID   string
	sessionID string
	token     string

	body   io.ReadCloser
	cancel context.CancelFunc
	parser *frame.Parser
	buf    []byte

	flushed bool
	readErr error
}

// Authenticate is a no-op: the bearer token travelled in the request
// headers and the server acknowledges with an authenticated event.
func (t *sseTransport) Authenticate(ctx context.Context, token string) error {
	return nil
}

func (t *sseTransport) Receive(ctx context.Context) ([]frame.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.readErr != nil {
			// Drain the parser exactly once so a final frame without a
			// trailing blank line is not lost.
			if !t.flushed {
				t.flushed = true
				if frames := t.parser.Flush(); len(frames) > 0 {
					return frames, nil
				}
			}
			return nil, t.readErr
		}

		n, err := t.body.Read(t.buf)
		if n > 0 {
			if frames := t.parser.Feed(string(t.buf[:n])); len(frames) > 0 {
				if err != nil {
					t.readErr = err
				}
				return frames, nil
			}
		}
		if err != nil {
			t.readErr = err
		}
	}
}

// Send posts one command to the agent's command endpoint.
func (t *sseTransport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse marshal: %w", err)
	}

	u, err := restURL(t.baseURL, "/agents/"+t.agentID+"/commands", t.sessionID)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("sse command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sse command: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("sse command: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (t *sseTransport) Close() error {
	t.cancel()
	return t.body.Close()
}

// Package rest is the client for the backend's management endpoints: agent
// discovery and session CRUD. The streaming connection lives elsewhere; this
// client is plain request/response.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ember-chat/ember/pkg/api"
)

const defaultTimeout = 15 * time.Second

// Client talks to the backend's REST surface. Safe for concurrent use.
type Client struct {
	baseURL string
	token   func() string
	http    *http.Client
}

// New builds a REST client. token supplies the bearer token per request and
// may be nil for unauthenticated backends.
func New(baseURL string, token func() string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// APIError is a non-2xx response decoded from the backend's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (c *Client) ListAgents(ctx context.Context) ([]api.Agent, error) {
	var resp api.AgentListResponse
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

func (c *Client) GetAgent(ctx context.Context, agentID string) (api.Agent, error) {
	var agent api.Agent
	err := c.do(ctx, http.MethodGet, "/agents/"+agentID, nil, &agent)
	return agent, err
}

func (c *Client) ListSessions(ctx context.Context, agentID string) ([]api.Session, error) {
	var resp api.SessionListResponse
	if err := c.do(ctx, http.MethodGet, "/agents/"+agentID+"/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) RenameSession(ctx context.Context, agentID, sessionID, title string) (api.Session, error) {
	var session api.Session
	req := api.RenameSessionRequest{Title: title}
	err := c.do(ctx, http.MethodPatch, "/agents/"+agentID+"/sessions/"+sessionID, req, &session)
	return session, err
}

func (c *Client) DeleteSession(ctx context.Context, agentID, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+agentID+"/sessions/"+sessionID, nil, nil)
}

// do runs one request. body and out may be nil; non-2xx responses become
// *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	var envelope api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
		apiErr.Code = envelope.Code
	}
	return apiErr
}

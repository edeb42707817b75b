// Package api holds the JSON types shared between the ember client and the
// agent backend's management endpoints.
package api

import "time"

// Agent is one conversational agent exposed by the backend.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Model       string `json:"model,omitempty"`
}

type AgentListResponse struct {
	Agents []Agent `json:"agents"`
}

// Session is one stored conversation with an agent.
type Session struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Title     string    `json:"title,omitempty"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

type RenameSessionRequest struct {
	Title string `json:"title"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

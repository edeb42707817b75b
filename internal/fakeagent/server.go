// Package fakeagent is an in-process agent backend used for development and
// integration tests. It serves the full surface the client speaks: the REST
// management endpoints, the SSE event stream with its command endpoint, and
// the WebSocket stream. The agent itself is a deterministic echo script.
package fakeagent

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ember-chat/ember/pkg/api"
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options configures a Server. An empty Token disables auth entirely.
type Options struct {
	Token  string
	Logger *log.Logger
}

// Server implements the backend. Safe for concurrent use.
type Server struct {
	token  string
	logger *log.Logger
	agents []api.Agent
	hub    *hub

	mu          sync.Mutex
	sessions    map[string]*api.Session
	lastSession map[string]string // agentID -> most recently used session
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		token:  opts.Token,
		logger: logger,
		agents: []api.Agent{
			{ID: "echo", Name: "Echo", Description: "Echoes messages back", Model: "fake-1"},
			{ID: "tools", Name: "Toolsmith", Description: "Echo agent that likes tools", Model: "fake-1"},
		},
		hub:         newHub(),
		sessions:    make(map[string]*api.Session),
		lastSession: make(map[string]string),
	}
}

// Router builds the full route tree. The WebSocket stream sits outside the
// bearer middleware: its auth happens in-band, via the first frame.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/agents", s.listAgents)
		r.Get("/agents/{agentID}", s.getAgent)
		r.Get("/agents/{agentID}/sessions", s.listSessions)
		r.Patch("/agents/{agentID}/sessions/{sessionID}", s.renameSession)
		r.Delete("/agents/{agentID}/sessions/{sessionID}", s.deleteSession)
		r.Get("/agents/{agentID}/events", s.sseEvents)
		r.Post("/agents/{agentID}/commands", s.postCommand)
	})

	r.Get("/agents/{agentID}/stream", s.wsStream)
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.token {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token", "TOKEN_INVALID")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) agentByID(id string) (api.Agent, bool) {
	for _, a := range s.agents {
		if a.ID == id {
			return a, true
		}
	}
	return api.Agent{}, false
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.AgentListResponse{Agents: s.agents})
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.agentByID(chi.URLParam(r, "agentID"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found", "AGENT_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.agentByID(agentID); !ok {
		writeError(w, http.StatusNotFound, "agent not found", "AGENT_NOT_FOUND")
		return
	}

	s.mu.Lock()
	resp := api.SessionListResponse{Sessions: []api.Session{}}
	for _, sess := range s.sessions {
		if sess.AgentID == agentID {
			resp.Sessions = append(resp.Sessions, *sess)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) renameSession(w http.ResponseWriter, r *http.Request) {
	var req api.RenameSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.Title = req.Title
		sess.UpdatedAt = time.Now()
	}
	var copied api.Session
	if ok {
		copied = *sess
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, copied)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sseEvents streams agent events as Server-Sent Events. The subscription is
// registered before headers are flushed so no event is lost between the
// client seeing the 200 and the first publish.
func (s *Server) sseEvents(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.agentByID(agentID); !ok {
		writeError(w, http.StatusNotFound, "agent not found", "AGENT_NOT_FOUND")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	ch := s.hub.subscribe(agentID)
	defer s.hub.unsubscribe(agentID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEFrame(w, authenticatedFrame()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-ch:
			if err := writeSSEFrame(w, f); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// postCommand accepts one command from an SSE-connected client and publishes
// the scripted response to every subscriber of the agent.
func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.agentByID(agentID); !ok {
		writeError(w, http.StatusNotFound, "agent not found", "AGENT_NOT_FOUND")
		return
	}

	var msg inbound
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	frames := s.dispatch(agentID, msg)
	s.hub.publish(agentID, frames...)
	w.WriteHeader(http.StatusAccepted)
}

// wsStream serves the WebSocket transport. The first frame must be an auth
// message; a bad token gets an error event and the connection is closed.
func (s *Server) wsStream(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.agentByID(agentID); !ok {
		writeError(w, http.StatusNotFound, "agent not found", "AGENT_NOT_FOUND")
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !s.wsAuthenticate(conn) {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Printf("[fakeagent] dropping unparseable frame: %v", err)
			continue
		}

		for _, f := range s.dispatch(agentID, msg) {
			if err := conn.WriteJSON(f.Payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsAuthenticate(conn *websocket.Conn) bool {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return false
	}

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "auth" {
		_ = conn.WriteJSON(errorFrame("", "expected auth message", "TOKEN_INVALID").Payload)
		return false
	}
	if s.token != "" && msg.Token != s.token {
		_ = conn.WriteJSON(errorFrame("", "invalid bearer token", "TOKEN_INVALID").Payload)
		return false
	}

	return conn.WriteJSON(authenticatedFrame().Payload) == nil
}

// ensureSession returns the session with the given ID, creating a fresh one
// when the ID is empty or unknown. The second result reports creation.
func (s *Server) ensureSession(agentID, sessionID string) (*api.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" {
		if sess, ok := s.sessions[sessionID]; ok {
			s.lastSession[agentID] = sess.ID
			return sess, false
		}
	}

	now := time.Now()
	sess := &api.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	s.lastSession[agentID] = sess.ID
	return sess, true
}

// sessionFor resolves commands that omit a session ID, like answers sent
// mid-conversation, to the agent's most recent session.
func (s *Server) sessionFor(agentID, sessionID string) (*api.Session, bool) {
	if sessionID == "" {
		s.mu.Lock()
		sessionID = s.lastSession[agentID]
		s.mu.Unlock()
	}
	return s.ensureSession(agentID, sessionID)
}

func writeSSEFrame(w http.ResponseWriter, f frameOut) error {
	data, err := json.Marshal(f.Payload)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte("event: " + f.Kind + "\ndata: " + string(data) + "\n\n"))
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: code})
}

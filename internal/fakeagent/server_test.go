package fakeagent

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ember-chat/ember/internal/rest"
)

func newTestServer(token string) *Server {
	return New(Options{Token: token, Logger: log.New(io.Discard, "", 0)})
}

func frameKinds(frames []frameOut) []string {
	kinds := make([]string, len(frames))
	for i, f := range frames {
		kinds[i] = f.Kind
	}
	return kinds
}

func TestEchoTurnStreamsBackTheMessage(t *testing.T) {
	s := newTestServer("")

	frames := s.dispatch("echo", inbound{Type: "user_message", Content: "hello there friend"})
	if len(frames) < 3 {
		t.Fatalf("frames = %v, want session_id, deltas, done", frameKinds(frames))
	}
	if frames[0].Kind != "session_id" {
		t.Fatalf("first frame = %s, want session_id", frames[0].Kind)
	}
	if frames[len(frames)-1].Kind != "done" {
		t.Fatalf("last frame = %s, want done", frames[len(frames)-1].Kind)
	}

	var text strings.Builder
	for _, f := range frames[1 : len(frames)-1] {
		d, ok := f.Payload.(textDeltaPayload)
		if !ok {
			t.Fatalf("middle frame = %s, want text_delta", f.Kind)
		}
		text.WriteString(d.Text)
	}
	if got := text.String(); got != "You said: hello there friend" {
		t.Fatalf("assembled text = %q", got)
	}

	done := frames[len(frames)-1].Payload.(donePayload)
	if done.TurnCount != 1 {
		t.Fatalf("turn_count = %d, want 1", done.TurnCount)
	}
	if done.TotalCostUSD == nil {
		t.Fatal("done frame missing cost")
	}
}

func TestToolTriggerRunsRoundTrip(t *testing.T) {
	s := newTestServer("")

	frames := s.dispatch("echo", inbound{Type: "user_message", Content: "use a tool"})
	want := []string{"session_id", "text_delta", "tool_use", "tool_result", "text_delta", "done"}
	got := frameKinds(frames)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kind %d = %s, want %s", i, got[i], want[i])
		}
	}

	use := frames[2].Payload.(toolUsePayload)
	result := frames[3].Payload.(toolResultPayload)
	if use.ID != result.ToolUseID {
		t.Fatalf("tool_result id %q does not match tool_use id %q", result.ToolUseID, use.ID)
	}
}

func TestSecondTurnReusesSession(t *testing.T) {
	s := newTestServer("")

	first := s.dispatch("echo", inbound{Type: "user_message", Content: "one"})
	sid := first[0].Payload.(sessionIDPayload).SessionID

	second := s.dispatch("echo", inbound{Type: "user_message", Content: "two", SessionID: sid})
	if second[0].Kind == "session_id" {
		t.Fatal("known session produced a fresh session_id frame")
	}
	done := second[len(second)-1].Payload.(donePayload)
	if done.TurnCount != 2 {
		t.Fatalf("turn_count = %d, want 2", done.TurnCount)
	}
}

func TestInterruptDoesNotAdvanceTurnCount(t *testing.T) {
	s := newTestServer("")

	first := s.dispatch("echo", inbound{Type: "user_message", Content: "one"})
	sid := first[0].Payload.(sessionIDPayload).SessionID

	frames := s.dispatch("echo", inbound{Type: "interrupt", SessionID: sid})
	if len(frames) != 1 || frames[0].Kind != "done" {
		t.Fatalf("frames = %v, want single done", frameKinds(frames))
	}
	if got := frames[0].Payload.(donePayload).TurnCount; got != 1 {
		t.Fatalf("turn_count = %d, want 1 (unchanged)", got)
	}
}

func TestFailTriggerEmitsError(t *testing.T) {
	s := newTestServer("")

	frames := s.dispatch("echo", inbound{Type: "user_message", Content: "please fail"})
	last := frames[len(frames)-1]
	if last.Kind != "error" {
		t.Fatalf("last frame = %s, want error", last.Kind)
	}
	if got := last.Payload.(errorPayload).Code; got != "UNKNOWN" {
		t.Fatalf("code = %s, want UNKNOWN", got)
	}
}

func TestSplitChunksReassembles(t *testing.T) {
	tests := []string{
		"",
		"one",
		"a b c d e f g",
		"trailing space ",
	}
	for _, text := range tests {
		var sb strings.Builder
		for _, c := range splitChunks(text, 3) {
			sb.WriteString(c)
		}
		if sb.String() != text {
			t.Errorf("chunks of %q reassemble to %q", text, sb.String())
		}
	}
}

func TestRESTSessionLifecycle(t *testing.T) {
	s := newTestServer("secret")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := rest.New(srv.URL, func() string { return "secret" })
	ctx := context.Background()

	agents, err := client.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(agents))
	}

	// Sessions are created by the first message of a conversation.
	frames := s.dispatch("echo", inbound{Type: "user_message", Content: "hi"})
	sid := frames[0].Payload.(sessionIDPayload).SessionID

	sessions, err := client.ListSessions(ctx, "echo")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sid {
		t.Fatalf("sessions = %+v, want the one created above", sessions)
	}

	renamed, err := client.RenameSession(ctx, "echo", sid, "My chat")
	if err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if renamed.Title != "My chat" {
		t.Fatalf("title = %q", renamed.Title)
	}

	if err := client.DeleteSession(ctx, "echo", sid); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	sessions, err = client.ListSessions(ctx, "echo")
	if err != nil {
		t.Fatalf("ListSessions after delete: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d after delete, want 0", len(sessions))
	}
}

func TestRESTRejectsBadToken(t *testing.T) {
	s := newTestServer("secret")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := rest.New(srv.URL, func() string { return "wrong" })
	_, err := client.ListAgents(context.Background())

	var apiErr *rest.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *rest.APIError", err)
	}
	if apiErr.Status != 401 || apiErr.Code != "TOKEN_INVALID" {
		t.Fatalf("apiErr = %+v, want 401 TOKEN_INVALID", apiErr)
	}
}

func TestUnknownAgentIs404(t *testing.T) {
	s := newTestServer("")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := rest.New(srv.URL, nil)
	_, err := client.ListSessions(context.Background(), "ghost")

	var apiErr *rest.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *rest.APIError", err)
	}
	if apiErr.Status != 404 || apiErr.Code != "AGENT_NOT_FOUND" {
		t.Fatalf("apiErr = %+v, want 404 AGENT_NOT_FOUND", apiErr)
	}
}

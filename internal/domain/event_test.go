package domain

import (
	"testing"
	"time"
)

func TestNewTextDeltaEvent(t *testing.T) {
	before := time.Now()
	e := NewTextDeltaEvent("session-123", "Hello")
	after := time.Now()

	if e.Type != EventTypeTextDelta {
		t.Errorf("expected EventTypeTextDelta, got %v", e.Type)
	}
	if e.SessionID != "session-123" {
		t.Errorf("expected SessionID 'session-123', got %q", e.SessionID)
	}
	if e.Timestamp.Before(before) || e.Timestamp.After(after) {
		t.Error("timestamp out of expected range")
	}

	data, ok := e.TextDelta()
	if !ok {
		t.Fatalf("expected TextDeltaData, got %T", e.Data)
	}
	if data.Text != "Hello" {
		t.Errorf("expected Text 'Hello', got %q", data.Text)
	}
}

func TestNewDoneEvent(t *testing.T) {
	cost := 0.0042
	e := NewDoneEvent("s1", 3, &cost)

	data, ok := e.Done()
	if !ok {
		t.Fatalf("expected DoneData, got %T", e.Data)
	}
	if data.TurnCount != 3 {
		t.Errorf("expected TurnCount 3, got %d", data.TurnCount)
	}
	if data.TotalCostUSD == nil || *data.TotalCostUSD != cost {
		t.Errorf("expected TotalCostUSD %v, got %v", cost, data.TotalCostUSD)
	}
}

func TestAccessorsRejectWrongVariant(t *testing.T) {
	e := NewTextDeltaEvent("s1", "x")

	if _, ok := e.ToolUse(); ok {
		t.Error("ToolUse() should not match a text_delta event")
	}
	if _, ok := e.Done(); ok {
		t.Error("Done() should not match a text_delta event")
	}
	if _, ok := e.Error(); ok {
		t.Error("Error() should not match a text_delta event")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		code     string
		expected ErrorCode
	}{
		{"TOKEN_EXPIRED", CodeTokenExpired},
		{"TOKEN_INVALID", CodeTokenInvalid},
		{"SESSION_NOT_FOUND", CodeSessionNotFound},
		{"RATE_LIMITED", CodeRateLimited},
		{"AGENT_NOT_FOUND", CodeAgentNotFound},
		{"UNKNOWN", CodeUnknown},
		{"SOMETHING_NEW", CodeUnknown},
		{"", CodeUnknown},
	}

	for _, tt := range tests {
		if got := Normalize(tt.code); got != tt.expected {
			t.Errorf("Normalize(%q) = %q, want %q", tt.code, got, tt.expected)
		}
	}
}

func TestIsAuthCode(t *testing.T) {
	if !CodeTokenExpired.IsAuthCode() {
		t.Error("TOKEN_EXPIRED should be an auth code")
	}
	if !CodeTokenInvalid.IsAuthCode() {
		t.Error("TOKEN_INVALID should be an auth code")
	}
	if CodeRateLimited.IsAuthCode() {
		t.Error("RATE_LIMITED should not be an auth code")
	}
}

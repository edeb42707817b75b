// Package protocol defines the wire contract with the agent backend: the
// decoder that turns raw frame payloads into typed domain events, and the
// outbound message types sent over the WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ember-chat/ember/internal/domain"
	"github.com/ember-chat/ember/internal/frame"
)

var (
	// ErrUnknownEventType marks event kinds this client does not understand.
	// Callers log and drop these; they are never fatal.
	ErrUnknownEventType = errors.New("unknown event type")

	errMissingField = errors.New("missing required field")
)

// DecodeEvent validates a frame and converts it into a domain event.
// Decoding is pure: no side effects, no retained state.
func DecodeEvent(f frame.Frame) (domain.Event, error) {
	payload := []byte(f.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	switch domain.EventType(f.EventType) {
	case domain.EventTypeSessionID:
		var v struct {
			SessionID string `json:"session_id"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		if v.SessionID == "" {
			return domain.Event{}, fmt.Errorf("session_id: %w: session_id", errMissingField)
		}
		return domain.NewSessionIDEvent(v.SessionID), nil

	case domain.EventTypeTextDelta:
		var v struct {
			SessionID string  `json:"session_id"`
			Text      *string `json:"text"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		if v.Text == nil {
			return domain.Event{}, fmt.Errorf("text_delta: %w: text", errMissingField)
		}
		return domain.NewTextDeltaEvent(v.SessionID, *v.Text), nil

	case domain.EventTypeToolUse:
		var v struct {
			SessionID string         `json:"session_id"`
			ID        string         `json:"id"`
			Name      string         `json:"name"`
			Input     map[string]any `json:"input"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		if v.ID == "" || v.Name == "" {
			return domain.Event{}, fmt.Errorf("tool_use: %w: id, name", errMissingField)
		}
		return domain.NewToolUseEvent(v.SessionID, v.ID, v.Name, v.Input), nil

	case domain.EventTypeToolResult:
		var v struct {
			SessionID string `json:"session_id"`
			ToolUseID string `json:"tool_use_id"`
			Content   string `json:"content"`
			IsError   bool   `json:"is_error"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		if v.ToolUseID == "" {
			return domain.Event{}, fmt.Errorf("tool_result: %w: tool_use_id", errMissingField)
		}
		return domain.NewToolResultEvent(v.SessionID, v.ToolUseID, v.Content, v.IsError), nil

	case domain.EventTypeDone:
		var v struct {
			SessionID    string   `json:"session_id"`
			TurnCount    *int     `json:"turn_count"`
			TotalCostUSD *float64 `json:"total_cost_usd"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		if v.TurnCount == nil || *v.TurnCount < 0 {
			return domain.Event{}, fmt.Errorf("done: turn_count must be a non-negative integer")
		}
		return domain.NewDoneEvent(v.SessionID, *v.TurnCount, v.TotalCostUSD), nil

	case domain.EventTypeError:
		var v struct {
			SessionID string `json:"session_id"`
			Error     string `json:"error"`
			Code      string `json:"code"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		if v.Error == "" {
			return domain.Event{}, fmt.Errorf("error: %w: error", errMissingField)
		}
		return domain.NewErrorEvent(v.SessionID, v.Error, domain.Normalize(v.Code)), nil

	case domain.EventTypeReady:
		var v struct {
			SessionID string `json:"session_id"`
			Resumed   bool   `json:"resumed"`
			TurnCount int    `json:"turn_count"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		return domain.NewReadyEvent(v.SessionID, v.Resumed, v.TurnCount), nil

	case domain.EventTypeAskUserQuestion:
		var v struct {
			SessionID  string `json:"session_id"`
			QuestionID string `json:"question_id"`
			Questions  []struct {
				Question string   `json:"question"`
				Options  []string `json:"options"`
			} `json:"questions"`
			Timeout int `json:"timeout"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		if v.QuestionID == "" || len(v.Questions) == 0 {
			return domain.Event{}, fmt.Errorf("ask_user_question: %w: question_id, questions", errMissingField)
		}
		questions := make([]domain.Question, len(v.Questions))
		for i, q := range v.Questions {
			questions[i] = domain.Question{Question: q.Question, Options: q.Options}
		}
		return domain.NewAskUserQuestionEvent(v.SessionID, v.QuestionID, questions, v.Timeout), nil

	case domain.EventTypePlanApproval:
		var v struct {
			SessionID string   `json:"session_id"`
			PlanID    string   `json:"plan_id"`
			Title     string   `json:"title"`
			Summary   string   `json:"summary"`
			Steps     []string `json:"steps"`
			Timeout   int      `json:"timeout"`
		}
		if err := unmarshal(payload, &v); err != nil {
			return domain.Event{}, err
		}
		if v.PlanID == "" {
			return domain.Event{}, fmt.Errorf("plan_approval: %w: plan_id", errMissingField)
		}
		return domain.NewPlanApprovalEvent(v.SessionID, v.PlanID, v.Title, v.Summary, v.Steps, v.Timeout), nil

	case domain.EventTypeAuthenticated:
		return domain.NewAuthenticatedEvent(), nil

	default:
		return domain.Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, f.EventType)
	}
}

func unmarshal(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("parse event payload: %w", err)
	}
	return nil
}

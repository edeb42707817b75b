package domain

import "time"

// EventType enumerates the closed set of server event kinds. The values match
// the wire names used by both the SSE and WebSocket transports.
type EventType string

const (
	EventTypeSessionID       EventType = "session_id"
	EventTypeTextDelta       EventType = "text_delta"
	EventTypeToolUse         EventType = "tool_use"
	EventTypeToolResult      EventType = "tool_result"
	EventTypeDone            EventType = "done"
	EventTypeError           EventType = "error"
	EventTypeReady           EventType = "ready"
	EventTypeAskUserQuestion EventType = "ask_user_question"
	EventTypePlanApproval    EventType = "plan_approval"
	EventTypeAuthenticated   EventType = "authenticated"
)

// Event is a validated server event. Exactly one Data variant is set,
// discriminated by Type. SessionID is empty when the server did not tag the
// event with a session (e.g. authenticated).
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      any
}

type SessionIDData struct {
	SessionID string
}

type TextDeltaData struct {
	Text string
}

type ToolUseData struct {
	ID    string
	Name  string
	Input map[string]any
}

type ToolResultData struct {
	ToolUseID string
	Content   string
	IsError   bool
}

type DoneData struct {
	TurnCount    int
	TotalCostUSD *float64
}

type ErrorData struct {
	Message string
	Code    ErrorCode
}

type ReadyData struct {
	SessionID string
	Resumed   bool
	TurnCount int
}

// Question is a single question inside an ask_user_question event.
type Question struct {
	Question string
	Options  []string
}

type AskUserQuestionData struct {
	QuestionID     string
	Questions      []Question
	TimeoutSeconds int
}

type PlanApprovalData struct {
	PlanID         string
	Title          string
	Summary        string
	Steps          []string
	TimeoutSeconds int
}

type AuthenticatedData struct{}

func NewSessionIDEvent(sessionID string) Event {
	return Event{
		Type:      EventTypeSessionID,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      SessionIDData{SessionID: sessionID},
	}
}

func NewTextDeltaEvent(sessionID, text string) Event {
	return Event{
		Type:      EventTypeTextDelta,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      TextDeltaData{Text: text},
	}
}

func NewToolUseEvent(sessionID, id, name string, input map[string]any) Event {
	return Event{
		Type:      EventTypeToolUse,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      ToolUseData{ID: id, Name: name, Input: input},
	}
}

func NewToolResultEvent(sessionID, toolUseID, content string, isError bool) Event {
	return Event{
		Type:      EventTypeToolResult,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      ToolResultData{ToolUseID: toolUseID, Content: content, IsError: isError},
	}
}

func NewDoneEvent(sessionID string, turnCount int, totalCostUSD *float64) Event {
	return Event{
		Type:      EventTypeDone,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      DoneData{TurnCount: turnCount, TotalCostUSD: totalCostUSD},
	}
}

func NewErrorEvent(sessionID, message string, code ErrorCode) Event {
	return Event{
		Type:      EventTypeError,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      ErrorData{Message: message, Code: code},
	}
}

func NewReadyEvent(sessionID string, resumed bool, turnCount int) Event {
	return Event{
		Type:      EventTypeReady,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      ReadyData{SessionID: sessionID, Resumed: resumed, TurnCount: turnCount},
	}
}

func NewAskUserQuestionEvent(sessionID, questionID string, questions []Question, timeoutSeconds int) Event {
	return Event{
		Type:      EventTypeAskUserQuestion,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: AskUserQuestionData{
			QuestionID:     questionID,
			Questions:      questions,
			TimeoutSeconds: timeoutSeconds,
		},
	}
}

func NewPlanApprovalEvent(sessionID, planID, title, summary string, steps []string, timeoutSeconds int) Event {
	return Event{
		Type:      EventTypePlanApproval,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: PlanApprovalData{
			PlanID:         planID,
			Title:          title,
			Summary:        summary,
			Steps:          steps,
			TimeoutSeconds: timeoutSeconds,
		},
	}
}

func NewAuthenticatedEvent() Event {
	return Event{
		Type:      EventTypeAuthenticated,
		Timestamp: time.Now(),
		Data:      AuthenticatedData{},
	}
}

// TextDelta returns the text_delta payload when this event carries one.
func (e Event) TextDelta() (TextDeltaData, bool) {
	d, ok := e.Data.(TextDeltaData)
	return d, ok
}

// ToolUse returns the tool_use payload when this event carries one.
func (e Event) ToolUse() (ToolUseData, bool) {
	d, ok := e.Data.(ToolUseData)
	return d, ok
}

// ToolResult returns the tool_result payload when this event carries one.
func (e Event) ToolResult() (ToolResultData, bool) {
	d, ok := e.Data.(ToolResultData)
	return d, ok
}

// Done returns the done payload when this event carries one.
func (e Event) Done() (DoneData, bool) {
	d, ok := e.Data.(DoneData)
	return d, ok
}

// Error returns the error payload when this event carries one.
func (e Event) Error() (ErrorData, bool) {
	d, ok := e.Data.(ErrorData)
	return d, ok
}

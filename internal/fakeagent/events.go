package fakeagent

// frameOut is one server-push event ready for either transport: Kind feeds
// the SSE "event:" line, Payload marshals to the data document. The payload
// carries a redundant "type" field so the same document works as a WebSocket
// text frame.
type frameOut struct {
	Kind    string
	Payload any
}

type sessionIDPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type textDeltaPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type toolUsePayload struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
}

type toolResultPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

type donePayload struct {
	Type         string   `json:"type"`
	SessionID    string   `json:"session_id"`
	TurnCount    int      `json:"turn_count"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
}

type errorPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
	Code      string `json:"code"`
}

type questionPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

type askUserQuestionPayload struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"session_id"`
	QuestionID string            `json:"question_id"`
	Questions  []questionPayload `json:"questions"`
	Timeout    int               `json:"timeout,omitempty"`
}

type planApprovalPayload struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	PlanID    string   `json:"plan_id"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary,omitempty"`
	Steps     []string `json:"steps,omitempty"`
	Timeout   int      `json:"timeout,omitempty"`
}

type authenticatedPayload struct {
	Type string `json:"type"`
}

func sessionIDFrame(sessionID string) frameOut {
	return frameOut{Kind: "session_id", Payload: sessionIDPayload{Type: "session_id", SessionID: sessionID}}
}

func textDeltaFrame(sessionID, text string) frameOut {
	return frameOut{Kind: "text_delta", Payload: textDeltaPayload{Type: "text_delta", SessionID: sessionID, Text: text}}
}

func toolUseFrame(sessionID, id, name string, input map[string]any) frameOut {
	return frameOut{Kind: "tool_use", Payload: toolUsePayload{Type: "tool_use", SessionID: sessionID, ID: id, Name: name, Input: input}}
}

func toolResultFrame(sessionID, toolUseID, content string, isError bool) frameOut {
	return frameOut{Kind: "tool_result", Payload: toolResultPayload{Type: "tool_result", SessionID: sessionID, ToolUseID: toolUseID, Content: content, IsError: isError}}
}

func doneFrame(sessionID string, turnCount int, totalCostUSD *float64) frameOut {
	return frameOut{Kind: "done", Payload: donePayload{Type: "done", SessionID: sessionID, TurnCount: turnCount, TotalCostUSD: totalCostUSD}}
}

func errorFrame(sessionID, message, code string) frameOut {
	return frameOut{Kind: "error", Payload: errorPayload{Type: "error", SessionID: sessionID, Error: message, Code: code}}
}

func askUserQuestionFrame(sessionID, questionID string, questions []questionPayload) frameOut {
	return frameOut{Kind: "ask_user_question", Payload: askUserQuestionPayload{
		Type:       "ask_user_question",
		SessionID:  sessionID,
		QuestionID: questionID,
		Questions:  questions,
		Timeout:    60,
	}}
}

func planApprovalFrame(sessionID, planID, title, summary string, steps []string) frameOut {
	return frameOut{Kind: "plan_approval", Payload: planApprovalPayload{
		Type:      "plan_approval",
		SessionID: sessionID,
		PlanID:    planID,
		Title:     title,
		Summary:   summary,
		Steps:     steps,
		Timeout:   120,
	}}
}

func authenticatedFrame() frameOut {
	return frameOut{Kind: "authenticated", Payload: authenticatedPayload{Type: "authenticated"}}
}

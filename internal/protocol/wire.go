package protocol

// ─────────────────────────────────────────────────────────────────────────────
// Outbound wire types, client → server. Each is one WebSocket text frame.
// ─────────────────────────────────────────────────────────────────────────────

// AuthMessage carries the bearer token; it is the first message sent after
// the transport opens.
type AuthMessage struct {
	Type  string `json:"type"` // "auth"
	Token string `json:"token"`
}

func NewAuthMessage(token string) AuthMessage {
	return AuthMessage{Type: "auth", Token: token}
}

// UserMessage is a plain chat turn.
type UserMessage struct {
	Type      string `json:"type"` // "user_message"
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

func NewUserMessage(content, sessionID string) UserMessage {
	return UserMessage{Type: "user_message", Content: content, SessionID: sessionID}
}

// UserAnswerMessage answers an ask_user_question event. Answers are ordered
// to match the questions in the originating event.
type UserAnswerMessage struct {
	Type       string   `json:"type"` // "user_answer"
	QuestionID string   `json:"question_id"`
	Answers    []string `json:"answers"`
}

func NewUserAnswerMessage(questionID string, answers []string) UserAnswerMessage {
	return UserAnswerMessage{Type: "user_answer", QuestionID: questionID, Answers: answers}
}

// PlanApprovalResponse accepts or rejects a proposed plan.
type PlanApprovalResponse struct {
	Type     string `json:"type"` // "plan_approval_response"
	PlanID   string `json:"plan_id"`
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

func NewPlanApprovalResponse(planID string, approved bool, feedback string) PlanApprovalResponse {
	return PlanApprovalResponse{
		Type:     "plan_approval_response",
		PlanID:   planID,
		Approved: approved,
		Feedback: feedback,
	}
}

// InterruptMessage aborts the current agent turn without closing the
// connection.
type InterruptMessage struct {
	Type      string `json:"type"` // "interrupt"
	SessionID string `json:"session_id,omitempty"`
}

func NewInterruptMessage(sessionID string) InterruptMessage {
	return InterruptMessage{Type: "interrupt", SessionID: sessionID}
}

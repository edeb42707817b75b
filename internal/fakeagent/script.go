package fakeagent

import (
	"fmt"
	"strings"
)

const deltaChunkWords = 3

// inbound is the union of every client command the backend accepts. Type
// discriminates; the other fields are populated per kind.
type inbound struct {
	Type       string   `json:"type"`
	Token      string   `json:"token"`
	Content    string   `json:"content"`
	SessionID  string   `json:"session_id"`
	QuestionID string   `json:"question_id"`
	Answers    []string `json:"answers"`
	PlanID     string   `json:"plan_id"`
	Approved   bool     `json:"approved"`
	Feedback   string   `json:"feedback"`
}

// dispatch runs the scripted agent against one inbound command and returns
// the frames the agent would stream back.
func (s *Server) dispatch(agentID string, msg inbound) []frameOut {
	switch msg.Type {
	case "user_message":
		return s.scriptUserMessage(agentID, msg)
	case "user_answer":
		return s.scriptAnswer(agentID, msg)
	case "plan_approval_response":
		return s.scriptPlanResponse(agentID, msg)
	case "interrupt":
		return s.scriptInterrupt(msg)
	default:
		return []frameOut{errorFrame(msg.SessionID, fmt.Sprintf("unsupported message type %q", msg.Type), "UNKNOWN")}
	}
}

// scriptUserMessage echoes the message back as streamed deltas. Trigger
// words in the content exercise the richer event kinds: "tool" runs a tool
// round trip, "question" asks back, "plan" proposes a plan, "fail" errors.
func (s *Server) scriptUserMessage(agentID string, msg inbound) []frameOut {
	sess, created := s.ensureSession(agentID, msg.SessionID)

	var out []frameOut
	if created {
		out = append(out, sessionIDFrame(sess.ID))
	}

	content := msg.Content
	switch {
	case strings.Contains(content, "fail"):
		out = append(out, errorFrame(sess.ID, "the agent hit a simulated failure", "UNKNOWN"))

	case strings.Contains(content, "question"):
		out = append(out, askUserQuestionFrame(sess.ID, "q-1", []questionPayload{
			{Question: "Should I proceed?", Options: []string{"yes", "no"}},
		}))

	case strings.Contains(content, "plan"):
		out = append(out, planApprovalFrame(sess.ID, "plan-1", "Proposed plan",
			"Echo the message back in two steps.",
			[]string{"Read the message", "Echo it back"}))

	case strings.Contains(content, "tool"):
		out = append(out,
			textDeltaFrame(sess.ID, "Let me look that up."),
			toolUseFrame(sess.ID, "tool-1", "lookup", map[string]any{"query": content}),
			toolResultFrame(sess.ID, "tool-1", "lookup complete", false),
			textDeltaFrame(sess.ID, "You said: "+content),
			s.finishTurn(sess.ID),
		)

	default:
		for _, chunk := range splitChunks("You said: "+content, deltaChunkWords) {
			out = append(out, textDeltaFrame(sess.ID, chunk))
		}
		out = append(out, s.finishTurn(sess.ID))
	}
	return out
}

func (s *Server) scriptAnswer(agentID string, msg inbound) []frameOut {
	sess, _ := s.sessionFor(agentID, msg.SessionID)
	return []frameOut{
		textDeltaFrame(sess.ID, "Recorded answers: "+strings.Join(msg.Answers, ", ")),
		s.finishTurn(sess.ID),
	}
}

func (s *Server) scriptPlanResponse(agentID string, msg inbound) []frameOut {
	sess, _ := s.sessionFor(agentID, msg.SessionID)
	text := "Plan rejected, standing down."
	if msg.Approved {
		text = "Plan approved, proceeding."
	}
	return []frameOut{
		textDeltaFrame(sess.ID, text),
		s.finishTurn(sess.ID),
	}
}

// scriptInterrupt ends the turn without advancing the turn count.
func (s *Server) scriptInterrupt(msg inbound) []frameOut {
	if msg.SessionID == "" {
		return nil
	}
	s.mu.Lock()
	turnCount := 0
	if sess, ok := s.sessions[msg.SessionID]; ok {
		turnCount = sess.TurnCount
	}
	s.mu.Unlock()
	return []frameOut{doneFrame(msg.SessionID, turnCount, nil)}
}

// finishTurn advances the session's turn count and returns the done frame,
// with a token-counter style cost that grows per turn.
func (s *Server) finishTurn(sessionID string) frameOut {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return doneFrame(sessionID, 0, nil)
	}
	sess.TurnCount++
	cost := 0.01 * float64(sess.TurnCount)
	return doneFrame(sessionID, sess.TurnCount, &cost)
}

// splitChunks breaks text into groups of n words, separators preserved, so
// the chunks concatenate back to the original text.
func splitChunks(text string, n int) []string {
	words := strings.SplitAfter(text, " ")
	var out []string
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], ""))
	}
	return out
}

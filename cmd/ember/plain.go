package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/ember-chat/ember/internal/client"
	"github.com/ember-chat/ember/internal/domain"
	"github.com/ember-chat/ember/internal/timeline"
)

// plainRenderer prints timeline updates as they stream, without a
// full-screen UI. Deltas print incrementally on the same line.
type plainRenderer struct {
	mu      sync.Mutex
	midLine bool

	userC   *color.Color
	toolC   *color.Color
	errC    *color.Color
	faintC  *color.Color
	promptC *color.Color
}

func newPlainRenderer(colorOn bool) *plainRenderer {
	color.NoColor = !colorOn
	return &plainRenderer{
		userC:   color.New(color.FgCyan, color.Bold),
		toolC:   color.New(color.FgBlue, color.Bold),
		errC:    color.New(color.FgRed),
		faintC:  color.New(color.Faint),
		promptC: color.New(color.FgYellow, color.Bold),
	}
}

func (r *plainRenderer) render(u timeline.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch u.Kind {
	case timeline.UNewEntry:
		switch u.Entry.Kind {
		case timeline.EntryUser:
			// The user just typed this; no need to echo it back.
		case timeline.EntryToolUse:
			r.breakLine()
			r.toolC.Printf("> %s\n", u.Entry.ToolName)
		case timeline.EntryToolResult:
			if u.Entry.IsError {
				r.errC.Printf("  x %s\n", firstLine(u.Entry.Content))
			} else {
				r.faintC.Printf("  ok %s\n", firstLine(u.Entry.Content))
			}
		case timeline.EntrySystem:
			r.breakLine()
			if u.Entry.Level == timeline.LevelError {
				r.errC.Printf("! %s\n", u.Entry.Content)
			} else {
				r.faintC.Println(u.Entry.Content)
			}
		}

	case timeline.UAppend:
		fmt.Print(u.Entry.Content)
		r.midLine = true

	case timeline.UReplace:
		r.breakLine()

	case timeline.URemove:
		// An empty streaming entry went away; nothing was printed for it.

	case timeline.UReset:
		r.breakLine()
		r.faintC.Println("--- new conversation ---")
	}
}

// breakLine terminates a partially printed delta line.
func (r *plainRenderer) breakLine() {
	if r.midLine {
		fmt.Println()
		r.midLine = false
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// runPlain drives a line-oriented conversation loop on stdin/stdout.
func runPlain(c *client.Client, agentID string, colorOn bool) error {
	r := newPlainRenderer(colorOn)

	sub := c.Timeline().Subscribe(256)
	defer sub.Close()
	go func() {
		for u := range sub.C {
			r.render(u)
		}
	}()

	// Pending interactions redirect the next input line.
	var pendingMu sync.Mutex
	var pendingQuestion *domain.AskUserQuestionData
	var pendingPlan *domain.PlanApprovalData

	unsub := c.OnEvent(func(e domain.Event) {
		switch d := e.Data.(type) {
		case domain.AskUserQuestionData:
			pendingMu.Lock()
			pendingQuestion = &d
			pendingMu.Unlock()
			r.breakLine()
			q := d.Questions[0]
			prompt := q.Question
			if len(q.Options) > 0 {
				prompt += " [" + strings.Join(q.Options, "/") + "]"
			}
			r.promptC.Printf("? %s\n", prompt)
		case domain.PlanApprovalData:
			pendingMu.Lock()
			pendingPlan = &d
			pendingMu.Unlock()
			r.breakLine()
			r.promptC.Printf("Plan: %s\n", d.Title)
			for _, step := range d.Steps {
				fmt.Printf("  - %s\n", step)
			}
			r.promptC.Println("Approve? [y/n]")
		}
	})
	defer unsub()

	unsubErr := c.OnError(func(err error) {
		r.breakLine()
		r.errC.Fprintf(os.Stderr, "! %v\n", err)
	})
	defer unsubErr()

	fmt.Printf("Connected to %s. /new starts over, /interrupt aborts a turn, /quit exits.\n", agentID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		r.userC.Print("you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/new":
			c.NewConversation()
			continue
		case "/interrupt":
			if err := c.Interrupt(); err != nil {
				r.errC.Printf("! %v\n", err)
			}
			continue
		}

		pendingMu.Lock()
		q, p := pendingQuestion, pendingPlan
		pendingQuestion, pendingPlan = nil, nil
		pendingMu.Unlock()

		var err error
		switch {
		case q != nil:
			err = c.SendAnswer(q.QuestionID, []string{line})
		case p != nil:
			approved := strings.EqualFold(line, "y") || strings.EqualFold(line, "yes")
			feedback := ""
			if !approved {
				feedback = line
			}
			err = c.SendPlanApproval(p.PlanID, approved, feedback)
		default:
			err = c.SendMessage(line)
		}
		if err != nil {
			r.errC.Printf("! %v\n", err)
		}
	}
}

// Package timeline folds the ordered event sequence from the agent backend
// into the conversation timeline shown to the user.
package timeline

import "github.com/google/uuid"

type EntryKind string

const (
	EntryUser       EntryKind = "user"
	EntryAssistant  EntryKind = "assistant"
	EntryToolUse    EntryKind = "tool_use"
	EntryToolResult EntryKind = "tool_result"
	EntrySystem     EntryKind = "system"
)

// SystemLevel classifies system entries.
type SystemLevel string

const (
	LevelInfo    SystemLevel = "info"
	LevelWarning SystemLevel = "warning"
	LevelError   SystemLevel = "error"
)

// Entry is one row of the conversation timeline. ID is assigned at creation
// and stable for the entry's lifetime; ordering is insertion order. Only the
// currently-streaming assistant entry is ever mutated after append.
type Entry struct {
	ID   string
	Kind EntryKind

	// Content holds user/assistant/system text, or tool result output.
	Content string

	// IsStreaming marks the single open assistant entry that text deltas
	// accumulate into. At most one entry has IsStreaming=true.
	IsStreaming bool

	// Tool fields, set for EntryToolUse / EntryToolResult.
	ToolName  string
	ToolUseID string
	ToolInput map[string]any
	IsError   bool

	// Level is set for EntrySystem.
	Level SystemLevel
}

func newEntry(kind EntryKind) Entry {
	return Entry{ID: uuid.New().String(), Kind: kind}
}

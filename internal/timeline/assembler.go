package timeline

import (
	"sync"

	"github.com/ember-chat/ember/internal/domain"
)

// Assembler folds the ordered event sequence into the conversation timeline.
// It owns the single "open" streaming assistant entry that text deltas
// accumulate into until a boundary event (tool_use, done, error, abort)
// closes it.
//
// All methods are safe for concurrent use, but events must be applied in
// arrival order by a single caller: later events depend on state mutated by
// earlier ones.
type Assembler struct {
	mu      sync.Mutex
	entries []Entry
	openIdx int // index of the streaming assistant entry, -1 when none

	turnCount    int
	totalCostUSD *float64

	stream *Stream
}

func NewAssembler() *Assembler {
	return &Assembler{
		openIdx: -1,
		stream:  NewStream(),
	}
}

// Subscribe returns a receiver of incremental timeline updates.
func (a *Assembler) Subscribe(bufSize int) *StreamReceiver {
	return a.stream.Subscribe(bufSize)
}

// Apply folds one event into the timeline. Events that do not touch the
// timeline (session_id, ready, authenticated, ask_user_question,
// plan_approval) are no-ops here; the connection layer surfaces them.
func (a *Assembler) Apply(e domain.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e.Type {
	case domain.EventTypeTextDelta:
		d, _ := e.TextDelta()
		a.appendText(d.Text)

	case domain.EventTypeToolUse:
		d, _ := e.ToolUse()
		a.closeOpen()
		entry := newEntry(EntryToolUse)
		entry.ToolName = d.Name
		entry.ToolUseID = d.ID
		entry.ToolInput = d.Input
		a.append(entry)

	case domain.EventTypeToolResult:
		d, _ := e.ToolResult()
		entry := newEntry(EntryToolResult)
		entry.ToolUseID = d.ToolUseID
		entry.Content = d.Content
		entry.IsError = d.IsError
		a.append(entry)
		// The protocol continues with more assistant text after a tool
		// result, so reopen a streaming entry to receive it. If the next
		// event turns out to be another boundary, closeOpen drops the
		// still-empty entry.
		a.openAssistant()

	case domain.EventTypeDone:
		d, _ := e.Done()
		a.closeOpen()
		a.turnCount = d.TurnCount
		if d.TotalCostUSD != nil {
			a.totalCostUSD = d.TotalCostUSD
		}

	case domain.EventTypeError:
		d, _ := e.Error()
		a.closeOpen()
		entry := newEntry(EntrySystem)
		entry.Level = LevelError
		entry.Content = d.Message
		a.append(entry)
	}
}

// AddUserMessage appends a user entry. Called by the client when a message
// is handed to the transport, not driven by server events.
func (a *Assembler) AddUserMessage(content string) Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := newEntry(EntryUser)
	entry.Content = content
	a.append(entry)
	return entry
}

// AddSystem appends a system entry at the given level.
func (a *Assembler) AddSystem(level SystemLevel, content string) Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := newEntry(EntrySystem)
	entry.Level = level
	entry.Content = content
	a.append(entry)
	return entry
}

// Abort handles a user-cancelled turn or a connection dropped mid-stream.
// An open assistant entry with no accumulated text is removed entirely; one
// with partial text is closed in place, preserving what arrived.
func (a *Assembler) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeOpen()
}

// Reset discards the timeline and the open-entry pointer atomically.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = nil
	a.openIdx = -1
	a.turnCount = 0
	a.totalCostUSD = nil
	a.stream.publish(Update{Kind: UReset})
}

// Snapshot returns a copy of the timeline in insertion order.
func (a *Assembler) Snapshot() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// TurnCount returns the turn count reported by the most recent done event.
func (a *Assembler) TurnCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnCount
}

// TotalCostUSD returns the cumulative cost reported by the backend, or nil
// if it never reported one.
func (a *Assembler) TotalCostUSD() *float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalCostUSD
}

// Close shuts down the update stream.
func (a *Assembler) Close() {
	a.stream.Close()
}

// appendText accumulates delta text into the open assistant entry, opening
// one first if needed.
func (a *Assembler) appendText(text string) {
	if a.openIdx < 0 {
		a.openAssistant()
	}
	a.entries[a.openIdx].Content += text

	delta := Entry{ID: a.entries[a.openIdx].ID, Kind: EntryAssistant, Content: text, IsStreaming: true}
	a.stream.publish(Update{Kind: UAppend, Entry: delta})
}

// openAssistant appends a new streaming assistant entry and marks it open.
func (a *Assembler) openAssistant() {
	entry := newEntry(EntryAssistant)
	entry.IsStreaming = true
	a.entries = append(a.entries, entry)
	a.openIdx = len(a.entries) - 1
	a.stream.publish(Update{Kind: UNewEntry, Entry: entry})
}

// closeOpen finalises the open assistant entry. A still-empty entry was
// never meaningfully started (e.g. two consecutive tool uses, or an abort
// before the first delta) and is removed so empty bubbles never reach
// consumers.
func (a *Assembler) closeOpen() {
	if a.openIdx < 0 {
		return
	}
	idx := a.openIdx
	a.openIdx = -1

	if a.entries[idx].Content == "" {
		removed := a.entries[idx]
		a.entries = append(a.entries[:idx], a.entries[idx+1:]...)
		a.stream.publish(Update{Kind: URemove, Entry: Entry{ID: removed.ID, Kind: EntryAssistant}})
		return
	}

	a.entries[idx].IsStreaming = false
	a.stream.publish(Update{Kind: UReplace, Entry: a.entries[idx]})
}

// append adds a finalised entry and publishes it.
func (a *Assembler) append(entry Entry) {
	a.entries = append(a.entries, entry)
	a.stream.publish(Update{Kind: UNewEntry, Entry: entry})
}

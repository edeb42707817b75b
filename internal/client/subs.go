package client

import (
	"sync"
	"sync/atomic"

	"github.com/ember-chat/ember/internal/domain"
)

// StatusHandler observes connection state transitions.
type StatusHandler func(old, new State)

// EventHandler observes every decoded, session-filtered domain event.
type EventHandler func(e domain.Event)

// ErrorHandler observes connection and application errors.
type ErrorHandler func(err error)

type subEntry[H any] struct {
	fn      H
	removed atomic.Bool
}

// handlerList is an observer list with two guarantees: handlers run in
// registration order, and unsubscribing during dispatch neither skips nor
// double-invokes the other handlers.
type handlerList[H any] struct {
	mu      sync.Mutex
	entries []*subEntry[H]
}

// add registers a handler and returns its unsubscribe func. Unsubscribe is
// idempotent and safe to call from inside a handler.
func (l *handlerList[H]) add(fn H) func() {
	entry := &subEntry[H]{fn: fn}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	return func() {
		entry.removed.Store(true)
		l.mu.Lock()
		for i, e := range l.entries {
			if e == entry {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
	}
}

// dispatch invokes each live handler in registration order. The snapshot is
// taken under the lock; the removed flag catches handlers unsubscribed after
// the snapshot but before their turn.
func (l *handlerList[H]) dispatch(call func(H)) {
	l.mu.Lock()
	snapshot := make([]*subEntry[H], len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	for _, entry := range snapshot {
		if entry.removed.Load() {
			continue
		}
		call(entry.fn)
	}
}

// subscribers aggregates the three consumer-facing callback channels.
type subscribers struct {
	status handlerList[StatusHandler]
	events handlerList[EventHandler]
	errs   handlerList[ErrorHandler]
}

func (s *subscribers) notifyStatus(old, new State) {
	s.status.dispatch(func(h StatusHandler) { h(old, new) })
}

func (s *subscribers) notifyEvent(e domain.Event) {
	s.events.dispatch(func(h EventHandler) { h(e) })
}

func (s *subscribers) notifyError(err error) {
	s.errs.dispatch(func(h ErrorHandler) { h(err) })
}

package timeline

import "sync"

type UpdateKind string

const (
	// Entry should be appended to the end of the timeline.
	UNewEntry UpdateKind = "new_entry"

	// Entry.Content is a delta to append to the entry with the same ID.
	UAppend UpdateKind = "append"

	// Entry replaces the existing entry with the same ID.
	UReplace UpdateKind = "replace"

	// The entry with this ID was removed (an assistant entry closed while
	// still empty).
	URemove UpdateKind = "remove"

	// The timeline was cleared; drop everything.
	UReset UpdateKind = "reset"
)

// Update is an incremental change to the timeline, published so UIs can
// render without re-copying the whole entry list per event.
type Update struct {
	Kind  UpdateKind
	Entry Entry
}

// Stream fans timeline updates out to subscribers. Subscribers that fall
// behind their buffer are dropped rather than blocking the event loop.
type Stream struct {
	mu          sync.Mutex
	subscribers []*streamSubscriber
	closed      bool
}

func NewStream() *Stream {
	return &Stream{}
}

// Subscribe creates a new subscription and returns the receiving end.
// bufSize controls the channel buffer; 0 means unbuffered.
func (st *Stream) Subscribe(bufSize int) *StreamReceiver {
	sub, recv := newSubscription(bufSize)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		sub.Close()
		return recv
	}
	st.subscribers = append(st.subscribers, sub)
	return recv
}

func (st *Stream) publish(u Update) {
	st.mu.Lock()
	defer st.mu.Unlock()

	alive := st.subscribers[:0]
	for _, sub := range st.subscribers {
		if sub.send(u) {
			alive = append(alive, sub)
		}
	}
	st.subscribers = alive
}

func (st *Stream) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	for _, sub := range st.subscribers {
		sub.Close()
	}
	st.subscribers = nil
}

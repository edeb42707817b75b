package timeline

import "sync"

// streamSubscriber is the sending side of a subscription held by the Stream.
// The mutex serializes send against Close so a publish racing a consumer-side
// Close can never send on the closed channel.
type streamSubscriber struct {
	mu     sync.Mutex
	c      chan Update
	closed bool
}

// StreamReceiver is the receiving end of a subscription held by the consumer.
type StreamReceiver struct {
	C   <-chan Update
	sub *streamSubscriber
}

func newSubscription(bufSize int) (*streamSubscriber, *StreamReceiver) {
	ch := make(chan Update, bufSize)
	sub := &streamSubscriber{c: ch}
	recv := &StreamReceiver{
		C:   ch,
		sub: sub,
	}
	return sub, recv
}

// send attempts a non-blocking send. Returns false if the subscriber is
// closed or its buffer is full.
func (ss *streamSubscriber) send(u Update) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.closed {
		return false
	}
	select {
	case ss.c <- u:
		return true
	default:
		return false
	}
}

// Close shuts the subscription down. Safe from either side, idempotent.
func (ss *streamSubscriber) Close() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.closed {
		ss.closed = true
		close(ss.c)
	}
}

// Close shuts down the subscription from the receiving side.
func (sr *StreamReceiver) Close() {
	sr.sub.Close()
}

package client

import "sync"

type commandKind int

const (
	cmdMessage commandKind = iota
	cmdAnswer
	cmdPlanResponse
	cmdInterrupt
)

// command is one user-originated outbound action: a chat message, a question
// answer, a plan response, or an interrupt. payload is the wire struct.
type command struct {
	kind    commandKind
	payload any
}

// commandQueue buffers outbound commands while the connection is down and
// hands them to the sender in FIFO order. Interrupts jump the queue; an
// interrupt buried behind stale chat messages is useless.
type commandQueue struct {
	mu    sync.Mutex
	items []command

	// signal wakes the sender loop; buffered so Push never blocks.
	signal chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{signal: make(chan struct{}, 1)}
}

func (q *commandQueue) Push(cmd command) {
	q.mu.Lock()
	if cmd.kind == cmdInterrupt {
		q.items = append([]command{cmd}, q.items...)
	} else {
		q.items = append(q.items, cmd)
	}
	q.mu.Unlock()
	q.wake()
}

// PushFront re-queues a command whose send failed so the reconnect path
// replays it first.
func (q *commandQueue) PushFront(cmd command) {
	q.mu.Lock()
	q.items = append([]command{cmd}, q.items...)
	q.mu.Unlock()
	q.wake()
}

// Pop removes and returns the oldest command.
func (q *commandQueue) Pop() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return command{}, false
	}
	cmd := q.items[0]
	q.items = q.items[1:]
	return cmd, true
}

// Discard drops everything queued. Called when the user starts a new
// conversation: replaying stale commands into a fresh session would be
// wrong.
func (q *commandQueue) Discard() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// wake nudges the sender loop without blocking.
func (q *commandQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

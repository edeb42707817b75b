package fakeagent

import "sync"

const subscriberBuffer = 64

// hub fans server-push frames out to the SSE subscribers of each agent.
// Subscribers that fall behind lose frames rather than blocking the
// publisher.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan frameOut]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan frameOut]struct{})}
}

func (h *hub) subscribe(agentID string) chan frameOut {
	ch := make(chan frameOut, subscriberBuffer)
	h.mu.Lock()
	if h.subs[agentID] == nil {
		h.subs[agentID] = make(map[chan frameOut]struct{})
	}
	h.subs[agentID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(agentID string, ch chan frameOut) {
	h.mu.Lock()
	if set, ok := h.subs[agentID]; ok {
		delete(set, ch)
	}
	h.mu.Unlock()
}

func (h *hub) publish(agentID string, frames ...frameOut) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[agentID] {
		for _, f := range frames {
			select {
			case ch <- f:
			default:
			}
		}
	}
}

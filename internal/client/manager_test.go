package client

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/ember-chat/ember/internal/auth"
	"github.com/ember-chat/ember/internal/domain"
	"github.com/ember-chat/ember/internal/frame"
	"github.com/ember-chat/ember/internal/protocol"
	"github.com/ember-chat/ember/internal/timeline"
)

// fakeTransport is a scripted in-memory Transport. Tests push inbound frames
// with emit and inspect outbound messages with sentMessages.
type fakeTransport struct {
	in   chan []frame.Frame
	done chan struct{}

	mu      sync.Mutex
	sent    []any
	sendErr error
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []frame.Frame, 32),
		done: make(chan struct{}),
	}
}

func (t *fakeTransport) emit(frames ...frame.Frame) {
	t.in <- frames
}

func (t *fakeTransport) Authenticate(ctx context.Context, token string) error { return nil }

func (t *fakeTransport) Receive(ctx context.Context) ([]frame.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, errors.New("transport closed")
	case fs := <-t.in:
		return fs, nil
	}
}

func (t *fakeTransport) Send(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, v)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

func (t *fakeTransport) sentMessages() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]any, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// fakeDialer pops one scripted result per Dial and records every attempt.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   []DialParams
}

type dialResult struct {
	tr  Transport
	err error
}

func (d *fakeDialer) queue(tr Transport, err error) {
	d.mu.Lock()
	d.results = append(d.results, dialResult{tr: tr, err: err})
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(ctx context.Context, p DialParams) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, p)
	if len(d.results) == 0 {
		return nil, errors.New("no scripted dial result")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.tr, nil
}

func (d *fakeDialer) dialParams() []DialParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialParams, len(d.dials))
	copy(out, d.dials)
	return out
}

// deafTransport blocks in Receive without watching the context, the way the
// real transports block inside their reads. Only Close unblocks it.
type deafTransport struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newDeafTransport() *deafTransport {
	return &deafTransport{done: make(chan struct{})}
}

func (t *deafTransport) Authenticate(ctx context.Context, token string) error { return nil }

func (t *deafTransport) Receive(ctx context.Context) ([]frame.Frame, error) {
	<-t.done
	return nil, errors.New("transport closed")
}

func (t *deafTransport) Send(v any) error { return nil }

func (t *deafTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

func (t *deafTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// okTransport returns a transport with the auth acknowledgement pre-queued.
func okTransport() *fakeTransport {
	tr := newFakeTransport()
	tr.emit(frame.Frame{EventType: "authenticated", Payload: "{}"})
	return tr
}

func newTestClient(t *testing.T, dialer Dialer, tokens *auth.TokenSource) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:              "http://backend.test",
		Dialer:               dialer,
		BackoffBase:          5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		CircuitThreshold:     3,
		CircuitCooldown:      time.Minute,
		AuthTimeout:          2 * time.Second,
		Logger:               log.New(io.Discard, "", 0),
	}, tokens)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func staticTokens(token string) *auth.TokenSource {
	return auth.NewTokenSource(func() string { return token }, nil, 0)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestConnectRunsHandshakeStateMachine(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.queue(okTransport(), nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	var mu sync.Mutex
	var seen []State
	c.OnStatusChange(func(_, s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateAuthenticating, StateConnected}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}

	params := dialer.dialParams()
	if len(params) != 1 || params[0].Token != "tok" {
		t.Fatalf("dial params = %+v, want one dial with token tok", params)
	}
}

func TestHandshakeTimesOutWhenServerNeverAcknowledges(t *testing.T) {
	silent := newDeafTransport()
	dialer := &fakeDialer{}
	dialer.queue(silent, nil)

	c, err := New(Config{
		BaseURL:     "http://backend.test",
		Dialer:      dialer,
		AuthTimeout: 100 * time.Millisecond,
		Logger:      log.New(io.Discard, "", 0),
	}, staticTokens("tok"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	start := time.Now()
	err = c.Connect(context.Background(), "agent-1", "")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Connect succeeded without an auth acknowledgement")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Connect blocked %v, want return shortly after the 100ms deadline", elapsed)
	}
	if !silent.isClosed() {
		t.Error("timed-out handshake left the transport open")
	}
}

func TestConnectSameAgentIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.queue(okTransport(), nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := len(dialer.dialParams()); got != 1 {
		t.Fatalf("dial count = %d, want 1", got)
	}
}

func TestAuthRejectionRefreshesTokenExactlyOnce(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.queue(nil, ErrAuthRejected)
	dialer.queue(okTransport(), nil)

	var refreshes int
	tokens := auth.NewTokenSource(
		func() string { return "stale" },
		func(ctx context.Context) (string, error) {
			refreshes++
			return "fresh", nil
		},
		0,
	)
	c := newTestClient(t, dialer, tokens)

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes)
	}

	params := dialer.dialParams()
	if len(params) != 2 {
		t.Fatalf("dial count = %d, want 2", len(params))
	}
	if params[0].Token != "stale" || params[1].Token != "fresh" {
		t.Fatalf("dial tokens = %q, %q; want stale then fresh", params[0].Token, params[1].Token)
	}
}

func TestAuthRejectionViaErrorEventRefreshes(t *testing.T) {
	rejecting := newFakeTransport()
	rejecting.emit(frame.Frame{
		EventType: "error",
		Payload:   `{"error":"token expired","code":"TOKEN_EXPIRED"}`,
	})

	dialer := &fakeDialer{}
	dialer.queue(rejecting, nil)
	dialer.queue(okTransport(), nil)

	var refreshes int
	tokens := auth.NewTokenSource(
		func() string { return "stale" },
		func(ctx context.Context) (string, error) {
			refreshes++
			return "fresh", nil
		},
		0,
	)
	c := newTestClient(t, dialer, tokens)

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes)
	}
}

func TestSecondAuthRejectionIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.queue(nil, ErrAuthRejected)
	dialer.queue(nil, ErrAuthRejected)

	tokens := auth.NewTokenSource(
		func() string { return "stale" },
		func(ctx context.Context) (string, error) { return "fresh", nil },
		0,
	)
	c := newTestClient(t, dialer, tokens)

	err := c.Connect(context.Background(), "agent-1", "")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Connect error = %v, want ErrAuthFailed", err)
	}
	if got := c.State(); got != StateError {
		t.Fatalf("state = %v, want error", got)
	}
}

func TestAuthRejectionWithoutRefreshIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.queue(nil, ErrAuthRejected)
	c := newTestClient(t, dialer, staticTokens("tok"))

	err := c.Connect(context.Background(), "agent-1", "")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Connect error = %v, want ErrAuthFailed", err)
	}
}

func TestEventsForOtherSessionsAreDropped(t *testing.T) {
	tr := okTransport()
	dialer := &fakeDialer{}
	dialer.queue(tr, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	var mu sync.Mutex
	var events []domain.Event
	c.OnEvent(func(e domain.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	if err := c.Connect(context.Background(), "agent-1", "s1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr.emit(frame.Frame{EventType: "text_delta", Payload: `{"session_id":"s1","text":"mine"}`})
	tr.emit(frame.Frame{EventType: "text_delta", Payload: `{"session_id":"s2","text":"other"}`})
	tr.emit(frame.Frame{EventType: "done", Payload: `{"session_id":"s1","turn_count":1}`})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e.Type == domain.EventTypeDone {
				return true
			}
		}
		return false
	}, "done event")

	entries := c.Timeline().Snapshot()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Content != "mine" {
		t.Fatalf("content = %q, want %q", entries[0].Content, "mine")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, e := range events {
		if e.SessionID == "s2" {
			t.Fatalf("event for foreign session leaked: %+v", e)
		}
	}
}

func TestSessionBindsFromFirstSessionIDEvent(t *testing.T) {
	tr := okTransport()
	dialer := &fakeDialer{}
	dialer.queue(tr, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr.emit(frame.Frame{EventType: "session_id", Payload: `{"session_id":"s-new"}`})
	tr.emit(frame.Frame{EventType: "text_delta", Payload: `{"session_id":"s-other","text":"noise"}`})
	tr.emit(frame.Frame{EventType: "text_delta", Payload: `{"session_id":"s-new","text":"bound"}`})
	tr.emit(frame.Frame{EventType: "done", Payload: `{"session_id":"s-new","turn_count":1}`})

	waitFor(t, func() bool { return c.Timeline().TurnCount() == 1 }, "turn to finish")

	entries := c.Timeline().Snapshot()
	if len(entries) != 1 || entries[0].Content != "bound" {
		t.Fatalf("entries = %+v, want single entry %q", entries, "bound")
	}
}

func TestQueuedCommandsReplayInOrderAfterConnect(t *testing.T) {
	tr := okTransport()
	dialer := &fakeDialer{}
	dialer.queue(tr, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.SendMessage("first"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := c.SendMessage("second"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return len(tr.sentMessages()) == 2 }, "queued commands to flush")

	sent := tr.sentMessages()
	m0, ok0 := sent[0].(protocol.UserMessage)
	m1, ok1 := sent[1].(protocol.UserMessage)
	if !ok0 || !ok1 || m0.Content != "first" || m1.Content != "second" {
		t.Fatalf("sent = %+v, want first then second", sent)
	}
}

func TestInterruptJumpsQueue(t *testing.T) {
	tr := okTransport()
	dialer := &fakeDialer{}
	dialer.queue(tr, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	c.SendMessage("queued")
	c.Interrupt()

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return len(tr.sentMessages()) == 2 }, "commands to flush")

	sent := tr.sentMessages()
	if _, ok := sent[0].(protocol.InterruptMessage); !ok {
		t.Fatalf("first sent = %T, want InterruptMessage", sent[0])
	}
	if m, ok := sent[1].(protocol.UserMessage); !ok || m.Content != "queued" {
		t.Fatalf("second sent = %+v, want queued message", sent[1])
	}
}

func TestFailedSendReplaysExactlyOnceAfterReconnect(t *testing.T) {
	t1 := okTransport()
	t1.setSendErr(errors.New("broken pipe"))
	t2 := okTransport()

	dialer := &fakeDialer{}
	dialer.queue(t1, nil)
	dialer.queue(t2, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.SendMessage("survives")
	waitFor(t, func() bool { return c.queue.Len() == 1 }, "failed send to re-queue")

	t1.Close()

	waitFor(t, func() bool { return len(t2.sentMessages()) == 1 }, "replay on new transport")

	if got := len(t1.sentMessages()); got != 0 {
		t.Fatalf("old transport sends = %d, want 0", got)
	}
	sent := t2.sentMessages()
	if m, ok := sent[0].(protocol.UserMessage); !ok || m.Content != "survives" {
		t.Fatalf("replayed = %+v, want the queued message", sent[0])
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected after reconnect", got)
	}
}

func TestDropAbortsPartialEntryAndReconnects(t *testing.T) {
	t1 := okTransport()
	t2 := okTransport()

	dialer := &fakeDialer{}
	dialer.queue(t1, nil)
	dialer.queue(t2, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", "s1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	t1.emit(frame.Frame{EventType: "text_delta", Payload: `{"session_id":"s1","text":"partial"}`})
	waitFor(t, func() bool {
		es := c.Timeline().Snapshot()
		return len(es) == 1 && es[0].Content == "partial"
	}, "partial text")

	t1.Close()

	waitFor(t, func() bool { return c.State() == StateConnected && len(dialer.dialParams()) == 2 }, "reconnect")

	entries := c.Timeline().Snapshot()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].IsStreaming {
		t.Fatal("aborted entry still streaming")
	}
	if entries[0].Content != "partial" {
		t.Fatalf("content = %q, want partial text preserved", entries[0].Content)
	}

	if got := dialer.dialParams()[1]; got.AgentID != "agent-1" || got.SessionID != "s1" {
		t.Fatalf("reconnect dialed %+v, want same agent and session", got)
	}
}

func TestReconnectGivesUpIntoErrorState(t *testing.T) {
	t1 := okTransport()
	dialer := &fakeDialer{}
	dialer.queue(t1, nil)
	// No further results: every reconnect attempt fails.
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var mu sync.Mutex
	var errs []error
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	t1.Close()

	waitFor(t, func() bool { return c.State() == StateError }, "give-up into error state")

	// Initial connect plus three failed reconnect attempts.
	if got := len(dialer.dialParams()); got != 4 {
		t.Fatalf("dial count = %d, want 4", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		t.Fatal("no errors reported to observers")
	}
}

func TestReconnectHoldsConnectingAcrossFailedAttempts(t *testing.T) {
	t1 := okTransport()
	t2 := okTransport()

	dialer := &fakeDialer{}
	dialer.queue(t1, nil)
	dialer.queue(nil, errors.New("dial refused"))
	dialer.queue(t2, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var mu sync.Mutex
	var seen []State
	c.OnStatusChange(func(_, s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	t1.Close()

	waitFor(t, func() bool {
		return c.State() == StateConnected && len(dialer.dialParams()) == 3
	}, "reconnect through a failed attempt")

	// One reconnect cycle is a single outage: observers should see the
	// client stay in connecting between attempts, not bounce through
	// disconnected.
	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		if s == StateDisconnected {
			t.Fatalf("transitions %v include disconnected during a reconnect cycle", seen)
		}
	}
}

func TestNewConversationDiscardsQueueAndTimeline(t *testing.T) {
	tr := okTransport()
	dialer := &fakeDialer{}
	dialer.queue(tr, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	c.SendMessage("stale")
	c.NewConversation()

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(tr.sentMessages()); got != 0 {
		t.Fatalf("sent = %d commands, want 0 after discard", got)
	}
	if got := len(c.Timeline().Snapshot()); got != 0 {
		t.Fatalf("timeline entries = %d, want 0 after reset", got)
	}
}

func TestCircuitBreakerBlocksConnectAfterRepeatedFailures(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, staticTokens("tok"))

	for i := 0; i < 3; i++ {
		if err := c.Connect(context.Background(), "agent-1", ""); err == nil {
			t.Fatalf("Connect %d succeeded, want failure", i)
		}
	}

	err := c.Connect(context.Background(), "agent-1", "")
	if !errors.Is(err, ErrConnectCooldown) {
		t.Fatalf("Connect error = %v, want ErrConnectCooldown", err)
	}
}

func TestForceReconnectBypassesCooldown(t *testing.T) {
	t1 := okTransport()
	dialer := &fakeDialer{}
	dialer.queue(t1, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Trip the breaker out-of-band.
	for i := 0; i < 3; i++ {
		c.breaker.fail()
	}

	t2 := okTransport()
	dialer.queue(t2, nil)
	if err := c.ForceReconnect(context.Background()); err != nil {
		t.Fatalf("ForceReconnect: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
}

func TestDisconnectPreventsReconnect(t *testing.T) {
	t1 := okTransport()
	dialer := &fakeDialer{}
	dialer.queue(t1, nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Disconnect()
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(dialer.dialParams()); got != 1 {
		t.Fatalf("dial count = %d, want 1 (no reconnect after Disconnect)", got)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.queue(okTransport(), nil)
	c := newTestClient(t, dialer, staticTokens("tok"))

	if err := c.Connect(context.Background(), "agent-1", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := c.Connect(context.Background(), "agent-1", ""); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("Connect after Close = %v, want ErrClientClosed", err)
	}
	if err := c.SendMessage("x"); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("SendMessage after Close = %v, want ErrClientClosed", err)
	}
}

func TestUserMessageAppearsOnTimelineImmediately(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, staticTokens("tok"))

	c.SendMessage("hello")
	entries := c.Timeline().Snapshot()
	if len(entries) != 1 || entries[0].Kind != timeline.EntryUser || entries[0].Content != "hello" {
		t.Fatalf("entries = %+v, want one user entry", entries)
	}
}

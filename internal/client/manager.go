package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ember-chat/ember/internal/auth"
	"github.com/ember-chat/ember/internal/domain"
	"github.com/ember-chat/ember/internal/protocol"
	"github.com/ember-chat/ember/internal/timeline"
)

const (
	defaultBackoffBase     = 3 * time.Second
	defaultMaxReconnects   = 5
	defaultCircuitFailures = 5
	defaultCircuitCooldown = 30 * time.Second
	defaultAuthTimeout     = 10 * time.Second
)

// Config tunes a Client. Zero values select the defaults above.
type Config struct {
	BaseURL   string
	Transport TransportKind

	// BackoffBase scales reconnect delays: attempt n sleeps n*BackoffBase.
	BackoffBase          time.Duration
	MaxReconnectAttempts int

	// CircuitThreshold consecutive connect failures trip a cooldown of
	// CircuitCooldown during which Connect is refused.
	CircuitThreshold int
	CircuitCooldown  time.Duration

	// AuthTimeout bounds the wait for the server's auth acknowledgement.
	AuthTimeout time.Duration

	// Dialer overrides the transport dialer. Tests inject fakes here.
	Dialer Dialer

	Logger *log.Logger
}

func (cfg *Config) applyDefaults() {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnects
	}
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = defaultCircuitFailures
	}
	if cfg.CircuitCooldown <= 0 {
		cfg.CircuitCooldown = defaultCircuitCooldown
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
}

// Client owns one logical agent connection: the transport, its lifecycle
// state, the conversation timeline, and the outbound command queue. All
// exported methods are safe for concurrent use.
type Client struct {
	cfg    Config
	dialer Dialer
	tokens *auth.TokenSource
	logger *log.Logger

	assembler *timeline.Assembler
	queue     *commandQueue
	subs      subscribers
	breaker   *breaker

	// connectMu serializes teardown+establish sequences so a user Connect
	// cannot interleave with an in-flight reconnect attempt.
	connectMu sync.Mutex

	mu           sync.Mutex
	state        State
	agentID      string
	boundSession string
	transport    Transport

	// gen invalidates receive and reconnect loops from superseded
	// connections. Bumped on every teardown and every successful establish.
	gen int

	closed   bool
	closedCh chan struct{}
}

// New builds a Client. It does not connect; call Connect.
func New(cfg Config, tokens *auth.TokenSource) (*Client, error) {
	cfg.applyDefaults()

	dialer := cfg.Dialer
	if dialer == nil {
		d, err := defaultDialer(cfg.Transport)
		if err != nil {
			return nil, err
		}
		dialer = d
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		cfg:       cfg,
		dialer:    dialer,
		tokens:    tokens,
		logger:    logger,
		assembler: timeline.NewAssembler(),
		queue:     newCommandQueue(),
		breaker:   newBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		state:     StateDisconnected,
		closedCh:  make(chan struct{}),
	}
	go c.senderLoop()
	return c, nil
}

// Timeline exposes the conversation assembler for snapshots and update
// subscriptions.
func (c *Client) Timeline() *timeline.Assembler { return c.assembler }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStatusChange registers a state-transition observer. The returned func
// unsubscribes.
func (c *Client) OnStatusChange(h StatusHandler) func() { return c.subs.status.add(h) }

// OnEvent registers an observer for every decoded, session-filtered event.
func (c *Client) OnEvent(h EventHandler) func() { return c.subs.events.add(h) }

// OnError registers an observer for connection and protocol errors.
func (c *Client) OnError(h ErrorHandler) func() { return c.subs.errs.add(h) }

// Connect opens a connection to the given agent, optionally resuming a
// session. Connecting to the agent and session already connected is a no-op;
// anything else tears the old connection down first.
func (c *Client) Connect(ctx context.Context, agentID, sessionID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == StateConnected && c.agentID == agentID &&
		(sessionID == "" || c.boundSession == sessionID) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if d := c.breaker.wait(); d > 0 {
		return fmt.Errorf("%w: retry in %s", ErrConnectCooldown, d.Round(time.Second))
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.teardown()
	err := c.establish(ctx, agentID, sessionID)
	if err != nil {
		c.breaker.fail()
		if !errors.Is(err, ErrAuthFailed) {
			c.setState(StateDisconnected)
		}
	}
	return err
}

// ForceReconnect tears down and reconnects immediately, bypassing backoff
// and the failure cooldown.
func (c *Client) ForceReconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	agentID, sessionID := c.agentID, c.boundSession
	c.mu.Unlock()

	if agentID == "" {
		return ErrNotConnected
	}

	c.breaker.reset()

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.teardown()
	err := c.establish(ctx, agentID, sessionID)
	if err != nil && !errors.Is(err, ErrAuthFailed) {
		c.setState(StateDisconnected)
	}
	return err
}

// Disconnect closes the connection without scheduling a reconnect.
func (c *Client) Disconnect() {
	c.teardown()
	c.setState(StateDisconnected)
}

// Close shuts the client down permanently. The timeline stream is closed and
// all further operations return ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closedCh)
	c.mu.Unlock()

	c.teardown()
	c.setState(StateDisconnected)
	c.assembler.Close()
	return nil
}

// SendMessage queues a chat message for delivery and records it on the
// timeline immediately. Delivery happens asynchronously; while disconnected
// the message waits for the next successful (re)connect.
func (c *Client) SendMessage(content string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	session := c.boundSession
	c.mu.Unlock()

	c.assembler.AddUserMessage(content)
	c.queue.Push(command{kind: cmdMessage, payload: protocol.NewUserMessage(content, session)})
	return nil
}

// SendAnswer queues the answers to an ask_user_question event. Answers must
// be ordered to match the questions.
func (c *Client) SendAnswer(questionID string, answers []string) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.queue.Push(command{kind: cmdAnswer, payload: protocol.NewUserAnswerMessage(questionID, answers)})
	return nil
}

// SendPlanApproval queues the response to a plan_approval event.
func (c *Client) SendPlanApproval(planID string, approved bool, feedback string) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.queue.Push(command{kind: cmdPlanResponse, payload: protocol.NewPlanApprovalResponse(planID, approved, feedback)})
	return nil
}

// Interrupt aborts the in-flight agent turn. The local streaming entry is
// closed at whatever text has arrived, and the interrupt jumps ahead of any
// queued commands.
func (c *Client) Interrupt() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	session := c.boundSession
	c.mu.Unlock()

	c.assembler.Abort()
	c.queue.Push(command{kind: cmdInterrupt, payload: protocol.NewInterruptMessage(session)})
	return nil
}

// NewConversation discards queued commands, resets the timeline, and unbinds
// the session. The next message starts a fresh session on the server.
func (c *Client) NewConversation() {
	c.queue.Discard()
	c.assembler.Reset()

	c.mu.Lock()
	c.boundSession = ""
	c.mu.Unlock()
}

// establish performs one full connect: dial, authenticate, and wait for the
// server's acknowledgement. A credential rejection is retried exactly once
// after a token refresh; a second rejection is terminal.
func (c *Client) establish(ctx context.Context, agentID, sessionID string) error {
	c.setState(StateConnecting)

	if c.tokens != nil && c.tokens.NeedsRefresh() {
		if _, err := c.tokens.Refresh(ctx); err != nil {
			c.logf("proactive token refresh failed: %v", err)
		}
	}

	tr, buffered, err := c.dialAndAuth(ctx, agentID, sessionID, c.token())
	if errors.Is(err, ErrAuthRejected) {
		if c.tokens == nil {
			c.setState(StateError)
			return fmt.Errorf("%w: no token source", ErrAuthFailed)
		}
		c.tokens.Invalidate()
		token, rerr := c.tokens.Refresh(ctx)
		if rerr != nil {
			c.setState(StateError)
			return fmt.Errorf("%w: %v", ErrAuthFailed, rerr)
		}
		tr, buffered, err = c.dialAndAuth(ctx, agentID, sessionID, token)
		if errors.Is(err, ErrAuthRejected) {
			c.setState(StateError)
			return fmt.Errorf("%w: rejected again after refresh", ErrAuthFailed)
		}
	}
	if err != nil {
		// The caller decides the failure state: Connect drops back to
		// disconnected, the reconnect loop stays in connecting between
		// attempts.
		return err
	}

	c.mu.Lock()
	c.transport = tr
	c.agentID = agentID
	c.boundSession = sessionID
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.breaker.reset()
	c.setState(StateConnected)

	for _, e := range buffered {
		c.handleEvent(e)
	}
	go c.recvLoop(gen, tr)
	return nil
}

// dialAndAuth runs one dial + handshake attempt. It returns any events that
// arrived before the auth acknowledgement so the caller can replay them.
func (c *Client) dialAndAuth(ctx context.Context, agentID, sessionID, token string) (Transport, []domain.Event, error) {
	tr, err := c.dialer.Dial(ctx, DialParams{
		BaseURL:         c.cfg.BaseURL,
		AgentID:         agentID,
		SessionID:       sessionID,
		Token:           token,
		OnProtocolError: c.onProtocolError,
	})
	if err != nil {
		return nil, nil, err
	}

	c.setState(StateAuthenticating)

	authCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	// Both transports block inside reads that do not watch the context, so
	// the deadline has to unblock them by closing the transport. A server
	// that accepts the connection and then goes silent must not hang Connect.
	handshakeDone := make(chan struct{})
	defer close(handshakeDone)
	go func() {
		select {
		case <-authCtx.Done():
			tr.Close()
		case <-handshakeDone:
		}
	}()

	if err := tr.Authenticate(authCtx, token); err != nil {
		tr.Close()
		return nil, nil, fmt.Errorf("send auth: %w", err)
	}

	buffered, err := c.awaitAuthAck(authCtx, tr)
	if err != nil {
		tr.Close()
		return nil, nil, err
	}
	return tr, buffered, nil
}

// awaitAuthAck consumes frames until the server acknowledges the handshake.
// An error event with a credential code maps to ErrAuthRejected; any other
// error event fails the handshake outright.
func (c *Client) awaitAuthAck(ctx context.Context, tr Transport) ([]domain.Event, error) {
	var buffered []domain.Event
	for {
		frames, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for auth acknowledgement: %w", ctx.Err())
			}
			return nil, fmt.Errorf("handshake: %w", err)
		}

		for i, f := range frames {
			e, derr := protocol.DecodeEvent(f)
			if derr != nil {
				c.onProtocolError(derr, f.Payload)
				continue
			}

			switch e.Type {
			case domain.EventTypeAuthenticated, domain.EventTypeReady:
				buffered = append(buffered, e)
				for _, rest := range frames[i+1:] {
					re, rerr := protocol.DecodeEvent(rest)
					if rerr != nil {
						c.onProtocolError(rerr, rest.Payload)
						continue
					}
					buffered = append(buffered, re)
				}
				return buffered, nil

			case domain.EventTypeError:
				d, _ := e.Error()
				if d.Code.IsAuthCode() {
					return nil, fmt.Errorf("%w: %s (%s)", ErrAuthRejected, d.Message, d.Code)
				}
				return nil, fmt.Errorf("handshake refused: %s (%s)", d.Message, d.Code)

			default:
				buffered = append(buffered, e)
			}
		}
	}
}

// recvLoop pumps frames from one transport until it drops or is superseded.
func (c *Client) recvLoop(gen int, tr Transport) {
	ctx := context.Background()
	for {
		frames, err := tr.Receive(ctx)
		if err != nil {
			if c.isClosed() || c.isStale(gen) {
				return
			}
			c.handleDrop(gen, err)
			return
		}
		if c.isStale(gen) {
			return
		}

		for _, f := range frames {
			e, derr := protocol.DecodeEvent(f)
			if derr != nil {
				c.onProtocolError(derr, f.Payload)
				continue
			}
			c.handleEvent(e)
		}
	}
}

// handleEvent applies one decoded event: session filtering, session binding,
// timeline assembly, and observer notification.
func (c *Client) handleEvent(e domain.Event) {
	c.mu.Lock()
	bound := c.boundSession
	if bound != "" && e.SessionID != "" && e.SessionID != bound {
		c.mu.Unlock()
		c.logf("dropping event %s for foreign session %s", e.Type, e.SessionID)
		return
	}
	if bound == "" && e.SessionID != "" {
		switch e.Type {
		case domain.EventTypeSessionID, domain.EventTypeReady:
			c.boundSession = e.SessionID
		}
	}
	c.mu.Unlock()

	c.assembler.Apply(e)
	c.subs.notifyEvent(e)
}

// handleDrop reacts to an unexpected transport failure: close out the
// partial entry, tell observers, and start the reconnect loop. A mid-stream
// credential error lands here too, via the server closing the stream; the
// reconnect handshake then takes the refresh-once path.
func (c *Client) handleDrop(gen int, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	agentID, sessionID := c.agentID, c.boundSession
	c.mu.Unlock()

	c.assembler.Abort()
	c.subs.notifyError(fmt.Errorf("connection lost: %w", cause))
	c.setState(StateConnecting)
	go c.reconnectLoop(gen, agentID, sessionID)
}

// reconnectLoop retries establish with linear backoff (n*BackoffBase) up to
// MaxReconnectAttempts, then gives up into StateError. It aborts silently
// when a newer connection supersedes it.
func (c *Client) reconnectLoop(gen int, agentID, sessionID string) {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		delay := time.Duration(attempt) * c.cfg.BackoffBase

		select {
		case <-c.closedCh:
			return
		case <-time.After(delay):
		}
		if c.isStale(gen) {
			return
		}

		c.logf("reconnect attempt %d/%d to agent %s", attempt, c.cfg.MaxReconnectAttempts, agentID)

		c.connectMu.Lock()
		if c.isStale(gen) {
			c.connectMu.Unlock()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AuthTimeout+defaultAuthTimeout)
		err := c.establish(ctx, agentID, sessionID)
		cancel()
		c.connectMu.Unlock()

		if err == nil {
			return
		}
		if errors.Is(err, ErrAuthFailed) {
			c.subs.notifyError(err)
			return
		}
		c.breaker.fail()
		c.setState(StateConnecting)
		c.subs.notifyError(fmt.Errorf("reconnect attempt %d failed: %w", attempt, err))
	}

	c.setState(StateError)
	c.subs.notifyError(fmt.Errorf("gave up reconnecting after %d attempts", c.cfg.MaxReconnectAttempts))
}

// senderLoop drains the command queue whenever a connection is up. A failed
// send puts the command back at the front so the next connection replays it.
func (c *Client) senderLoop() {
	for {
		select {
		case <-c.closedCh:
			return
		case <-c.queue.signal:
		}
		c.drainQueue()
	}
}

func (c *Client) drainQueue() {
	for {
		c.mu.Lock()
		tr := c.transport
		connected := c.state == StateConnected
		c.mu.Unlock()

		if !connected || tr == nil {
			return
		}

		cmd, ok := c.queue.Pop()
		if !ok {
			return
		}
		if err := tr.Send(cmd.payload); err != nil {
			c.queue.PushFront(cmd)
			c.logf("send failed, command re-queued: %v", err)
			return
		}
	}
}

// teardown closes the current transport and invalidates its loops.
func (c *Client) teardown() {
	c.mu.Lock()
	c.gen++
	tr := c.transport
	c.transport = nil
	c.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	old := c.state
	if old == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.subs.notifyStatus(old, s)
	if s == StateConnected {
		c.queue.wake()
	}
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) onProtocolError(err error, raw string) {
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	c.logf("malformed frame skipped: %v (%q)", err, raw)
	c.subs.notifyError(fmt.Errorf("protocol: %w", err))
}

func (c *Client) isStale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) logf(format string, args ...any) {
	c.logger.Printf("[client] "+format, args...)
}

package client

import "errors"

var (
	// ErrNotConnected is returned by operations that require an open,
	// authenticated transport.
	ErrNotConnected = errors.New("client not connected")

	// ErrAuthRejected marks a credential rejection from the server. It is
	// recoverable exactly once, via token refresh.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrAuthFailed is terminal for the session: the refresh-and-retry
	// round trip was spent and the server still refused the token.
	ErrAuthFailed = errors.New("authentication failed after token refresh")

	// ErrConnectCooldown is returned while the circuit breaker is holding
	// connects back after repeated failures.
	ErrConnectCooldown = errors.New("connect blocked by failure cooldown")

	// ErrClientClosed is returned once Close has been called.
	ErrClientClosed = errors.New("client closed")
)

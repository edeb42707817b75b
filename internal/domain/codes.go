package domain

// ErrorCode is the machine-readable code attached to server error events.
type ErrorCode string

const (
	CodeTokenExpired    ErrorCode = "TOKEN_EXPIRED"
	CodeTokenInvalid    ErrorCode = "TOKEN_INVALID"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	CodeUnknown         ErrorCode = "UNKNOWN"
)

// IsAuthCode reports whether the code indicates a credential problem that a
// token refresh might fix.
func (c ErrorCode) IsAuthCode() bool {
	return c == CodeTokenExpired || c == CodeTokenInvalid
}

// Normalize maps unrecognised codes to CodeUnknown so downstream switches
// stay exhaustive.
func Normalize(code string) ErrorCode {
	switch ErrorCode(code) {
	case CodeTokenExpired, CodeTokenInvalid, CodeSessionNotFound, CodeRateLimited, CodeAgentNotFound:
		return ErrorCode(code)
	default:
		return CodeUnknown
	}
}

package websocket

import (
	"errors"
	"fmt"

	"discussionhub/pkg/types"
)

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write queue timeout")
)

// Registry errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
)

// Handler errors
var (
	ErrRateLimited       = errors.New("message rate limit exceeded")
	ErrUnknownEvent      = fmt.Errorf("%w: unknown event", types.ErrValidation)
	ErrMalformedData     = fmt.Errorf("%w: malformed event payload", types.ErrValidation)
	ErrSessionIDRequired = fmt.Errorf("%w: sessionId is required", types.ErrValidation)
)

// Error codes reported to clients in error events.
const (
	CodeSessionNotFound   = "session_not_found"
	CodeSessionClosed     = "session_closed"
	CodeInvalidTransition = "invalid_transition"
	CodeValidationFailed  = "validation_failed"
	CodePersistenceFailed = "persistence_failed"
	CodeRateLimited       = "rate_limited"
)

// errorCode maps an error to the code sent to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, types.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, types.ErrSessionClosed):
		return CodeSessionClosed
	case errors.Is(err, types.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, types.ErrValidation):
		return CodeValidationFailed
	default:
		return CodePersistenceFailed
	}
}

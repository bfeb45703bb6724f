package types

import "errors"

// Error taxonomy shared by every layer. Components wrap these with
// fmt.Errorf("...: %w") and callers match with errors.Is.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session is closed")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrPersistence       = errors.New("persistence failure")
	ErrValidation        = errors.New("validation failed")
)

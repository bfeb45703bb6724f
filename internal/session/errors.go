package session

import (
	"errors"
	"fmt"

	"discussionhub/pkg/types"
)

var (
	ErrAnalysisRequired = fmt.Errorf("%w: analysis is required", types.ErrValidation)
	ErrHandleRequired   = fmt.Errorf("%w: participant handle is required", types.ErrValidation)
	ErrRoomIDExhausted  = errors.New("could not allocate a unique room id")
)

func invalidTransition(sessionID string, from, to types.SessionStatus) error {
	return fmt.Errorf("%w: session %s cannot move from %s to %s", types.ErrInvalidTransition, sessionID, from, to)
}

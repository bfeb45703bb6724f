package bus

import (
	"errors"
	"fmt"

	"discussionhub/pkg/types"
)

var (
	ErrBusAlreadyRunning = errors.New("message bus is already running")
	ErrBusNotRunning     = errors.New("message bus is not running")

	// ErrRoomClosed is returned for operations on a torn-down room. It
	// matches types.ErrSessionClosed.
	ErrRoomClosed = fmt.Errorf("room is closed: %w", types.ErrSessionClosed)
)

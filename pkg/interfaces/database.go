//go:generate go run go.uber.org/mock/mockgen -source=database.go -destination=../../internal/mocks/mock_database.go -package=mocks

package interfaces

import (
	"context"

	"discussionhub/pkg/types"
)

// TranscriptStore is the durable append-only message log, one per session.
type TranscriptStore interface {
	// AppendMessage persists msg and returns the stored record with its
	// store-assigned ID and Timestamp. Fails with types.ErrSessionNotFound
	// when msg.SessionID references no session.
	AppendMessage(ctx context.Context, msg *types.Message) (*types.Message, error)

	// ListBySession returns the session's messages in append order.
	ListBySession(ctx context.Context, sessionID string) ([]*types.Message, error)
}

// SessionStore holds durable session records.
type SessionStore interface {
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	GetSessionByRoom(ctx context.Context, roomID string) (*types.Session, error)
	ListSessions(ctx context.Context) ([]*types.Session, error)

	// UpdateStatus moves a session from one status to another only if its
	// current status is still from. Returns ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, sessionID string, from, to types.SessionStatus) error

	// AttachAnalysis atomically moves an in_progress session to completed
	// and stores its analysis.
	AttachAnalysis(ctx context.Context, sessionID string, analysis *types.SessionAnalysis) error
}

// Store is the full persistence surface implemented by the SQLite manager.
type Store interface {
	TranscriptStore
	SessionStore
	HealthCheck(ctx context.Context) error
	Close() error
}

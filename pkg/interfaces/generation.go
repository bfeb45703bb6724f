//go:generate go run go.uber.org/mock/mockgen -source=generation.go -destination=../../internal/mocks/mock_generation.go -package=mocks

package interfaces

import (
	"context"

	"discussionhub/pkg/types"
)

// ResponseGenerator produces one AI utterance for a turn. Implementations
// must fall back to the participant register for unknown roles.
type ResponseGenerator interface {
	Generate(ctx context.Context, role types.AIRole, prompt string, transcript []*types.Message) (types.Utterance, error)
}

// AnalysisEngine produces the post-session report. Implementations must
// return exactly one ParticipantAnalysis per roster entry with every score
// in [0,100] and a non-negative speaking time.
type AnalysisEngine interface {
	Analyze(ctx context.Context, transcript []*types.Message, roster []types.RosterEntry) (*types.SessionAnalysis, error)
}

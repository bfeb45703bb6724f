package ai

import (
	"context"
	"fmt"
	"log/slog"

	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

// contextWindow is how many recent transcript entries a generator sees.
const contextWindow = 10

// RoomPublisher is the part of the session registry a turn needs.
type RoomPublisher interface {
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	Transcript(ctx context.Context, sessionID string) ([]*types.Message, error)
	Publish(ctx context.Context, sessionID string, msg *types.Message) (*types.Message, error)
}

// TurnService generates a turn for one of a session's AI participants and
// publishes it like any other message.
type TurnService struct {
	rooms     RoomPublisher
	generator interfaces.ResponseGenerator
	logger    *slog.Logger
}

// NewTurnService creates a TurnService.
func NewTurnService(rooms RoomPublisher, generator interfaces.ResponseGenerator, logger *slog.Logger) *TurnService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnService{
		rooms:     rooms,
		generator: generator,
		logger:    logger.With("component", "turns"),
	}
}

// Take generates and publishes one turn for aiParticipantID.
func (s *TurnService) Take(ctx context.Context, sessionID, aiParticipantID, prompt string) (*types.Message, error) {
	session, err := s.rooms.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	participant, ok := session.FindAI(aiParticipantID)
	if !ok {
		return nil, fmt.Errorf("%w: session %s has no AI participant %q", types.ErrValidation, sessionID, aiParticipantID)
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: session %s is %s", types.ErrSessionClosed, sessionID, session.Status)
	}

	transcript, err := s.rooms.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(transcript) > contextWindow {
		transcript = transcript[len(transcript)-contextWindow:]
	}

	utterance, err := s.generator.Generate(ctx, participant.Role, prompt, transcript)
	if err != nil {
		return nil, fmt.Errorf("generate turn: %w", err)
	}

	published, err := s.rooms.Publish(ctx, sessionID, &types.Message{
		SenderID:   participant.ID,
		SenderName: participant.Name,
		SenderType: types.SenderAI,
		Content:    utterance.Content,
		Kind:       types.KindText,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ai turn published", "session", sessionID, "participant", participant.ID, "role", utterance.Role)
	return published, nil
}

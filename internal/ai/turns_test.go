package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"discussionhub/internal/mocks"
	"discussionhub/pkg/types"
)

type fakeRooms struct {
	session    *types.Session
	transcript []*types.Message
	published  []*types.Message
	publishErr error
}

func (f *fakeRooms) GetSession(_ context.Context, id string) (*types.Session, error) {
	if f.session == nil || f.session.ID != id {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	return f.session, nil
}

func (f *fakeRooms) Transcript(context.Context, string) ([]*types.Message, error) {
	return f.transcript, nil
}

func (f *fakeRooms) Publish(_ context.Context, sessionID string, msg *types.Message) (*types.Message, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	stored := *msg
	stored.ID = fmt.Sprintf("msg-%d", len(f.published)+1)
	stored.SessionID = sessionID
	f.published = append(f.published, &stored)
	return &stored, nil
}

func newFakeRooms(status types.SessionStatus, history int) *fakeRooms {
	rooms := &fakeRooms{session: &types.Session{
		ID:     "s1",
		Status: status,
		Participants: types.Participants{
			Real: []string{"user_a"},
			AI:   []types.AIParticipant{{ID: "ai-mod", Name: "Morgan", Role: types.RoleModerator}},
		},
	}}
	for i := range history {
		rooms.transcript = append(rooms.transcript, &types.Message{ID: fmt.Sprintf("h%d", i), Content: "hi"})
	}
	return rooms
}

func TestTurnService_PublishesGeneratedTurn(t *testing.T) {
	ctrl := gomock.NewController(t)
	generator := mocks.NewMockResponseGenerator(ctrl)
	rooms := newFakeRooms(types.StatusInProgress, 15)

	generator.EXPECT().
		Generate(gomock.Any(), types.RoleModerator, "keep it moving", gomock.Len(contextWindow)).
		DoAndReturn(func(_ context.Context, role types.AIRole, _ string, transcript []*types.Message) (types.Utterance, error) {
			assert.Equal(t, "h5", transcript[0].ID)
			return types.Utterance{Role: role, Content: "What do others think?"}, nil
		})

	msg, err := NewTurnService(rooms, generator, nil).Take(context.Background(), "s1", "ai-mod", "keep it moving")
	require.NoError(t, err)

	assert.Equal(t, "ai-mod", msg.SenderID)
	assert.Equal(t, "Morgan", msg.SenderName)
	assert.Equal(t, types.SenderAI, msg.SenderType)
	assert.Equal(t, types.KindText, msg.Kind)
	assert.Equal(t, "What do others think?", msg.Content)
	assert.Len(t, rooms.published, 1)
}

func TestTurnService_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		status  types.SessionStatus
		session string
		ai      string
		wantErr error
	}{
		{name: "unknown session", status: types.StatusInProgress, session: "missing", ai: "ai-mod", wantErr: types.ErrSessionNotFound},
		{name: "unknown participant", status: types.StatusInProgress, session: "s1", ai: "ai-x", wantErr: types.ErrValidation},
		{name: "completed session", status: types.StatusCompleted, session: "s1", ai: "ai-mod", wantErr: types.ErrSessionClosed},
		{name: "cancelled session", status: types.StatusCancelled, session: "s1", ai: "ai-mod", wantErr: types.ErrSessionClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			generator := mocks.NewMockResponseGenerator(ctrl)
			rooms := newFakeRooms(tt.status, 0)

			_, err := NewTurnService(rooms, generator, nil).Take(context.Background(), tt.session, tt.ai, "")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, rooms.published)
		})
	}
}

func TestTurnService_GeneratorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	generator := mocks.NewMockResponseGenerator(ctrl)
	rooms := newFakeRooms(types.StatusScheduled, 0)
	boom := errors.New("model offline")

	generator.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(types.Utterance{}, boom)

	_, err := NewTurnService(rooms, generator, nil).Take(context.Background(), "s1", "ai-mod", "")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rooms.published)
}

func TestTurnService_WithPhraseGenerator(t *testing.T) {
	rooms := newFakeRooms(types.StatusInProgress, 2)

	msg, err := NewTurnService(rooms, NewPhraseGenerator(), nil).Take(context.Background(), "s1", "ai-mod", "")
	require.NoError(t, err)
	assert.Contains(t, rolePhrases[types.RoleModerator], msg.Content)
}

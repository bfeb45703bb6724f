package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSession() *Session {
	return &Session{
		Title:           "Mock panel",
		Type:            SessionTypeGroupDiscussion,
		ScheduledTime:   time.Now().Add(time.Hour),
		DurationMinutes: 30,
		CreatedBy:       "user_1",
		Participants: Participants{
			Real: []string{"user_1", "user_2"},
			AI: []AIParticipant{
				{ID: "ai-1", Name: "Morgan", Role: RoleModerator, Personality: "calm"},
			},
		},
	}
}

func TestCanTransition(t *testing.T) {
	all := []SessionStatus{StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled}
	allowed := map[[2]SessionStatus]bool{
		{StatusScheduled, StatusInProgress}: true,
		{StatusScheduled, StatusCancelled}:  true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]SessionStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusScheduled.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestSession_Validate(t *testing.T) {
	t.Run("valid session passes", func(t *testing.T) {
		require.NoError(t, validSession().Validate())
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		s := validSession()
		s.Type = "debate"
		require.ErrorIs(t, s.Validate(), ErrValidation)
	})

	t.Run("missing title is rejected", func(t *testing.T) {
		s := validSession()
		s.Title = ""
		require.ErrorIs(t, s.Validate(), ErrValidation)
	})

	t.Run("unknown AI role is rejected", func(t *testing.T) {
		s := validSession()
		s.Participants.AI[0].Role = "judge"
		require.ErrorIs(t, s.Validate(), ErrValidation)
	})

	t.Run("malformed real participant id is rejected", func(t *testing.T) {
		s := validSession()
		s.Participants.Real = append(s.Participants.Real, "bad id!")
		require.ErrorIs(t, s.Validate(), ErrValidation)
	})

	t.Run("zero duration is rejected", func(t *testing.T) {
		s := validSession()
		s.DurationMinutes = 0
		require.ErrorIs(t, s.Validate(), ErrValidation)
	})
}

func TestMessage_NormalizeAndValidate(t *testing.T) {
	msg := &Message{
		SessionID:  "s1",
		SenderID:   "user_1",
		SenderName: "Ada",
		SenderType: SenderUser,
		Content:    "  hello  ",
	}
	msg.Normalize()

	assert.Equal(t, KindText, msg.Kind)
	assert.Equal(t, "hello", msg.Content)
	require.NoError(t, msg.Validate())

	t.Run("blank content is rejected", func(t *testing.T) {
		m := *msg
		m.Content = "   "
		m.Normalize()
		require.ErrorIs(t, m.Validate(), ErrValidation)
	})

	t.Run("unknown sender type is rejected", func(t *testing.T) {
		m := *msg
		m.SenderType = "bot"
		require.ErrorIs(t, m.Validate(), ErrValidation)
	})

	t.Run("content over 64KB is rejected", func(t *testing.T) {
		m := *msg
		m.Content = strings.Repeat("a", 65537)
		require.ErrorIs(t, m.Validate(), ErrValidation)
	})
}

func TestSession_Roster(t *testing.T) {
	roster := validSession().Roster()

	require.Len(t, roster, 3)
	assert.Equal(t, RosterEntry{ID: "user_1", Name: "user_1", Kind: SenderUser}, roster[0])
	assert.Equal(t, "ai-1", roster[2].ID)
	assert.Equal(t, SenderAI, roster[2].Kind)
	assert.Equal(t, RoleModerator, roster[2].Role)
}

func TestIsValidParticipantID(t *testing.T) {
	assert.True(t, IsValidParticipantID("user_1"))
	assert.True(t, IsValidParticipantID("ai-moderator"))
	assert.False(t, IsValidParticipantID(""))
	assert.False(t, IsValidParticipantID("has space"))
	assert.False(t, IsValidParticipantID(strings.Repeat("x", 65)))
}

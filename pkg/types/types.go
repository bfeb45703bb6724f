package types

import (
	"time"
)

// SessionType is the kind of practice activity a session rehearses.
type SessionType string

const (
	SessionTypeGroupDiscussion SessionType = "group_discussion"
	SessionTypeInterview       SessionType = "interview"
)

// SessionStatus is a node of the session lifecycle graph.
type SessionStatus string

const (
	StatusScheduled  SessionStatus = "scheduled"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
)

// AIRole selects the behavioral register of an AI participant.
type AIRole string

const (
	RoleModerator   AIRole = "moderator"
	RoleParticipant AIRole = "participant"
	RoleInterviewer AIRole = "interviewer"
)

// SenderType distinguishes human and generated transcript entries.
type SenderType string

const (
	SenderUser SenderType = "user"
	SenderAI   SenderType = "ai"
)

// MessageKind is the payload kind of a transcript entry.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindAudioSignal MessageKind = "audio-signal"
)

// Session is the persisted record of one scheduled practice activity.
// Status only moves forward along the lifecycle graph and Analysis is
// set exactly once, on the in_progress -> completed transition.
type Session struct {
	ID              string           `json:"id"`
	Title           string           `json:"title" validate:"required,max=200"`
	Description     string           `json:"description,omitempty" validate:"max=2000"`
	Type            SessionType      `json:"type" validate:"required,oneof=group_discussion interview"`
	Status          SessionStatus    `json:"status"`
	RoomID          string           `json:"roomId"`
	ShareableLink   string           `json:"shareableLink,omitempty"`
	ScheduledTime   time.Time        `json:"scheduledTime" validate:"required"`
	DurationMinutes int              `json:"duration" validate:"gt=0,lte=480"`
	CreatedBy       string           `json:"createdBy" validate:"required,max=64"`
	Participants    Participants     `json:"participants"`
	Analysis        *SessionAnalysis `json:"analysis,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Participants lists the real users invited to a session and its AI roster.
type Participants struct {
	Real []string        `json:"real"`
	AI   []AIParticipant `json:"ai" validate:"dive"`
}

// AIParticipant describes a generated participant. Immutable once attached.
type AIParticipant struct {
	ID          string `json:"id" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=100"`
	Role        AIRole `json:"role" validate:"required,oneof=moderator participant interviewer"`
	Personality string `json:"personality" validate:"max=500"`
	Avatar      string `json:"avatar"`
}

// Message is one immutable transcript entry. ID and Timestamp are
// assigned by the transcript store on append.
type Message struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId" validate:"required"`
	SenderID   string      `json:"senderId" validate:"required,max=64"`
	SenderName string      `json:"senderName" validate:"required,max=100"`
	SenderType SenderType  `json:"senderType" validate:"required,oneof=user ai"`
	Content    string      `json:"content" validate:"required,max=65536"`
	Kind       MessageKind `json:"kind" validate:"oneof=text audio-signal"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SessionAnalysis is the post-session performance report.
type SessionAnalysis struct {
	OverallScore        int                   `json:"overallScore"`
	ParticipantAnalyses []ParticipantAnalysis `json:"participantAnalyses"`
	KeyInsights         []string              `json:"keyInsights"`
	Recommendations     []string              `json:"recommendations"`
	Duration            int                   `json:"duration"` // seconds
	CompletedAt         time.Time             `json:"completedAt"`
}

// ParticipantAnalysis scores one roster entry. Quality scores are in [0,100].
type ParticipantAnalysis struct {
	ParticipantID              string   `json:"participantId"`
	ParticipantName            string   `json:"participantName"`
	SpeakingTime               int      `json:"speakingTime"` // seconds
	ContributionQuality        int      `json:"contributionQuality"`
	CommunicationEffectiveness int      `json:"communicationEffectiveness"`
	KeyPoints                  []string `json:"keyPoints"`
	Improvements               []string `json:"improvements"`
}

// RosterEntry is one participant handed to the analysis engine.
type RosterEntry struct {
	ID   string     `json:"id" validate:"required"`
	Name string     `json:"name"`
	Kind SenderType `json:"kind,omitempty"`
	Role AIRole     `json:"role,omitempty"`
}

// Utterance is one generated AI turn.
type Utterance struct {
	Role    AIRole `json:"role"`
	Content string `json:"content"`
}

// IsTerminal reports whether no further transition can leave the status.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition encodes the lifecycle graph:
// scheduled -> in_progress -> {completed | cancelled}, scheduled -> cancelled.
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case StatusScheduled:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// Roster returns the session's participants as analysis roster entries,
// real users first and AI participants in their attached order.
func (s *Session) Roster() []RosterEntry {
	roster := make([]RosterEntry, 0, len(s.Participants.Real)+len(s.Participants.AI))
	for _, userID := range s.Participants.Real {
		roster = append(roster, RosterEntry{ID: userID, Name: userID, Kind: SenderUser})
	}
	for _, ai := range s.Participants.AI {
		roster = append(roster, RosterEntry{ID: ai.ID, Name: ai.Name, Kind: SenderAI, Role: ai.Role})
	}
	return roster
}

// FindAI returns the attached AI participant with the given id.
func (s *Session) FindAI(id string) (AIParticipant, bool) {
	for _, ai := range s.Participants.AI {
		if ai.ID == id {
			return ai, true
		}
	}
	return AIParticipant{}, false
}

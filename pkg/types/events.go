package types

import "time"

// Event names exchanged over the real-time channel.
const (
	// client -> server
	EventJoinSession  = "join-session"
	EventLeaveSession = "leave-session"
	EventSendMessage  = "send-message"
	EventAudioStatus  = "audio-status"

	// server -> client
	EventUserJoined             = "user-joined"
	EventNewMessage             = "new-message"
	EventParticipantAudioStatus = "participant-audio-status"
	EventJoined                 = "joined"
	EventHistoryComplete        = "history-complete"
	EventSessionCancelled       = "session-cancelled"
	EventSessionEnded           = "session-ended"
	EventError                  = "error"
)

// Event is the envelope for every frame on the real-time channel.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// UserJoined is sent to the existing members of a room when a new
// participant handle subscribes.
type UserJoined struct {
	ParticipantHandle string    `json:"participantHandle"`
	Timestamp         time.Time `json:"timestamp"`
}

// AudioStatus is the transient audio-enabled signal relayed to a room.
type AudioStatus struct {
	ParticipantHandle string `json:"participantHandle"`
	IsAudioEnabled    bool   `json:"isAudioEnabled"`
}

// RoomClosed tells a subscriber it has been evicted from a room.
type RoomClosed struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	Reason    string `json:"reason"`
}

// ErrorPayload reports a rejected client request to its sender only.
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Package session owns the session lifecycle and gates admission to rooms.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"discussionhub/internal/bus"
	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

const roomIDAttempts = 5

// RoomHandle is a participant's admission to a session's room.
type RoomHandle struct {
	SessionID      string             `json:"sessionId"`
	RoomID         string             `json:"roomId"`
	Handle         string             `json:"participantHandle"`
	SubscriptionID bus.SubscriptionID `json:"subscriptionId"`
}

// Registry enforces legal status transitions and registers joined
// participants with the bus. Transitions of one session are serialized;
// different sessions never contend.
type Registry struct {
	sessions    interfaces.SessionStore
	transcripts interfaces.TranscriptStore
	bus         *bus.Bus
	engine      interfaces.AnalysisEngine
	clientURL   string
	logger      *slog.Logger
	now         func() time.Time
	locks       *sessionLocks
}

// Options configures a Registry.
type Options struct {
	Sessions    interfaces.SessionStore
	Transcripts interfaces.TranscriptStore
	Bus         *bus.Bus
	Engine      interfaces.AnalysisEngine
	ClientURL   string
	Logger      *slog.Logger
}

// NewRegistry creates a registry over the given stores and bus.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:    opts.Sessions,
		transcripts: opts.Transcripts,
		bus:         opts.Bus,
		engine:      opts.Engine,
		clientURL:   strings.TrimRight(opts.ClientURL, "/"),
		logger:      logger.With("component", "session"),
		now:         time.Now,
		locks:       newSessionLocks(),
	}
}

// CreateSession validates req, assigns identity and a unique room id, and
// stores it as scheduled.
func (r *Registry) CreateSession(ctx context.Context, req *types.Session) (*types.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	session := *req
	session.ID = uuid.NewString()
	session.Status = types.StatusScheduled
	session.Analysis = nil
	session.CreatedAt = r.now().UTC()
	session.Participants.Real = lo.Uniq(append([]string{}, req.Participants.Real...))
	session.Participants.AI = append([]types.AIParticipant{}, req.Participants.AI...)

	for range roomIDAttempts {
		session.RoomID = newRoomID()
		session.ShareableLink = fmt.Sprintf("%s/join/%s", r.clientURL, session.RoomID)

		err := r.sessions.CreateSession(ctx, &session)
		if errors.Is(err, interfaces.ErrRoomIDTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}

		r.logger.Info("session created",
			"session", session.ID, "room", session.RoomID, "type", session.Type,
			"real", len(session.Participants.Real), "ai", len(session.Participants.AI))
		return &session, nil
	}
	return nil, ErrRoomIDExhausted
}

// GetSession returns the stored session or types.ErrSessionNotFound.
func (r *Registry) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return r.sessions.GetSession(ctx, sessionID)
}

// ListSessions returns every stored session.
func (r *Registry) ListSessions(ctx context.Context) ([]*types.Session, error) {
	return r.sessions.ListSessions(ctx)
}

// Transcript returns the session's messages in append order.
func (r *Registry) Transcript(ctx context.Context, sessionID string) ([]*types.Message, error) {
	if _, err := r.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.transcripts.ListBySession(ctx, sessionID)
}

// ReplayFunc hands a joiner its admission and the transcript so far. It runs
// inside the room actor, so no live delivery reaches the joiner before it
// returns.
type ReplayFunc func(room *RoomHandle, history []*types.Message)

// RequestJoin admits handle to the session's room. The first join moves a
// scheduled session to in_progress. Joining again with the same handle
// returns the existing subscription.
func (r *Registry) RequestJoin(ctx context.Context, sessionID string, handle interfaces.Sink) (*RoomHandle, error) {
	return r.join(ctx, sessionID, handle, nil)
}

// JoinWithHistory is RequestJoin that also replays the transcript to the
// joiner ahead of any message published after it.
func (r *Registry) JoinWithHistory(ctx context.Context, sessionID string, handle interfaces.Sink, replay ReplayFunc) (*RoomHandle, error) {
	return r.join(ctx, sessionID, handle, replay)
}

// join starts the session only inside a successful subscription, so a
// rejected join leaves the status untouched.
func (r *Registry) join(ctx context.Context, sessionID string, handle interfaces.Sink, replay ReplayFunc) (*RoomHandle, error) {
	if handle == nil || handle.Handle() == "" {
		return nil, ErrHandleRequired
	}

	unlock := r.locks.Lock(sessionID)
	defer unlock()

	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: session %s is %s", types.ErrSessionClosed, sessionID, session.Status)
	}

	room := &RoomHandle{
		SessionID: sessionID,
		RoomID:    session.RoomID,
		Handle:    handle.Handle(),
	}
	subID, err := r.bus.SubscribeWith(ctx, session.RoomID, handle, func(subID bus.SubscriptionID) error {
		var history []*types.Message
		if replay != nil {
			var listErr error
			if history, listErr = r.transcripts.ListBySession(ctx, sessionID); listErr != nil {
				return listErr
			}
		}
		if session.Status == types.StatusScheduled {
			if startErr := r.startSession(ctx, session); startErr != nil {
				return startErr
			}
		}
		if replay != nil {
			admitted := *room
			admitted.SubscriptionID = subID
			replay(&admitted, history)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	room.SubscriptionID = subID

	r.logger.Info("participant joined", "session", sessionID, "room", session.RoomID, "handle", handle.Handle())
	return room, nil
}

// startSession performs scheduled -> in_progress. Losing the compare-and-set
// to another process that already started the session is not an error.
func (r *Registry) startSession(ctx context.Context, session *types.Session) error {
	err := r.sessions.UpdateStatus(ctx, session.ID, types.StatusScheduled, types.StatusInProgress)
	if errors.Is(err, interfaces.ErrStatusConflict) {
		current, getErr := r.sessions.GetSession(ctx, session.ID)
		if getErr != nil {
			return getErr
		}
		if current.Status != types.StatusInProgress {
			return fmt.Errorf("%w: session %s is %s", types.ErrSessionClosed, session.ID, current.Status)
		}
		session.Status = current.Status
		return nil
	}
	if err != nil {
		return err
	}

	session.Status = types.StatusInProgress
	r.logger.Info("session started", "session", session.ID)
	return nil
}

// RequestLeave removes handle from the session's room. Status is unchanged.
func (r *Registry) RequestLeave(ctx context.Context, sessionID, handle string) error {
	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	r.bus.UnsubscribeHandle(session.RoomID, handle)
	r.logger.Debug("participant left", "session", sessionID, "handle", handle)
	return nil
}

// Publish validates msg and publishes it to the session's room.
func (r *Registry) Publish(ctx context.Context, sessionID string, msg *types.Message) (*types.Message, error) {
	msg.SessionID = sessionID
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: session %s is %s", types.ErrSessionClosed, sessionID, session.Status)
	}
	return r.bus.Publish(ctx, session.RoomID, msg)
}

// SignalAudio relays a participant's audio-enabled flag to the rest of the room.
func (r *Registry) SignalAudio(ctx context.Context, sessionID, handle string, enabled bool) error {
	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return fmt.Errorf("%w: session %s is %s", types.ErrSessionClosed, sessionID, session.Status)
	}
	return r.bus.Signal(session.RoomID, handle, types.Event{
		Name: types.EventParticipantAudioStatus,
		Data: types.AudioStatus{ParticipantHandle: handle, IsAudioEnabled: enabled},
	})
}

// Complete moves an in_progress session to completed with analysis attached
// and closes its room.
func (r *Registry) Complete(ctx context.Context, sessionID string, analysis *types.SessionAnalysis) error {
	if analysis == nil {
		return ErrAnalysisRequired
	}

	unlock := r.locks.Lock(sessionID)
	defer unlock()

	session, err := r.inProgress(ctx, sessionID, types.StatusCompleted)
	if err != nil {
		return err
	}
	return r.complete(ctx, session, analysis)
}

// End analyzes the stored transcript and completes the session. The engine
// runs once, only when the session is in_progress.
func (r *Registry) End(ctx context.Context, sessionID string) (*types.SessionAnalysis, error) {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	session, err := r.inProgress(ctx, sessionID, types.StatusCompleted)
	if err != nil {
		return nil, err
	}

	transcript, err := r.transcripts.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return r.analyzeAndComplete(ctx, session, transcript, rosterFor(session, transcript))
}

// AnalyzeAndComplete runs the engine on the supplied transcript and roster
// and completes the session with the result. An empty roster falls back to
// the session's own participants.
func (r *Registry) AnalyzeAndComplete(ctx context.Context, sessionID string, transcript []*types.Message, roster []types.RosterEntry) (*types.SessionAnalysis, error) {
	for _, entry := range roster {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
	}

	unlock := r.locks.Lock(sessionID)
	defer unlock()

	session, err := r.inProgress(ctx, sessionID, types.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		roster = rosterFor(session, transcript)
	}
	return r.analyzeAndComplete(ctx, session, transcript, roster)
}

func (r *Registry) analyzeAndComplete(ctx context.Context, session *types.Session, transcript []*types.Message, roster []types.RosterEntry) (*types.SessionAnalysis, error) {
	analysis, err := r.engine.Analyze(ctx, transcript, roster)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	if err := r.complete(ctx, session, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

// Cancel moves a non-terminal session to cancelled and evicts everyone in
// its room with a session-cancelled notice.
func (r *Registry) Cancel(ctx context.Context, sessionID string) error {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !types.CanTransition(session.Status, types.StatusCancelled) {
		return invalidTransition(sessionID, session.Status, types.StatusCancelled)
	}

	err = r.sessions.UpdateStatus(ctx, sessionID, session.Status, types.StatusCancelled)
	if errors.Is(err, interfaces.ErrStatusConflict) {
		return fmt.Errorf("%w: %v", types.ErrInvalidTransition, err)
	}
	if err != nil {
		return err
	}

	r.bus.Teardown(session.RoomID, types.Event{
		Name: types.EventSessionCancelled,
		Data: types.RoomClosed{SessionID: sessionID, RoomID: session.RoomID, Reason: string(types.StatusCancelled)},
	})
	r.logger.Info("session cancelled", "session", sessionID, "from", session.Status)
	return nil
}

func (r *Registry) inProgress(ctx context.Context, sessionID string, to types.SessionStatus) (*types.Session, error) {
	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.StatusInProgress {
		return nil, invalidTransition(sessionID, session.Status, to)
	}
	return session, nil
}

// complete must be called with the session lock held.
func (r *Registry) complete(ctx context.Context, session *types.Session, analysis *types.SessionAnalysis) error {
	err := r.sessions.AttachAnalysis(ctx, session.ID, analysis)
	if errors.Is(err, interfaces.ErrStatusConflict) {
		return fmt.Errorf("%w: %v", types.ErrInvalidTransition, err)
	}
	if err != nil {
		return err
	}

	r.bus.Teardown(session.RoomID, types.Event{
		Name: types.EventSessionEnded,
		Data: types.RoomClosed{SessionID: session.ID, RoomID: session.RoomID, Reason: string(types.StatusCompleted)},
	})
	r.logger.Info("session completed", "session", session.ID, "overall_score", analysis.OverallScore)
	return nil
}

// rosterFor lists the session's participants followed by any sender seen in
// the transcript that is not already on the roster. Real participants take
// the display name they used in the transcript.
func rosterFor(session *types.Session, transcript []*types.Message) []types.RosterEntry {
	names := make(map[string]string, len(transcript))
	for _, msg := range transcript {
		if _, seen := names[msg.SenderID]; !seen {
			names[msg.SenderID] = msg.SenderName
		}
	}

	roster := session.Roster()
	for i, entry := range roster {
		if name, ok := names[entry.ID]; ok && entry.Kind == types.SenderUser && name != "" {
			roster[i].Name = name
		}
	}
	for _, msg := range transcript {
		roster = append(roster, types.RosterEntry{
			ID:   msg.SenderID,
			Name: msg.SenderName,
			Kind: msg.SenderType,
		})
	}
	return lo.UniqBy(roster, func(entry types.RosterEntry) string { return entry.ID })
}

func newRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
}

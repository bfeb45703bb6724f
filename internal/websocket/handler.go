package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"discussionhub/internal/session"
	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

var upgrader = websocket.Upgrader{
	// Origin policy belongs to the deployment's proxy.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Rooms is the slice of the session registry the real-time channel drives.
type Rooms interface {
	JoinWithHistory(ctx context.Context, sessionID string, sink interfaces.Sink, replay session.ReplayFunc) (*session.RoomHandle, error)
	RequestLeave(ctx context.Context, sessionID, handle string) error
	Publish(ctx context.Context, sessionID string, msg *types.Message) (*types.Message, error)
	SignalAudio(ctx context.Context, sessionID, handle string, enabled bool) error
}

// Handler upgrades HTTP requests and serves the event protocol.
type Handler struct {
	registry *Registry
	rooms    Rooms
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(registry *Registry, rooms Rooms, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		rooms:    rooms,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "websocket"),
	}
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (r *sessionRequest) sessionID() string { return r.SessionID }

type sendMessageRequest struct {
	SessionID  string            `json:"sessionId"`
	SenderID   string            `json:"senderId"`
	SenderName string            `json:"senderName"`
	SenderType types.SenderType  `json:"senderType"`
	Content    string            `json:"content"`
	Kind       types.MessageKind `json:"kind"`
}

func (r *sendMessageRequest) sessionID() string { return r.SessionID }

type audioStatusRequest struct {
	SessionID      string `json:"sessionId"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
}

func (r *audioStatusRequest) sessionID() string { return r.SessionID }

// HandleWebSocket serves GET /ws?participant_id=...&name=...
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant_id")
	name := r.URL.Query().Get("name")

	if participantID == "" {
		http.Error(w, "Missing required query parameter: participant_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidParticipantID(participantID) {
		http.Error(w, "Invalid participant_id format", http.StatusBadRequest)
		return
	}
	if name == "" {
		name = participantID
	}
	if len(name) > 100 {
		http.Error(w, "name must be at most 100 characters", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws, participantID, name, h.opts, h.logger)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("register connection failed", "error", err)
		_ = conn.Close()
		return
	}
	h.logger.Info("connection opened", "participant", participantID, "handle", conn.Handle())

	go h.serve(conn)
}

func (h *Handler) serve(conn *Connection) {
	defer h.disconnect(conn)

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxFrameBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "handle", conn.Handle(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}

// disconnect leaves every joined room without a broadcast and releases the
// connection.
func (h *Handler) disconnect(conn *Connection) {
	defer h.registry.Unregister(conn)
	_ = conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.RequestTimeout)
	defer cancel()
	for _, sessionID := range conn.JoinedSessions() {
		if err := h.rooms.RequestLeave(ctx, sessionID, conn.Handle()); err != nil {
			h.logger.Debug("leave on disconnect failed", "session", sessionID, "handle", conn.Handle(), "error", err)
		}
	}
	h.logger.Info("connection closed", "participant", conn.ParticipantID(), "handle", conn.Handle())
}

func (h *Handler) dispatch(conn *Connection, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		h.reply(conn, "", ErrMalformedData)
		return
	}

	ctx, cancel := context.WithTimeout(conn.ctx, h.opts.RequestTimeout)
	defer cancel()

	var err error
	switch in.Event {
	case types.EventJoinSession:
		err = h.handleJoin(ctx, conn, in.Data)
	case types.EventSendMessage:
		err = h.handleSendMessage(ctx, conn, in.Data)
	case types.EventAudioStatus:
		err = h.handleAudioStatus(ctx, conn, in.Data)
	case types.EventLeaveSession:
		err = h.handleLeave(ctx, conn, in.Data)
	default:
		err = fmt.Errorf("%w %q", ErrUnknownEvent, in.Event)
	}
	if err != nil {
		h.reply(conn, in.Event, err)
	}
}

func (h *Handler) handleJoin(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var req sessionRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	_, err := h.rooms.JoinWithHistory(ctx, req.SessionID, conn, func(room *session.RoomHandle, history []*types.Message) {
		h.replay(conn, room, history)
	})
	if err != nil {
		return err
	}
	conn.markJoined(req.SessionID)
	return nil
}

// replay queues the join acknowledgement and the transcript. A failed write
// stops the replay; the connection is then closing or about to be evicted.
func (h *Handler) replay(conn *Connection, room *session.RoomHandle, history []*types.Message) {
	if err := conn.WriteJSON(types.Event{Name: types.EventJoined, Data: room}); err != nil {
		h.logger.Debug("join acknowledgement dropped", "handle", conn.Handle(), "error", err)
		return
	}
	for _, msg := range history {
		if err := conn.WriteJSON(types.Event{Name: types.EventNewMessage, Data: msg}); err != nil {
			h.logger.Debug("history replay aborted", "handle", conn.Handle(), "error", err)
			return
		}
	}
	_ = conn.WriteJSON(types.Event{
		Name: types.EventHistoryComplete,
		Data: map[string]any{"sessionId": room.SessionID, "count": len(history)},
	})
}

func (h *Handler) handleSendMessage(ctx context.Context, conn *Connection, data json.RawMessage) error {
	if !conn.allow() {
		return ErrRateLimited
	}

	var req sendMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	_, err := h.rooms.Publish(ctx, req.SessionID, &types.Message{
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		SenderType: req.SenderType,
		Content:    req.Content,
		Kind:       req.Kind,
	})
	return err
}

func (h *Handler) handleAudioStatus(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var req audioStatusRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return h.rooms.SignalAudio(ctx, req.SessionID, conn.Handle(), req.IsAudioEnabled)
}

func (h *Handler) handleLeave(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var req sessionRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	conn.markLeft(req.SessionID)
	return h.rooms.RequestLeave(ctx, req.SessionID, conn.Handle())
}

// reply sends an error event to the originating connection only.
func (h *Handler) reply(conn *Connection, event string, err error) {
	code := errorCode(err)
	if code == CodePersistenceFailed {
		h.logger.Error("request failed", "event", event, "handle", conn.Handle(), "error", err)
	} else {
		h.logger.Debug("request rejected", "event", event, "handle", conn.Handle(), "code", code, "error", err)
	}

	payload := types.ErrorPayload{Event: event, Code: code, Message: err.Error()}
	if writeErr := conn.WriteJSON(types.Event{Name: types.EventError, Data: payload}); writeErr != nil && !errors.Is(writeErr, ErrConnectionClosed) {
		h.logger.Debug("error reply dropped", "handle", conn.Handle(), "error", writeErr)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ErrMalformedData
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if s, ok := v.(interface{ sessionID() string }); ok && s.sessionID() == "" {
		return ErrSessionIDRequired
	}
	return nil
}

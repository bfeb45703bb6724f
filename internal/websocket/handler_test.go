package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discussionhub/internal/session"
	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

type fakeRooms struct {
	mu         sync.Mutex
	joinErr    error
	publishErr error
	history    []*types.Message
	published  []*types.Message
	left       []string
	signals    []string
}

func (f *fakeRooms) JoinWithHistory(_ context.Context, sessionID string, sink interfaces.Sink, replay session.ReplayFunc) (*session.RoomHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	room := &session.RoomHandle{SessionID: sessionID, RoomID: "room-" + sessionID, Handle: sink.Handle()}
	if replay != nil {
		replay(room, f.history)
	}
	return room, nil
}

func (f *fakeRooms) RequestLeave(_ context.Context, sessionID, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, sessionID+"|"+handle)
	return nil
}

func (f *fakeRooms) Publish(_ context.Context, sessionID string, msg *types.Message) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	msg.SessionID = sessionID
	f.published = append(f.published, msg)
	return msg, nil
}

func (f *fakeRooms) SignalAudio(_ context.Context, sessionID, handle string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fmt.Sprintf("%s|%s|%t", sessionID, handle, enabled))
	return nil
}

func (f *fakeRooms) snapshot() (published []*types.Message, left, signals []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Message(nil), f.published...), append([]string(nil), f.left...), append([]string(nil), f.signals...)
}

type handlerFixture struct {
	rooms    *fakeRooms
	registry *Registry
	server   *httptest.Server
}

func newHandlerFixture(t *testing.T, rooms Rooms, opts Options) *handlerFixture {
	t.Helper()

	registry := NewRegistry()
	handler := NewHandler(registry, rooms, opts, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
	})

	f := &handlerFixture{registry: registry, server: server}
	if fr, ok := rooms.(*fakeRooms); ok {
		f.rooms = fr
	}
	return f
}

func (f *handlerFixture) dial(t *testing.T, participantID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?participant_id=" + participantID
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func send(t *testing.T, client *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, client.WriteJSON(map[string]any{"event": event, "data": data}))
}

func readError(t *testing.T, client *websocket.Conn) types.ErrorPayload {
	t.Helper()
	ev := readEvent(t, client)
	require.Equal(t, types.EventError, ev.Event)
	var payload types.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	return payload
}

func TestHandler_RejectsBadQuery(t *testing.T) {
	handler := NewHandler(NewRegistry(), &fakeRooms{}, DefaultOptions(), nil)

	tests := []struct {
		name  string
		query string
	}{
		{"missing participant", ""},
		{"invalid participant", "?participant_id=bad%20id"},
		{"name too long", "?participant_id=user_a&name=" + strings.Repeat("x", 101)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandler_JoinReplaysHistory(t *testing.T) {
	rooms := &fakeRooms{history: []*types.Message{
		{ID: "m1", SessionID: "s1", Content: "first"},
		{ID: "m2", SessionID: "s1", Content: "second"},
	}}
	f := newHandlerFixture(t, rooms, DefaultOptions())
	client := f.dial(t, "user_a")

	send(t, client, types.EventJoinSession, map[string]string{"sessionId": "s1"})

	joined := readEvent(t, client)
	require.Equal(t, types.EventJoined, joined.Event)
	var room session.RoomHandle
	require.NoError(t, json.Unmarshal(joined.Data, &room))
	assert.Equal(t, "room-s1", room.RoomID)
	assert.True(t, strings.HasPrefix(room.Handle, "user_a-"))

	for _, want := range []string{"m1", "m2"} {
		ev := readEvent(t, client)
		require.Equal(t, types.EventNewMessage, ev.Event)
		var msg types.Message
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		assert.Equal(t, want, msg.ID)
	}
	assert.Equal(t, types.EventHistoryComplete, readEvent(t, client).Event)
}

func TestHandler_ErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		rooms    *fakeRooms
		event    string
		data     any
		wantCode string
	}{
		{"unknown session", &fakeRooms{joinErr: types.ErrSessionNotFound}, types.EventJoinSession,
			map[string]string{"sessionId": "nope"}, CodeSessionNotFound},
		{"closed session", &fakeRooms{joinErr: types.ErrSessionClosed}, types.EventJoinSession,
			map[string]string{"sessionId": "s1"}, CodeSessionClosed},
		{"missing session id", &fakeRooms{}, types.EventJoinSession,
			map[string]string{}, CodeValidationFailed},
		{"invalid message", &fakeRooms{publishErr: fmt.Errorf("%w: content", types.ErrValidation)}, types.EventSendMessage,
			map[string]string{"sessionId": "s1"}, CodeValidationFailed},
		{"store failure", &fakeRooms{publishErr: fmt.Errorf("%w: disk full", types.ErrPersistence)}, types.EventSendMessage,
			map[string]string{"sessionId": "s1", "content": "hi"}, CodePersistenceFailed},
		{"unknown event", &fakeRooms{}, "dance", map[string]string{}, CodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, tt.rooms, DefaultOptions())
			client := f.dial(t, "user_a")

			send(t, client, tt.event, tt.data)
			payload := readError(t, client)
			assert.Equal(t, tt.wantCode, payload.Code)
			assert.Equal(t, tt.event, payload.Event)
			assert.NotEmpty(t, payload.Message)
		})
	}
}

func TestHandler_MalformedFrame(t *testing.T) {
	f := newHandlerFixture(t, &fakeRooms{}, DefaultOptions())
	client := f.dial(t, "user_a")

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, CodeValidationFailed, readError(t, client).Code)
}

func TestHandler_SendMessage(t *testing.T) {
	rooms := &fakeRooms{}
	f := newHandlerFixture(t, rooms, DefaultOptions())
	client := f.dial(t, "user_a")

	send(t, client, types.EventSendMessage, map[string]string{
		"sessionId": "s1", "senderId": "user_a", "senderName": "Ada", "senderType": "user", "content": "hello",
	})

	require.Eventually(t, func() bool {
		published, _, _ := rooms.snapshot()
		return len(published) == 1
	}, 2*time.Second, 10*time.Millisecond)

	published, _, _ := rooms.snapshot()
	msg := published[0]
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, "user_a", msg.SenderID)
	assert.Equal(t, "Ada", msg.SenderName)
	assert.Equal(t, types.SenderUser, msg.SenderType)
	assert.Equal(t, "hello", msg.Content)
}

func TestHandler_RateLimitsMessages(t *testing.T) {
	opts := DefaultOptions()
	opts.MessagesPerMinute = 2
	f := newHandlerFixture(t, &fakeRooms{}, opts)
	client := f.dial(t, "user_a")

	data := map[string]string{"sessionId": "s1", "content": "hi"}
	for range 3 {
		send(t, client, types.EventSendMessage, data)
	}

	payload := readError(t, client)
	assert.Equal(t, CodeRateLimited, payload.Code)
	assert.Equal(t, types.EventSendMessage, payload.Event)
}

func TestHandler_AudioStatusUsesConnectionHandle(t *testing.T) {
	rooms := &fakeRooms{}
	f := newHandlerFixture(t, rooms, DefaultOptions())
	client := f.dial(t, "user_a")

	send(t, client, types.EventAudioStatus, map[string]any{"sessionId": "s1", "isAudioEnabled": true})

	require.Eventually(t, func() bool {
		_, _, signals := rooms.snapshot()
		return len(signals) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, _, signals := rooms.snapshot()
	parts := strings.Split(signals[0], "|")
	assert.Equal(t, "s1", parts[0])
	assert.True(t, strings.HasPrefix(parts[1], "user_a-"))
	assert.Equal(t, "true", parts[2])
}

func TestHandler_DisconnectLeavesJoinedSessions(t *testing.T) {
	rooms := &fakeRooms{}
	f := newHandlerFixture(t, rooms, DefaultOptions())
	client := f.dial(t, "user_a")

	for _, id := range []string{"s1", "s2"} {
		send(t, client, types.EventJoinSession, map[string]string{"sessionId": id})
		assert.Equal(t, types.EventJoined, readEvent(t, client).Event)
		assert.Equal(t, types.EventHistoryComplete, readEvent(t, client).Event)
	}
	assert.Equal(t, 1, f.registry.Stats().Connections)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		_, left, _ := rooms.snapshot()
		return len(left) == 2
	}, 2*time.Second, 10*time.Millisecond)
	_, left, _ := rooms.snapshot()
	assert.ElementsMatch(t, []string{"s1", "s2"}, []string{strings.Split(left[0], "|")[0], strings.Split(left[1], "|")[0]})
	assert.Eventually(t, func() bool { return f.registry.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_LeaveSession(t *testing.T) {
	rooms := &fakeRooms{}
	f := newHandlerFixture(t, rooms, DefaultOptions())
	client := f.dial(t, "user_a")

	send(t, client, types.EventJoinSession, map[string]string{"sessionId": "s1"})
	readEvent(t, client)
	readEvent(t, client)
	send(t, client, types.EventLeaveSession, map[string]string{"sessionId": "s1"})

	require.Eventually(t, func() bool {
		_, left, _ := rooms.snapshot()
		return len(left) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return f.registry.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
	_, left, _ := rooms.snapshot()
	assert.Len(t, left, 1, "a left session is not left again on disconnect")
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", types.ErrSessionNotFound), CodeSessionNotFound},
		{fmt.Errorf("wrap: %w", types.ErrSessionClosed), CodeSessionClosed},
		{fmt.Errorf("wrap: %w", types.ErrInvalidTransition), CodeInvalidTransition},
		{fmt.Errorf("wrap: %w", types.ErrValidation), CodeValidationFailed},
		{ErrRateLimited, CodeRateLimited},
		{types.ErrPersistence, CodePersistenceFailed},
		{errors.New("anything else"), CodePersistenceFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), tt.err.Error())
	}
}

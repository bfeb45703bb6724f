package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"discussionhub/internal/mocks"
	"discussionhub/pkg/types"
)

// recordingSink collects delivered events. A positive capacity makes it
// refuse deliveries once that many events are buffered.
type recordingSink struct {
	handle   string
	capacity int

	mu     sync.Mutex
	events []types.Event
	closed bool
}

func newSink(handle string) *recordingSink {
	return &recordingSink{handle: handle}
}

func (s *recordingSink) Handle() string { return s.handle }

func (s *recordingSink) Deliver(event types.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.capacity > 0 && len(s.events) >= s.capacity) {
		return false
	}
	s.events = append(s.events, event)
	return true
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Events() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Event(nil), s.events...)
}

func (s *recordingSink) Named(name string) []types.Event {
	var out []types.Event
	for _, e := range s.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// storeEcho makes the mock store behave like a healthy transcript store.
func storeEcho(store *mocks.MockTranscriptStore) *gomock.Call {
	return store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg *types.Message) (*types.Message, error) {
			stored := *msg
			stored.ID = uuid.NewString()
			stored.Timestamp = time.Now().UTC()
			return &stored, nil
		})
}

func startedBus(t *testing.T) (*Bus, *mocks.MockTranscriptStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockTranscriptStore(ctrl)

	b := New(store, quietLogger())
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })
	return b, store
}

func userMessage(sessionID, content string) *types.Message {
	return &types.Message{
		SessionID:  sessionID,
		SenderID:   "user_a",
		SenderName: "A",
		SenderType: types.SenderUser,
		Content:    content,
		Kind:       types.KindText,
	}
}

func TestBus_StartStop(t *testing.T) {
	b := New(nil, quietLogger())
	ctx := context.Background()

	require.NoError(t, b.Start(ctx))
	assert.ErrorIs(t, b.Start(ctx), ErrBusAlreadyRunning)
	require.NoError(t, b.Stop())
	assert.ErrorIs(t, b.Stop(), ErrBusNotRunning)

	_, err := b.Subscribe(ctx, "r1", newSink("a"))
	assert.ErrorIs(t, err, ErrBusNotRunning)
}

func TestBus_StopsWhenContextCancelled(t *testing.T) {
	b := New(nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx))

	cancel()
	require.Eventually(t, func() bool {
		_, err := b.Subscribe(context.Background(), "r1", newSink("a"))
		return errors.Is(err, ErrBusNotRunning)
	}, time.Second, 10*time.Millisecond)
}

func TestBus_SubscribeNotifiesOthersOnly(t *testing.T) {
	b, _ := startedBus(t)
	ctx := context.Background()

	a, bb, c := newSink("a"), newSink("b"), newSink("c")
	_, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)
	assert.Empty(t, a.Events(), "joiner must not be notified of itself")

	_, err = b.Subscribe(ctx, "r1", bb)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r1", c)
	require.NoError(t, err)

	joinedA := a.Named(types.EventUserJoined)
	require.Len(t, joinedA, 2)
	assert.Equal(t, "b", joinedA[0].Data.(types.UserJoined).ParticipantHandle)
	assert.Equal(t, "c", joinedA[1].Data.(types.UserJoined).ParticipantHandle)

	joinedB := bb.Named(types.EventUserJoined)
	require.Len(t, joinedB, 1)
	assert.Equal(t, "c", joinedB[0].Data.(types.UserJoined).ParticipantHandle)

	assert.Empty(t, c.Events())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, b.Members("r1"))
}

func TestBus_SubscribeIsIdempotentPerHandle(t *testing.T) {
	b, _ := startedBus(t)
	ctx := context.Background()

	a, other := newSink("a"), newSink("x")
	_, err := b.Subscribe(ctx, "r1", other)
	require.NoError(t, err)

	first, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)
	second, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, other.Named(types.EventUserJoined), 1)
	assert.Equal(t, int64(2), b.Stats().Subscribers)
}

func TestBus_PublishPersistsThenDeliversInOrder(t *testing.T) {
	b, store := startedBus(t)
	ctx := context.Background()

	var appended []string
	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg *types.Message) (*types.Message, error) {
			stored := *msg
			stored.ID = fmt.Sprintf("id-%d", len(appended))
			stored.Timestamp = time.Now().UTC()
			appended = append(appended, stored.ID)
			return &stored, nil
		}).Times(50)

	a, c := newSink("a"), newSink("c")
	_, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r1", c)
	require.NoError(t, err)

	for i := range 50 {
		stored, err := b.Publish(ctx, "r1", userMessage("s1", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("id-%d", i), stored.ID)
	}

	for _, sink := range []*recordingSink{a, c} {
		msgs := sink.Named(types.EventNewMessage)
		require.Len(t, msgs, 50)
		for i, e := range msgs {
			msg := e.Data.(*types.Message)
			assert.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
			assert.Equal(t, appended[i], msg.ID)
		}
	}
}

func TestBus_PublishUnknownSessionDeliversNothing(t *testing.T) {
	b, store := startedBus(t)
	ctx := context.Background()

	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(nil, types.ErrSessionNotFound)

	a := newSink("a")
	_, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)

	_, err = b.Publish(ctx, "r1", userMessage("missing", "hello"))
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
	assert.Empty(t, a.Events())
}

func TestBus_PublishWithoutSubscribersStillPersists(t *testing.T) {
	b, store := startedBus(t)
	storeEcho(store).Times(1)

	stored, err := b.Publish(context.Background(), "empty-room", userMessage("s1", "hi"))
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)

	assert.Eventually(t, func() bool { return b.Stats().Rooms == 0 }, time.Second, 5*time.Millisecond)
}

func TestBus_SlowSinkIsEvicted(t *testing.T) {
	b, store := startedBus(t)
	ctx := context.Background()
	storeEcho(store).Times(3)

	slow := newSink("slow")
	slow.capacity = 1
	fast := newSink("fast")
	_, err := b.Subscribe(ctx, "r1", slow)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r1", fast)
	require.NoError(t, err)
	// slow's single slot now holds the user-joined notice for fast.

	for i := range 3 {
		_, err := b.Publish(ctx, "r1", userMessage("s1", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	assert.True(t, slow.IsClosed())
	assert.Len(t, fast.Named(types.EventNewMessage), 3)
	assert.Equal(t, []string{"fast"}, b.Members("r1"))
}

func TestBus_RefusingSinkIsClosedOnce(t *testing.T) {
	b, _ := startedBus(t)
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	refusing := mocks.NewMockSink(ctrl)
	refusing.EXPECT().Handle().Return("refusing").AnyTimes()
	refusing.EXPECT().Deliver(gomock.Any()).Return(false).Times(1)
	refusing.EXPECT().Close().Return(errors.New("already gone")).Times(1)

	_, err := b.Subscribe(ctx, "r1", refusing)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r1", newSink("other"))
	require.NoError(t, err)

	assert.Equal(t, []string{"other"}, b.Members("r1"))
	assert.EqualValues(t, 1, b.Stats().Subscribers)
}

func TestBus_SubscribeWithRunsBeforeLiveDelivery(t *testing.T) {
	b, store := startedBus(t)
	ctx := context.Background()
	storeEcho(store).Times(1)

	a := newSink("a")
	_, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)

	joiner := newSink("joiner")
	inJoin := make(chan struct{})
	release := make(chan struct{})
	joined := make(chan error, 1)
	go func() {
		_, err := b.SubscribeWith(ctx, "r1", joiner, func(SubscriptionID) error {
			joiner.Deliver(types.Event{Name: types.EventHistoryComplete})
			close(inJoin)
			<-release
			return nil
		})
		joined <- err
	}()
	<-inJoin

	published := make(chan error, 1)
	go func() {
		_, err := b.Publish(ctx, "r1", userMessage("s1", "live"))
		published <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-joined)
	require.NoError(t, <-published)

	events := joiner.Events()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventHistoryComplete, events[0].Name)
	assert.Equal(t, types.EventNewMessage, events[1].Name)
	assert.Len(t, a.Named(types.EventUserJoined), 1)
}

func TestBus_SubscribeWithErrorLeavesRoomUntouched(t *testing.T) {
	b, _ := startedBus(t)
	ctx := context.Background()

	a := newSink("a")
	_, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)

	failure := errors.New("history unavailable")
	_, err = b.SubscribeWith(ctx, "r1", newSink("joiner"), func(SubscriptionID) error { return failure })
	assert.ErrorIs(t, err, failure)

	assert.Equal(t, []string{"a"}, b.Members("r1"))
	assert.Empty(t, a.Named(types.EventUserJoined))
	assert.EqualValues(t, 1, b.Stats().Subscribers)

	_, err = b.SubscribeWith(ctx, "empty", newSink("joiner"), func(SubscriptionID) error { return failure })
	assert.ErrorIs(t, err, failure)
	assert.Eventually(t, func() bool { return b.Stats().Rooms == 1 }, time.Second, 10*time.Millisecond)
}

func TestBus_PublishSurvivesCallerCancellation(t *testing.T) {
	b, store := startedBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(appendCtx context.Context, msg *types.Message) (*types.Message, error) {
			cancel()
			if err := appendCtx.Err(); err != nil {
				return nil, err
			}
			stored := *msg
			stored.ID = uuid.NewString()
			return &stored, nil
		})

	other := newSink("other")
	_, err := b.Subscribe(context.Background(), "r1", other)
	require.NoError(t, err)

	stored, err := b.Publish(ctx, "r1", userMessage("s1", "bye"))
	require.NoError(t, err)
	delivered := other.Named(types.EventNewMessage)
	require.Len(t, delivered, 1)
	assert.Equal(t, stored.ID, delivered[0].Data.(*types.Message).ID)
}

func TestBus_ClosedRoomsExpire(t *testing.T) {
	b, _ := startedBus(t)
	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	b.now = func() time.Time { return time.Unix(0, clock.Load()) }
	advance := func(d time.Duration) { clock.Add(int64(d)) }

	b.Teardown("r1", types.Event{Name: types.EventSessionEnded})
	assert.True(t, b.IsClosed("r1"))

	advance(closedRetention - time.Second)
	assert.True(t, b.IsClosed("r1"))
	_, err := b.Subscribe(context.Background(), "r1", newSink("a"))
	assert.ErrorIs(t, err, ErrRoomClosed)

	advance(2 * time.Second)
	assert.False(t, b.IsClosed("r1"))

	b.Teardown("r2", types.Event{Name: types.EventSessionEnded})
	assert.Equal(t, 1, b.Stats().ClosedRooms)
}

func TestBus_SignalSkipsSenderAndIsNotPersisted(t *testing.T) {
	b, _ := startedBus(t)
	ctx := context.Background()

	a, c := newSink("a"), newSink("c")
	_, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r1", c)
	require.NoError(t, err)

	event := types.Event{
		Name: types.EventParticipantAudioStatus,
		Data: types.AudioStatus{ParticipantHandle: "a", IsAudioEnabled: true},
	}
	require.NoError(t, b.Signal("r1", "a", event))

	assert.Empty(t, a.Named(types.EventParticipantAudioStatus))
	got := c.Named(types.EventParticipantAudioStatus)
	require.Len(t, got, 1)
	assert.True(t, got[0].Data.(types.AudioStatus).IsAudioEnabled)

	// Signalling a room nobody joined is a no-op.
	require.NoError(t, b.Signal("nobody", "a", event))
}

func TestBus_UnsubscribeIsSilentAndReleasesRoom(t *testing.T) {
	b, _ := startedBus(t)
	ctx := context.Background()

	a, c := newSink("a"), newSink("c")
	subA, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r1", c)
	require.NoError(t, err)

	before := len(c.Events())
	b.Unsubscribe("r1", subA)
	assert.Len(t, c.Events(), before, "leaving must not broadcast")
	assert.Equal(t, []string{"c"}, b.Members("r1"))

	b.UnsubscribeHandle("r1", "c")
	assert.Eventually(t, func() bool { return b.Stats().Rooms == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), b.Stats().Subscribers)

	// Unknown ids and rooms are ignored.
	b.Unsubscribe("r1", "nope")
	b.UnsubscribeHandle("other", "a")
}

func TestBus_TeardownEvictsWithNotice(t *testing.T) {
	b, _ := startedBus(t)
	ctx := context.Background()

	a, c := newSink("a"), newSink("c")
	_, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r1", c)
	require.NoError(t, err)

	notice := types.Event{
		Name: types.EventSessionCancelled,
		Data: types.RoomClosed{SessionID: "s1", RoomID: "r1", Reason: "cancelled"},
	}
	b.Teardown("r1", notice)

	assert.Len(t, a.Named(types.EventSessionCancelled), 1)
	assert.Len(t, c.Named(types.EventSessionCancelled), 1)
	assert.False(t, a.IsClosed(), "teardown evicts but does not close connections")
	assert.Empty(t, b.Members("r1"))
	assert.True(t, b.IsClosed("r1"))

	_, err = b.Publish(ctx, "r1", userMessage("s1", "late"))
	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.ErrorIs(t, err, types.ErrSessionClosed)

	_, err = b.Subscribe(ctx, "r1", newSink("late"))
	assert.ErrorIs(t, err, ErrRoomClosed)

	stats := b.Stats()
	assert.Equal(t, 0, stats.Rooms)
	assert.Equal(t, 1, stats.ClosedRooms)
	assert.Equal(t, int64(0), stats.Subscribers)
}

func TestBus_TeardownRacingPublishes(t *testing.T) {
	b, store := startedBus(t)
	ctx := context.Background()
	storeEcho(store).AnyTimes()

	a := newSink("a")
	_, err := b.Subscribe(ctx, "r1", a)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Publish(ctx, "r1", userMessage("s1", fmt.Sprintf("m%d", i)))
			if err == nil {
				mu.Lock()
				delivered++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrRoomClosed)
		}()
	}
	b.Teardown("r1", types.Event{Name: types.EventSessionEnded})
	wg.Wait()

	// Every accepted publish reached the subscriber before its eviction.
	assert.Len(t, a.Named(types.EventNewMessage), delivered)
	events := a.Events()
	assert.Equal(t, types.EventSessionEnded, events[len(events)-1].Name)
}

func TestBus_RoomsAreIndependent(t *testing.T) {
	b, store := startedBus(t)
	ctx := context.Background()
	storeEcho(store).AnyTimes()

	const rooms, perRoom = 4, 25
	sinks := make([]*recordingSink, rooms)
	for i := range rooms {
		sinks[i] = newSink(fmt.Sprintf("h%d", i))
		_, err := b.Subscribe(ctx, fmt.Sprintf("r%d", i), sinks[i])
		require.NoError(t, err)
	}
	assert.Equal(t, rooms, b.Stats().Rooms)

	var wg sync.WaitGroup
	for i := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range perRoom {
				_, err := b.Publish(ctx, fmt.Sprintf("r%d", i), userMessage("s1", fmt.Sprintf("r%d-m%d", i, j)))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for i, sink := range sinks {
		msgs := sink.Named(types.EventNewMessage)
		require.Len(t, msgs, perRoom)
		for j, e := range msgs {
			assert.Equal(t, fmt.Sprintf("r%d-m%d", i, j), e.Data.(*types.Message).Content)
		}
	}
}

// Package bus fans room events out to subscribed sinks. Every room is owned
// by one actor goroutine, so all mutations and deliveries within a room are
// serialized while distinct rooms never contend.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

// SubscriptionID identifies one sink's membership in one room.
type SubscriptionID string

// JoinFunc runs inside the room actor before a subscription takes effect, so
// no delivery to the room can interleave with it. An error aborts the
// subscription and is returned from SubscribeWith.
type JoinFunc func(subID SubscriptionID) error

// closedRetention is how long a torn-down room keeps rejecting operations.
const closedRetention = 10 * time.Minute

// Stats is a point-in-time view of bus occupancy.
type Stats struct {
	Rooms       int   `json:"rooms"`
	Subscribers int64 `json:"subscribers"`
	ClosedRooms int   `json:"closedRooms"`
}

// Bus is the per-room publish/subscribe fan-out.
type Bus struct {
	store  interfaces.TranscriptStore
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	rooms   map[string]*room
	closed  map[string]time.Time
	wg      sync.WaitGroup

	retention time.Duration

	subscribers atomic.Int64
}

type subscriber struct {
	id   SubscriptionID
	sink interfaces.Sink
}

// room state is only touched from its actor goroutine.
type room struct {
	id   string
	ops  chan roomOp
	done chan struct{}
	subs []*subscriber
}

// roomOp runs inside the room actor. It returns true when the room should
// be released afterwards.
type roomOp func(r *room) (release bool)

// New creates a bus that persists published messages to store.
func New(store interfaces.TranscriptStore, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		store:     store,
		logger:    logger.With("component", "bus"),
		now:       time.Now,
		rooms:     make(map[string]*room),
		closed:    make(map[string]time.Time),
		retention: closedRetention,
	}
}

// Start enables the bus. It stops itself when ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrBusAlreadyRunning
	}
	b.running = true
	stopCh := make(chan struct{})
	b.stopCh = stopCh
	b.mu.Unlock()

	b.logger.Info("message bus started")

	go func() {
		select {
		case <-ctx.Done():
			_ = b.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// Stop evicts every subscriber without notice and waits for all room
// actors to exit.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBusNotRunning
	}
	b.running = false
	close(b.stopCh)
	rooms := make([]*room, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	b.mu.Unlock()

	for _, r := range rooms {
		b.send(r, func(r *room) bool {
			b.evictAll(r, nil)
			return true
		})
	}
	b.wg.Wait()

	b.logger.Info("message bus stopped")
	return nil
}

// Subscribe registers sink with roomID and tells every other subscriber
// that the handle joined. Subscribing a handle that is already a member
// returns its existing id without a second notice.
func (b *Bus) Subscribe(ctx context.Context, roomID string, sink interfaces.Sink) (SubscriptionID, error) {
	return b.SubscribeWith(ctx, roomID, sink, nil)
}

// SubscribeWith is Subscribe with onJoin run first inside the room actor.
// Events onJoin hands to the sink precede every later room delivery.
func (b *Bus) SubscribeWith(ctx context.Context, roomID string, sink interfaces.Sink, onJoin JoinFunc) (SubscriptionID, error) {
	var (
		subID   SubscriptionID
		joinErr error
	)
	err := b.do(ctx, roomID, true, func(r *room) bool {
		handle := sink.Handle()
		for _, sub := range r.subs {
			if sub.sink.Handle() == handle {
				if onJoin != nil {
					if joinErr = onJoin(sub.id); joinErr != nil {
						return false
					}
				}
				sub.sink = sink
				subID = sub.id
				return false
			}
		}

		id := SubscriptionID(uuid.NewString())
		if onJoin != nil {
			if joinErr = onJoin(id); joinErr != nil {
				return len(r.subs) == 0
			}
		}

		joined := types.Event{
			Name: types.EventUserJoined,
			Data: types.UserJoined{ParticipantHandle: handle, Timestamp: b.now().UTC()},
		}
		b.broadcast(r, joined, handle)

		subID = id
		r.subs = append(r.subs, &subscriber{id: subID, sink: sink})
		b.subscribers.Add(1)
		b.logger.Debug("subscribed", "room", roomID, "handle", handle, "subscription", subID)
		return false
	})
	if err != nil {
		return "", err
	}
	if joinErr != nil {
		return "", joinErr
	}
	return subID, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(roomID string, subID SubscriptionID) {
	b.remove(roomID, func(sub *subscriber) bool { return sub.id == subID })
}

// UnsubscribeHandle removes the subscription held by handle, if any.
func (b *Bus) UnsubscribeHandle(roomID, handle string) {
	b.remove(roomID, func(sub *subscriber) bool { return sub.sink.Handle() == handle })
}

func (b *Bus) remove(roomID string, match func(*subscriber) bool) {
	_ = b.do(context.Background(), roomID, false, func(r *room) bool {
		for i, sub := range r.subs {
			if match(sub) {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				b.subscribers.Add(-1)
				b.logger.Debug("unsubscribed", "room", roomID, "handle", sub.sink.Handle())
				break
			}
		}
		return len(r.subs) == 0
	})
}

// Publish appends msg to the transcript and then delivers the stored record
// to every subscriber of the room in accept order. When the append fails
// nothing is delivered. Once accepted by the room, the append is not
// cancelled by ctx.
func (b *Bus) Publish(ctx context.Context, roomID string, msg *types.Message) (*types.Message, error) {
	var (
		stored    *types.Message
		appendErr error
	)
	err := b.do(ctx, roomID, true, func(r *room) bool {
		stored, appendErr = b.store.AppendMessage(context.WithoutCancel(ctx), msg)
		if appendErr != nil {
			return len(r.subs) == 0
		}
		b.broadcast(r, types.Event{Name: types.EventNewMessage, Data: stored}, "")
		return len(r.subs) == 0
	})
	if err != nil {
		return nil, err
	}
	if appendErr != nil {
		b.logger.Warn("publish rejected by transcript store", "room", roomID, "session", msg.SessionID, "error", appendErr)
		return nil, appendErr
	}
	return stored, nil
}

// Signal delivers a transient event to every subscriber except senderHandle.
// Nothing is persisted.
func (b *Bus) Signal(roomID, senderHandle string, event types.Event) error {
	return b.do(context.Background(), roomID, false, func(r *room) bool {
		b.broadcast(r, event, senderHandle)
		return len(r.subs) == 0
	})
}

// Teardown closes the room. Current subscribers receive notice and are
// evicted before Teardown returns; operations in the following retention
// window fail with ErrRoomClosed. Callers keep terminal sessions out of the
// bus after that.
func (b *Bus) Teardown(roomID string, notice types.Event) {
	b.mu.Lock()
	now := b.now()
	b.pruneClosed(now)
	b.closed[roomID] = now
	r := b.rooms[roomID]
	b.mu.Unlock()

	if r == nil {
		return
	}
	b.send(r, func(r *room) bool {
		b.evictAll(r, &notice)
		return true
	})
	b.logger.Info("room torn down", "room", roomID, "notice", notice.Name)
}

// Members returns the handles currently subscribed to roomID.
func (b *Bus) Members(roomID string) []string {
	var handles []string
	_ = b.do(context.Background(), roomID, false, func(r *room) bool {
		handles = make([]string, 0, len(r.subs))
		for _, sub := range r.subs {
			handles = append(handles, sub.sink.Handle())
		}
		return len(r.subs) == 0
	})
	return handles
}

// IsClosed reports whether roomID was torn down within the retention window.
func (b *Bus) IsClosed(roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isClosed(roomID)
}

func (b *Bus) isClosed(roomID string) bool {
	closedAt, ok := b.closed[roomID]
	return ok && b.now().Sub(closedAt) < b.retention
}

// pruneClosed drops expired tombstones. b.mu must be held.
func (b *Bus) pruneClosed(now time.Time) {
	for roomID, closedAt := range b.closed {
		if now.Sub(closedAt) >= b.retention {
			delete(b.closed, roomID)
		}
	}
}

// Stats returns current occupancy.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneClosed(b.now())
	return Stats{
		Rooms:       len(b.rooms),
		Subscribers: b.subscribers.Load(),
		ClosedRooms: len(b.closed),
	}
}

// do runs op inside the room actor and waits for it. With create set a
// missing room is started; otherwise a missing room makes do a no-op.
func (b *Bus) do(ctx context.Context, roomID string, create bool, op roomOp) error {
	for {
		r, err := b.lookup(roomID, create)
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}

		finished := make(chan struct{})
		wrapped := func(r *room) bool {
			defer close(finished)
			return op(r)
		}

		select {
		case r.ops <- wrapped:
			<-finished
			return nil
		case <-r.done:
			// released between lookup and send; look up again
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// send delivers op to a specific actor, skipping it if the actor is gone.
func (b *Bus) send(r *room, op roomOp) {
	finished := make(chan struct{})
	select {
	case r.ops <- func(r *room) bool {
		defer close(finished)
		return op(r)
	}:
		<-finished
	case <-r.done:
	}
}

func (b *Bus) lookup(roomID string, create bool) (*room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil, ErrBusNotRunning
	}
	if b.isClosed(roomID) {
		return nil, ErrRoomClosed
	}
	r := b.rooms[roomID]
	if r == nil && create {
		r = &room{
			id:   roomID,
			ops:  make(chan roomOp),
			done: make(chan struct{}),
		}
		b.rooms[roomID] = r
		b.wg.Add(1)
		go b.run(r)
	}
	return r, nil
}

func (b *Bus) run(r *room) {
	defer b.wg.Done()
	for op := range r.ops {
		if op(r) {
			b.release(r)
			return
		}
	}
}

func (b *Bus) release(r *room) {
	b.mu.Lock()
	if b.rooms[r.id] == r {
		delete(b.rooms, r.id)
	}
	close(r.done)
	b.mu.Unlock()
}

// broadcast delivers event to every subscriber except the one holding
// skipHandle. Sinks that refuse delivery are evicted and closed.
func (b *Bus) broadcast(r *room, event types.Event, skipHandle string) {
	kept := r.subs[:0]
	for _, sub := range r.subs {
		if skipHandle != "" && sub.sink.Handle() == skipHandle {
			kept = append(kept, sub)
			continue
		}
		if sub.sink.Deliver(event) {
			kept = append(kept, sub)
			continue
		}
		b.subscribers.Add(-1)
		b.logger.Warn("evicting slow subscriber", "room", r.id, "handle", sub.sink.Handle(), "event", event.Name)
		if err := sub.sink.Close(); err != nil {
			b.logger.Debug("closing evicted sink failed", "handle", sub.sink.Handle(), "error", err)
		}
	}
	clear(r.subs[len(kept):])
	r.subs = kept
}

func (b *Bus) evictAll(r *room, notice *types.Event) {
	for _, sub := range r.subs {
		if notice != nil && !sub.sink.Deliver(*notice) {
			b.logger.Debug("room notice dropped", "room", r.id, "handle", sub.sink.Handle())
		}
	}
	b.subscribers.Add(-int64(len(r.subs)))
	r.subs = nil
}

package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

var _ interfaces.Sink = (*Connection)(nil)

// Connection wraps one websocket. All writes, pings included, go through a
// single writer goroutine fed by a bounded queue.
type Connection struct {
	conn          *websocket.Conn
	handle        string
	participantID string
	name          string
	opts          Options
	logger        *slog.Logger

	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	limiter   *rate.Limiter

	mu     sync.Mutex
	joined map[string]struct{}
}

// NewConnection wraps conn for participantID and starts its writer. The
// handle is unique per connection.
func NewConnection(conn *websocket.Conn, participantID, name string, opts Options, logger *slog.Logger) *Connection {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	handle := participantID + "-" + uuid.NewString()[:8]

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:          conn,
		handle:        handle,
		participantID: participantID,
		name:          name,
		opts:          opts,
		logger:        logger.With("handle", handle),
		writeCh:       make(chan []byte, opts.WriteQueueSize),
		ctx:           ctx,
		cancel:        cancel,
		limiter:       newMessageLimiter(opts.MessagesPerMinute),
		joined:        make(map[string]struct{}),
	}

	go c.writeLoop()
	return c
}

// Handle returns the connection-scoped participant handle.
func (c *Connection) Handle() string { return c.handle }

// ParticipantID returns the id supplied when the socket was opened.
func (c *Connection) ParticipantID() string { return c.participantID }

// Name returns the display name supplied when the socket was opened.
func (c *Connection) Name() string { return c.name }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Deliver queues event without blocking. It returns false when the queue is
// full or the connection is closed.
func (c *Connection) Deliver(event types.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("dropping unencodable event", "event", event.Name, "error", err)
		return true
	}

	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.writeCh <- data:
		return true
	default:
		return false
	}
}

// WriteJSON queues v for the sender, waiting up to the write deadline for
// room in the queue. Used for replies and history replay.
func (c *Connection) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.opts.WriteWait)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Connection) allow() bool {
	return c.limiter.Allow()
}

func (c *Connection) markJoined(sessionID string) {
	c.mu.Lock()
	c.joined[sessionID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) markLeft(sessionID string) {
	c.mu.Lock()
	delete(c.joined, sessionID)
	c.mu.Unlock()
}

// JoinedSessions returns the sessions this connection is currently in.
func (c *Connection) JoinedSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	return ids
}

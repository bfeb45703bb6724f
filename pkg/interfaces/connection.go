//go:generate go run go.uber.org/mock/mockgen -source=connection.go -destination=../../internal/mocks/mock_connection.go -package=mocks

package interfaces

import "discussionhub/pkg/types"

// Sink is a delivery target registered with a room: one participant handle.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Handle returns the connection-scoped participant handle.
	Handle() string

	// Deliver enqueues an event without blocking. It returns false when the
	// sink cannot accept it (queue full or closed); the bus then evicts it.
	Deliver(event types.Event) bool

	// Close releases the sink. Safe to call more than once.
	Close() error
}

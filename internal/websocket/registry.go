package websocket

import (
	"sync"
)

// Stats summarizes live connections.
type Stats struct {
	Connections  int `json:"connections"`
	Participants int `json:"participants"`
}

// Registry tracks live connections by handle and by participant. A
// participant may hold several connections at once.
type Registry struct {
	mu            sync.RWMutex
	connections   map[string]*Connection
	byParticipant map[string]map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections:   make(map[string]*Connection),
		byParticipant: make(map[string]map[string]*Connection),
	}
}

// Register adds conn.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.Handle()] = conn
	set := r.byParticipant[conn.ParticipantID()]
	if set == nil {
		set = make(map[string]*Connection)
		r.byParticipant[conn.ParticipantID()] = set
	}
	set[conn.Handle()] = conn
	return nil
}

// Unregister removes conn. Only the exact instance registered under its
// handle is removed; repeated calls are no-ops.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.connections[conn.Handle()]; !ok || registered != conn {
		return
	}
	delete(r.connections, conn.Handle())

	if set, ok := r.byParticipant[conn.ParticipantID()]; ok {
		delete(set, conn.Handle())
		if len(set) == 0 {
			delete(r.byParticipant, conn.ParticipantID())
		}
	}
}

// Get returns the connection holding handle.
func (r *Registry) Get(handle string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[handle]
	return conn, ok
}

// ParticipantConnections returns every live connection of participantID.
func (r *Registry) ParticipantConnections(participantID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byParticipant[participantID]
	conns := make([]*Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Stats returns current counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections:  len(r.connections),
		Participants: len(r.byParticipant),
	}
}

// CloseAll closes every registered connection. Their read loops unregister
// them as they exit.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

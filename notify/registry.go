package notify

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrConnClosed is returned by Send after the connection has been closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrBufferFull is returned by Send when the client is not draining its
	// buffer. The caller should treat the peer as gone and unregister it.
	ErrBufferFull = errors.New("connection buffer full")
)

// Conn is a single live delivery channel to one client device. Payloads
// are handed off through a bounded buffer; the HTTP layer drains C and
// writes frames to the wire.
type Conn struct {
	userID string
	id     string
	ch     chan []byte

	mu     sync.Mutex
	closed bool
}

// NewConn creates a connection for the given user with the given buffer size.
func NewConn(userID string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 10
	}
	return &Conn{
		userID: userID,
		id:     uuid.NewString(),
		ch:     make(chan []byte, buffer),
	}
}

// ID returns the unique connection identifier.
func (c *Conn) ID() string { return c.id }

// UserID returns the identity the connection was opened for.
func (c *Conn) UserID() string { return c.userID }

// C is the receive side consumed by the streaming handler.
func (c *Conn) C() <-chan []byte { return c.ch }

// Send hands a payload to the connection without blocking. A full buffer
// means the peer stopped reading; the caller must unregister the connection
// rather than queue indefinitely.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.ch <- payload:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close marks the connection dead and releases its buffer. Safe to call twice.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Registry is the process-wide directory of live connections keyed by user.
// State lives only in memory; after a restart clients reconnect and the map
// is rebuilt from empty.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]map[string]*Conn
	byConn map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: map[string]map[string]*Conn{},
		byConn: map[string]string{},
	}
}

// Register adds a connection and returns its id. Registering the same
// connection twice is a no-op.
func (r *Registry) Register(c *Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byUser[c.userID] == nil {
		r.byUser[c.userID] = make(map[string]*Conn)
	}
	r.byUser[c.userID][c.id] = c
	r.byConn[c.id] = c.userID
	return c.id
}

// Unregister removes and closes a connection. Unknown ids are ignored so
// duplicate disconnect signals are harmless.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	userID, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, connID)
	conns := r.byUser[userID]
	c := conns[connID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Connections returns a snapshot of the live connections for a user. An
// empty result just means no device is online.
func (r *Registry) Connections(userID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Len reports the number of registered connections across all users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}

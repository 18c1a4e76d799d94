// Package hub tracks gateway connections and binds them to session topics on
// the message bus.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/guiIerme/JobFinder-sub003/internal/bus"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/protocol"
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SendBufferSize is the number of frames a connection may have queued.
const SendBufferSize = 64

// Connection represents a single WebSocket connection.
type Connection struct {
	ID       string
	Identity string
	Conn     *websocket.Conn
	Send     chan []byte

	sessionID atomic.Value
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// SessionID returns the bound session.
func (c *Connection) SessionID() string {
	id, _ := c.sessionID.Load().(string)
	return id
}

// State returns the lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// SetState moves the connection to s.
func (c *Connection) SetState(s State) { c.state.Store(int32(s)) }

// Done is closed once the connection is unregistered.
func (c *Connection) Done() <-chan struct{} { return c.done }

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteControl writes a control frame such as a close message.
func (c *Connection) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(messageType, data, deadline)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Metrics receives the connection count.
type Metrics interface {
	ConnectionsChanged(n int)
}

type sessionGroup struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	cancel context.CancelFunc
}

func (g *sessionGroup) deliver(frame []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, conn := range g.conns {
		select {
		case <-conn.done:
			continue
		default:
		}
		select {
		case conn.Send <- frame:
		default:
			logging.Warn().Str("conn_id", conn.ID).Str("session_id", conn.SessionID()).
				Msg("connection buffer full, closing")
			go conn.Close()
		}
	}
}

// Hub manages all WebSocket connections.
type Hub struct {
	ctx     context.Context
	bus     *bus.Bus
	metrics Metrics

	mu          sync.RWMutex
	connections map[string]*Connection
	sessions    map[string]*sessionGroup
}

// NewHub creates a hub publishing through b. Subscriptions end when ctx is
// done. metrics may be nil.
func NewHub(ctx context.Context, b *bus.Bus, metrics Metrics) *Hub {
	return &Hub{
		ctx:         ctx,
		bus:         b,
		metrics:     metrics,
		connections: make(map[string]*Connection),
		sessions:    make(map[string]*sessionGroup),
	}
}

// NewConnection wraps ws in a connection in the connecting state.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, SendBufferSize),
		done: make(chan struct{}),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	n := len(h.connections)
	h.mu.Unlock()
	h.reportConnections(n)
}

// Unregister removes the connection from the hub and its session topic. It
// is safe to call more than once.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	if _, ok := h.connections[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, conn.ID)
	h.unbindLocked(conn)
	n := len(h.connections)
	h.mu.Unlock()

	conn.SetState(StateClosed)
	conn.closeOnce.Do(func() { close(conn.done) })
	h.reportConnections(n)
	logging.Debug().Str("conn_id", conn.ID).Msg("connection unregistered")
}

// BindSession binds a connection to a session, subscribing the hub to the
// session topic when this is its first local connection.
func (h *Hub) BindSession(conn *Connection, sessionID string) error {
	h.mu.Lock()
	if conn.SessionID() == sessionID {
		h.mu.Unlock()
		return nil
	}
	h.unbindLocked(conn)

	g, ok := h.sessions[sessionID]
	if !ok {
		ctx, cancel := context.WithCancel(h.ctx)
		g = &sessionGroup{conns: make(map[string]*Connection), cancel: cancel}
		h.sessions[sessionID] = g
		defer func() {
			if err := h.bus.Subscribe(ctx, sessionID, g.deliver); err != nil {
				logging.Error().Err(err).Str("session_id", sessionID).Msg("session subscription failed")
			}
		}()
	}
	g.mu.Lock()
	g.conns[conn.ID] = conn
	g.mu.Unlock()
	conn.sessionID.Store(sessionID)
	h.mu.Unlock()
	return nil
}

// unbindLocked must be called with h.mu held.
func (h *Hub) unbindLocked(conn *Connection) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return
	}
	g, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.conns, conn.ID)
	empty := len(g.conns) == 0
	g.mu.Unlock()
	if empty {
		delete(h.sessions, sessionID)
		g.cancel()
	}
}

// Publish sends frame to every connection bound to sessionID, on any
// instance sharing the bus.
func (h *Hub) Publish(sessionID string, frame *protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return h.bus.Publish(sessionID, data)
}

// BroadcastJSON publishes an arbitrary JSON document to a session.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.bus.Publish(sessionID, data)
}

// SendToConnection queues a message for a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case <-conn.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendFrame queues frame for a specific connection.
func (h *Hub) SendFrame(conn *Connection, frame *protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetSessionCount returns the number of sessions with local connections.
func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HasActiveConnections checks if a session has any local connections.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[sessionID]
	return ok
}

func (h *Hub) reportConnections(n int) {
	if h.metrics != nil {
		h.metrics.ConnectionsChanged(n)
	}
}

var (
	// ErrBufferFull is returned when the send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned when sending to an unregistered connection.
	ErrConnectionClosed = errors.New("connection closed")
)

package relay

import (
	"strings"
	"sync"

	"github.com/orderbus/project/internal/platform/metrics"
)

const (
	RoleCustomer = "customer"
	RoleCashier  = "cashier"
)

// Conn is the relay's view of one socket. Frames are queued on Send and
// written by the connection's own write pump.
type Conn struct {
	ID   string
	Role string
	Send chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

func NewConn(id, role string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 64
	}
	return &Conn{
		ID:   id,
		Role: role,
		Send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Done is closed once the connection is unregistered.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Deliver queues a frame without blocking. It reports false when the queue is
// full or the connection is gone.
func (c *Conn) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Registry tracks live connections and table rooms. Rooms are created on first
// join and are never removed, only emptied.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]*Conn
	rooms       map[string]map[string]struct{}
	memberships map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:       map[string]*Conn{},
		rooms:       map[string]map[string]struct{}{},
		memberships: map[string]map[string]struct{}{},
	}
}

func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	_, existed := r.conns[conn.ID]
	r.conns[conn.ID] = conn
	r.mu.Unlock()
	if !existed {
		metrics.OpenConnections.Inc()
	}
}

// Unregister removes the connection from every room and signals Done.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	current, ok := r.conns[conn.ID]
	if ok && current == conn {
		delete(r.conns, conn.ID)
		for table := range r.memberships[conn.ID] {
			delete(r.rooms[table], conn.ID)
		}
		delete(r.memberships, conn.ID)
	}
	r.mu.Unlock()

	conn.shutdown()
	if ok && current == conn {
		metrics.OpenConnections.Dec()
	}
}

// Join adds a connection to a table room. It returns false for unknown
// connections and blank labels; repeated joins are no-ops.
func (r *Registry) Join(connID, tableNumber string) bool {
	tableNumber = strings.TrimSpace(tableNumber)
	if tableNumber == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	room, ok := r.rooms[tableNumber]
	if !ok {
		room = map[string]struct{}{}
		r.rooms[tableNumber] = room
	}
	room[connID] = struct{}{}

	joined, ok := r.memberships[connID]
	if !ok {
		joined = map[string]struct{}{}
		r.memberships[connID] = joined
	}
	joined[tableNumber] = struct{}{}
	return true
}

func (r *Registry) Everyone() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) Cashiers() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0)
	for _, conn := range r.conns {
		if conn.Role == RoleCashier {
			out = append(out, conn)
		}
	}
	return out
}

// Room returns a snapshot of the room's members; an unknown room is empty.
func (r *Registry) Room(tableNumber string) []*Conn {
	tableNumber = strings.TrimSpace(tableNumber)
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[tableNumber]
	out := make([]*Conn, 0, len(room))
	for id := range room {
		if conn, ok := r.conns[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

func (r *Registry) RoomSize(tableNumber string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[strings.TrimSpace(tableNumber)])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// deliverAll sends one frame to every connection in the snapshot and returns how
// many accepted it.
func deliverAll(event string, frame []byte, conns []*Conn) int {
	delivered := 0
	for _, conn := range conns {
		if conn.Deliver(frame) {
			delivered++
			metrics.FramesDelivered.WithLabelValues(event).Inc()
			continue
		}
		metrics.FramesDropped.WithLabelValues(event).Inc()
	}
	return delivered
}

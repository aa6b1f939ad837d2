package hub

import (
	"crypto/sha1"
	"encoding/binary"
	"sync"
	"time"

	"RoastMedia/internal/event"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

// Conn is one live device connection for a user. *Client implements it; the
// interface exists so registry and handler logic can be exercised without a
// real socket behind it.
type Conn interface {
	ID() string
	UserID() string
	ActiveConversation() string
	SetActiveConversation(conversationID string)
	SafeSend(ev event.WsEvent, timeout time.Duration) bool
	Close()
}

type userBucket struct {
	sync.RWMutex
	users map[string]map[string]Conn // userID -> connID -> conn
}

// Registry maps user ids to their live connection handles. A user is online
// iff they have at least one registered connection. Purely in-memory; no
// operation here suspends or touches the network.
type Registry struct {
	shards [shardCount]*userBucket
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := 0; i < shardCount; i++ {
		r.shards[i] = &userBucket{
			users: make(map[string]map[string]Conn),
		}
	}
	return r
}

func getShard(userID string) uint32 {
	if userID == "" {
		return 0
	}
	h := sha1.Sum([]byte(userID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

// Add registers a connection and reports whether it is the user's first live
// connection (the moment the user comes online).
func (r *Registry) Add(userID string, c Conn) (first bool) {
	b := r.shards[getShard(userID)]
	b.Lock()
	defer b.Unlock()

	conns, ok := b.users[userID]
	if !ok {
		conns = make(map[string]Conn)
		b.users[userID] = conns
	}
	conns[c.ID()] = c
	return len(conns) == 1
}

// Remove deregisters one connection and reports whether the user's
// connection set became empty (the moment the user goes offline). Removing
// an unknown handle is a benign no-op.
func (r *Registry) Remove(userID, connID string) (last bool) {
	b := r.shards[getShard(userID)]
	b.Lock()
	defer b.Unlock()

	conns, ok := b.users[userID]
	if !ok {
		return false
	}
	if _, exists := conns[connID]; !exists {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(b.users, userID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	b := r.shards[getShard(userID)]
	b.RLock()
	defer b.RUnlock()
	return len(b.users[userID]) > 0
}

// ConnsFor returns a snapshot of the user's live connections. Callers push
// to the handles outside the registry lock.
func (r *Registry) ConnsFor(userID string) []Conn {
	b := r.shards[getShard(userID)]
	b.RLock()
	defer b.RUnlock()

	conns, ok := b.users[userID]
	if !ok || len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// HasActiveViewer reports whether any of the user's devices currently has
// the given conversation open. Drives unread accounting on message arrival.
func (r *Registry) HasActiveViewer(userID, conversationID string) bool {
	if conversationID == "" {
		return false
	}
	b := r.shards[getShard(userID)]
	b.RLock()
	defer b.RUnlock()

	for _, c := range b.users[userID] {
		if c.ActiveConversation() == conversationID {
			return true
		}
	}
	return false
}

// CountUsers returns the number of users with at least one connection.
func (r *Registry) CountUsers() int {
	total := 0
	for _, b := range r.shards {
		b.RLock()
		total += len(b.users)
		b.RUnlock()
	}
	return total
}

// CountConns returns the total number of live connections.
func (r *Registry) CountConns() int {
	total := 0
	for _, b := range r.shards {
		b.RLock()
		for _, conns := range b.users {
			total += len(conns)
		}
		b.RUnlock()
	}
	return total
}

// ForEachConn visits a snapshot of every registered connection.
func (r *Registry) ForEachConn(fn func(userID string, c Conn)) {
	type entry struct {
		userID string
		conn   Conn
	}
	var snapshot []entry
	for _, b := range r.shards {
		b.RLock()
		for userID, conns := range b.users {
			for _, c := range conns {
				snapshot = append(snapshot, entry{userID, c})
			}
		}
		b.RUnlock()
	}
	for _, e := range snapshot {
		fn(e.userID, e.conn)
	}
}

// CloseAll closes every registered connection; used at shutdown.
func (r *Registry) CloseAll() {
	r.ForEachConn(func(_ string, c Conn) {
		c.Close()
	})
}

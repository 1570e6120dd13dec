// Package realtime tracks live client connections per identity and fans
// note change events out to them.
package realtime

import (
	"errors"
	"hash/fnv"
	"sync"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Conn is one live connection. Send must not block.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // identity -> connection id -> conn
}

// Registry maps identities to their live connections. Rooms are spread over
// shards so joins and leaves for different identities rarely contend.
type Registry struct {
	shards [shardCount]*shard
	// connection id -> identity
	index sync.Map
	// Serializes membership changes of one connection so the index and
	// its room always agree.
	connLocks [shardCount]sync.Mutex
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{rooms: make(map[string]map[string]Conn)}
	}
	return r
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

func (r *Registry) shardFor(identityID string) *shard {
	return r.shards[shardIndex(identityID)]
}

func (r *Registry) lockConn(connID string) func() {
	mu := &r.connLocks[shardIndex(connID)]
	mu.Lock()
	return mu.Unlock
}

// Join puts conn in the room of identityID. A connection is in at most one
// room; joining under a different identity moves it.
func (r *Registry) Join(conn Conn, identityID string) {
	id := conn.ID()
	defer r.lockConn(id)()

	if prev, loaded := r.index.Load(id); loaded && prev.(string) != identityID {
		r.removeFromRoom(prev.(string), id)
	}

	s := r.shardFor(identityID)
	s.mu.Lock()
	room, ok := s.rooms[identityID]
	if !ok {
		room = make(map[string]Conn)
		s.rooms[identityID] = room
	}
	room[id] = conn
	s.mu.Unlock()
	r.index.Store(id, identityID)
}

// Leave removes the connection from its room. Unknown ids are ignored.
func (r *Registry) Leave(connID string) {
	defer r.lockConn(connID)()
	identityID, ok := r.index.LoadAndDelete(connID)
	if !ok {
		return
	}
	r.removeFromRoom(identityID.(string), connID)
}

func (r *Registry) removeFromRoom(identityID, connID string) {
	s := r.shardFor(identityID)
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[identityID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(s.rooms, identityID)
	}
}

// MembersOf returns a snapshot of the connections joined under identityID.
// Members may disconnect before the caller uses them.
func (r *Registry) MembersOf(identityID string) []Conn {
	s := r.shardFor(identityID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.rooms[identityID]
	members := make([]Conn, 0, len(room))
	for _, conn := range room {
		members = append(members, conn)
	}
	return members
}

func (r *Registry) RoomSize(identityID string) int {
	s := r.shardFor(identityID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[identityID])
}

// IdentityOf reports the room a connection is joined to.
func (r *Registry) IdentityOf(connID string) (string, bool) {
	identityID, ok := r.index.Load(connID)
	if !ok {
		return "", false
	}
	return identityID.(string), true
}

// Len is the number of joined connections across all rooms.
func (r *Registry) Len() int {
	n := 0
	r.index.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

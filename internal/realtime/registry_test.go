package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	err    error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func memberIDs(conns []Conn) []string {
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.ID())
	}
	return ids
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c1")
	r.Join(c, "alice")
	r.Join(c, "alice")

	assert.Equal(t, 1, r.RoomSize("alice"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRejoinMovesConnection(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c1")
	r.Join(c, "alice")
	r.Join(c, "bob")

	assert.Empty(t, r.MembersOf("alice"))
	assert.Equal(t, []string{"c1"}, memberIDs(r.MembersOf("bob")))
	identity, ok := r.IdentityOf("c1")
	require.True(t, ok)
	assert.Equal(t, "bob", identity)
}

func TestRegistryLeave(t *testing.T) {
	r := NewRegistry()
	r.Join(newFakeConn("c1"), "alice")
	r.Join(newFakeConn("c2"), "alice")

	r.Leave("c1")
	assert.Equal(t, []string{"c2"}, memberIDs(r.MembersOf("alice")))

	// unknown and repeated leaves are no-ops
	r.Leave("c1")
	r.Leave("nope")
	assert.Equal(t, 1, r.RoomSize("alice"))

	r.Leave("c2")
	assert.Equal(t, 0, r.RoomSize("alice"))
	assert.Equal(t, 0, r.Len())
	_, ok := r.IdentityOf("c2")
	assert.False(t, ok)
}

func TestRegistryMembersOfIsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Join(newFakeConn("c1"), "alice")
	members := r.MembersOf("alice")
	r.Leave("c1")
	assert.Len(t, members, 1)
	assert.Empty(t, r.MembersOf("alice"))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := fmt.Sprintf("user-%d", i%4)
			for j := 0; j < 100; j++ {
				conn := newFakeConn(fmt.Sprintf("c-%d-%d", i, j))
				r.Join(conn, identity)
				d.DeliverLocal(Event{Type: EventNoteUpdated, IdentityID: identity, Payload: j})
				r.Leave(conn.ID())
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, r.RoomSize(fmt.Sprintf("user-%d", i)))
	}
}

func TestRegistryConcurrentRejoinKeepsOneRoom(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 500; i++ {
		conn := newFakeConn(fmt.Sprintf("c-%d", i))
		var wg sync.WaitGroup
		for _, identity := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(identity string) {
				defer wg.Done()
				r.Join(conn, identity)
			}(identity)
		}
		wg.Wait()

		owner, ok := r.IdentityOf(conn.ID())
		require.True(t, ok)
		rooms := 0
		for _, identity := range []string{"alice", "bob"} {
			if containsConn(r.MembersOf(identity), conn.ID()) {
				rooms++
				assert.Equal(t, owner, identity)
			}
		}
		require.Equal(t, 1, rooms, "connection %s must sit in exactly one room", conn.ID())
		r.Leave(conn.ID())
	}
	assert.Equal(t, 0, r.Len())
}

func containsConn(conns []Conn, id string) bool {
	for _, c := range conns {
		if c.ID() == id {
			return true
		}
	}
	return false
}

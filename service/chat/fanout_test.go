package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *ConnManager, *RoomRegistry) {
	conns := NewConnManager(ManagerConf{SweepEvery: time.Hour}, nil)
	t.Cleanup(conns.Close)
	rooms := NewRoomRegistry()
	return NewBroadcaster(conns, rooms), conns, rooms
}

func addConn(t *testing.T, m *ConnManager, id string, userID int64, queue int) *WsConn {
	c := NewWsConn(id, "", queue, nil)
	require.NoError(t, m.Add(User{ID: userID}, c))
	return c
}

func TestBroadcastToRoomExcludesSender(t *testing.T) {
	bc, conns, rooms := newTestBroadcaster(t)
	a1 := addConn(t, conns, "a1", 1, 4)
	a2 := addConn(t, conns, "a2", 1, 4)
	b := addConn(t, conns, "b", 2, 4)
	c := addConn(t, conns, "c", 3, 4)
	rooms.Join(1, 9)
	rooms.Join(2, 9)

	n := bc.BroadcastToRoom(9, PongFrame(time.Now()), 1)
	assert.Equal(t, 1, n)
	assert.Len(t, drain(t, b), 1)
	assert.Empty(t, drain(t, a1))
	assert.Empty(t, drain(t, a2))
	assert.Empty(t, drain(t, c), "not a member")

	n = bc.BroadcastToRoom(9, PongFrame(time.Now()), NoExclude)
	assert.Equal(t, 3, n, "every connection of every member")
}

func TestBroadcastSkipsFullAndClosed(t *testing.T) {
	bc, conns, rooms := newTestBroadcaster(t)
	full := addConn(t, conns, "full", 1, 1)
	dead := addConn(t, conns, "dead", 2, 4)
	ok := addConn(t, conns, "ok", 3, 4)
	for _, u := range []int64{1, 2, 3} {
		rooms.Join(u, 9)
	}
	require.True(t, full.Enqueue([]byte("{}")))
	dead.Close()

	n := bc.BroadcastToRoom(9, PongFrame(time.Now()), NoExclude)
	assert.Equal(t, 1, n)
	assert.Len(t, drain(t, ok), 1)
	assert.Len(t, drain(t, full), 1, "only the frame queued before")
}

func TestBroadcastAllAndSendTo(t *testing.T) {
	bc, conns, _ := newTestBroadcaster(t)
	a := addConn(t, conns, "a", 1, 4)
	b := addConn(t, conns, "b", 2, 4)

	assert.Equal(t, 1, bc.BroadcastAll(UserStatusFrame(User{ID: 1}, true), 1))
	assert.Empty(t, drain(t, a))
	frames := drain(t, b)
	require.Len(t, frames, 1)
	assert.Equal(t, TypeUserStatusChange, frames[0].Type)

	assert.True(t, bc.SendTo(a, PongFrame(time.Now())))
	a.Close()
	assert.False(t, bc.SendTo(a, PongFrame(time.Now())))
}

func TestBroadcastToEmptyRoom(t *testing.T) {
	bc, _, _ := newTestBroadcaster(t)
	assert.Equal(t, 0, bc.BroadcastToRoom(42, PongFrame(time.Now()), NoExclude))
}

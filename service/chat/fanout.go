package chat

import (
	"RoomGate/logger"

	"go.uber.org/zap"
)

// NoExclude disables the exclusion in a broadcast. Real user ids are
// positive.
const NoExclude int64 = 0

// Broadcaster fans one event out to live connections. A recipient whose
// queue is full or whose transport is gone is skipped; its own read loop
// will run the disconnect cleanup.
type Broadcaster struct {
	conns *ConnManager
	rooms *RoomRegistry
}

func NewBroadcaster(conns *ConnManager, rooms *RoomRegistry) *Broadcaster {
	return &Broadcaster{conns: conns, rooms: rooms}
}

// BroadcastToRoom delivers f to every connection of every member of roomID
// except those owned by exclude, returning how many connections accepted it.
func (b *Broadcaster) BroadcastToRoom(roomID int64, f OutFrame, exclude int64) int {
	members := b.rooms.MembersOf(roomID)
	if len(members) == 0 {
		return 0
	}
	data, err := f.Encode()
	if err != nil {
		logger.Error("encode broadcast", zap.String("type", f.Type), zap.Error(err))
		return 0
	}
	n := 0
	for _, uid := range members {
		if uid == exclude {
			continue
		}
		n += b.deliver(b.conns.ConnectionsFor(uid), f.Type, data)
	}
	return n
}

// BroadcastAll delivers f to every online user except exclude.
func (b *Broadcaster) BroadcastAll(f OutFrame, exclude int64) int {
	data, err := f.Encode()
	if err != nil {
		logger.Error("encode broadcast", zap.String("type", f.Type), zap.Error(err))
		return 0
	}
	n := 0
	for _, uid := range b.conns.OnlineUsers() {
		if uid == exclude {
			continue
		}
		n += b.deliver(b.conns.ConnectionsFor(uid), f.Type, data)
	}
	return n
}

// SendTo delivers f to a single connection.
func (b *Broadcaster) SendTo(c *WsConn, f OutFrame) bool {
	data, err := f.Encode()
	if err != nil {
		logger.Error("encode reply", zap.String("type", f.Type), zap.Error(err))
		return false
	}
	return b.deliver([]*WsConn{c}, f.Type, data) == 1
}

func (b *Broadcaster) deliver(conns []*WsConn, typ string, data []byte) int {
	n := 0
	for _, c := range conns {
		if c.Enqueue(data) {
			n++
			continue
		}
		logger.Debug("drop frame for dead or slow connection",
			zap.String("conn", c.ID), zap.String("type", typ))
	}
	return n
}

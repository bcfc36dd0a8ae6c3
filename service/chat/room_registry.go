package chat

import (
	"sort"
	"sync"
)

// RoomRegistry is the runtime room membership: who is currently in a room
// for broadcast purposes. Durable authorization is checked before Join by
// the session, never here.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[int64]map[int64]struct{} // room -> users
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[int64]map[int64]struct{})}
}

// Join reports whether userID was newly added.
func (r *RoomRegistry) Join(userID, roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[roomID]
	if members == nil {
		members = make(map[int64]struct{})
		r.rooms[roomID] = members
	}
	if _, ok := members[userID]; ok {
		return false
	}
	members[userID] = struct{}{}
	return true
}

// Leave reports whether userID was a member. Empty rooms are pruned.
func (r *RoomRegistry) Leave(userID, roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[roomID]
	if _, ok := members[userID]; !ok {
		return false
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// MembersOf snapshots a room's members in ascending order.
func (r *RoomRegistry) MembersOf(roomID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]int64, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *RoomRegistry) IsMember(userID, roomID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][userID]
	return ok
}

// Count returns the number of non-empty rooms.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// keyedMutex hands out one mutex per room id and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refMutex)}
}

// Lock blocks until key is held and returns its unlock func.
func (k *keyedMutex) Lock(key int64) (unlock func()) {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

package chat

import (
	"sync"
	"time"
)

const DefaultTypingTTL = 3 * time.Second

// TypingNotify receives every typing transition. It runs outside the
// registry lock but under a per-room lock, so calls for one room arrive in
// transition order and a slow room does not hold up the others.
type TypingNotify func(roomID int64, u User, typing bool)

type typingKey struct {
	room int64
	user int64
}

type typingEntry struct {
	user  User
	timer *time.Timer
	gen   uint64
}

// TypingRegistry tracks who is typing where. Every entry expires after ttl
// unless refreshed; Start replaces the pending timer for the same pair.
type TypingRegistry struct {
	mu      sync.Mutex
	rooms   *keyedMutex // orders notifications per room
	entries map[typingKey]*typingEntry
	gen     uint64
	ttl     time.Duration
	notify  TypingNotify
	closed  bool
}

func NewTypingRegistry(ttl time.Duration, notify TypingNotify) *TypingRegistry {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if notify == nil {
		notify = func(int64, User, bool) {}
	}
	return &TypingRegistry{
		rooms:   newKeyedMutex(),
		entries: make(map[typingKey]*typingEntry),
		ttl:     ttl,
		notify:  notify,
	}
}

func (r *TypingRegistry) Start(u User, roomID int64) {
	key := typingKey{room: roomID, user: u.ID}
	unlockRoom := r.rooms.Lock(roomID)
	defer unlockRoom()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if prev := r.entries[key]; prev != nil {
		prev.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.entries[key] = &typingEntry{
		user:  u,
		gen:   gen,
		timer: time.AfterFunc(r.ttl, func() { r.expire(key, gen) }),
	}
	r.mu.Unlock()

	r.notify(roomID, u, true)
}

// Stop clears the pair and reports whether it was typing. Stopping an
// absent pair does nothing.
func (r *TypingRegistry) Stop(userID, roomID int64) bool {
	key := typingKey{room: roomID, user: userID}
	unlockRoom := r.rooms.Lock(roomID)
	defer unlockRoom()

	r.mu.Lock()
	e := r.entries[key]
	if e == nil {
		r.mu.Unlock()
		return false
	}
	e.timer.Stop()
	delete(r.entries, key)
	r.mu.Unlock()

	r.notify(roomID, e.user, false)
	return true
}

// StopAll stops userID in each of rooms.
func (r *TypingRegistry) StopAll(userID int64, rooms []int64) int {
	n := 0
	for _, roomID := range rooms {
		if r.Stop(userID, roomID) {
			n++
		}
	}
	return n
}

// expire is the timer path. A timer that lost the race against Stop or a
// refreshing Start finds a different generation and does nothing.
func (r *TypingRegistry) expire(key typingKey, gen uint64) {
	unlockRoom := r.rooms.Lock(key.room)
	defer unlockRoom()

	r.mu.Lock()
	e := r.entries[key]
	if e == nil || e.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	r.notify(key.room, e.user, false)
}

func (r *TypingRegistry) IsTyping(userID, roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[typingKey{room: roomID, user: userID}]
	return ok
}

// Typists lists users typing in a room.
func (r *TypingRegistry) Typists(roomID int64) []User {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []User
	for k, e := range r.entries {
		if k.room == roomID {
			out = append(out, e.user)
		}
	}
	return out
}

// Close cancels every pending timer without notifying.
func (r *TypingRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for k, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, k)
	}
}

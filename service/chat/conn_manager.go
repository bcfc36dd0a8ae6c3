package chat

import (
	"sort"
	"sync"
	"time"

	"RoomGate/logger"
	"RoomGate/tools/errs"

	"go.uber.org/zap"
)

// ===== config =====

type ManagerConf struct {
	UnauthTTL   time.Duration    // a connection that never authenticates is closed after this
	AuthTTL     time.Duration    // an authenticated connection without heartbeat is closed after this
	SweepEvery  time.Duration    // sweeper period
	MaxPerUser  int              // <= 0 means unlimited
	EvictOldest bool             // over the cap: evict the oldest connection instead of refusing
	Clock       func() time.Time // nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 60 * time.Second
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = 2 * time.Minute
	}
}

// ===== connection =====

type ConnState int32

const (
	StateConnected ConnState = iota
	StateAuthenticated
)

func (s ConnState) String() string {
	if s == StateAuthenticated {
		return "authenticated"
	}
	return "connected"
}

// WsConn is one live transport. The transport itself stays with the
// reader/writer goroutines; WsConn only exposes a bounded outbound queue
// and a close capability, so registries never touch sockets.
type WsConn struct {
	ID        string
	Remote    string
	CreatedAt time.Time

	mu        sync.Mutex
	state     ConnState
	user      User
	rooms     map[int64]struct{}
	heartbeat time.Time

	send      chan []byte
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	flushOnce sync.Once
	closer    func()
}

func NewWsConn(id, remote string, queueSize int, closer func()) *WsConn {
	if queueSize <= 0 {
		queueSize = 256
	}
	now := time.Now()
	return &WsConn{
		ID:        id,
		Remote:    remote,
		CreatedAt: now,
		heartbeat: now,
		rooms:     make(map[int64]struct{}),
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
		closer:    closer,
	}
}

// Enqueue never blocks; it reports false when the queue is full or the
// connection is closed.
func (c *WsConn) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WsConn) Outbound() <-chan []byte { return c.send }

func (c *WsConn) Done() <-chan struct{} { return c.done }

// Closing is closed once CloseAfterFlush was requested.
func (c *WsConn) Closing() <-chan struct{} { return c.closing }

// Close tears the transport down immediately. Idempotent.
func (c *WsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.closer != nil {
			c.closer()
		}
	})
}

// CloseAfterFlush asks the writer to deliver what is queued and then close.
func (c *WsConn) CloseAfterFlush() {
	c.flushOnce.Do(func() { close(c.closing) })
}

func (c *WsConn) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *WsConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WsConn) Authenticated() bool { return c.State() == StateAuthenticated }

// User returns the bound identity; ok is false before authentication.
func (c *WsConn) User() (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.state == StateAuthenticated
}

// bind moves Connected -> Authenticated. It fails if already bound.
func (c *WsConn) bind(u User) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAuthenticated {
		return false
	}
	c.state = StateAuthenticated
	c.user = u
	return true
}

func (c *WsConn) unbind() {
	c.mu.Lock()
	c.state = StateConnected
	c.user = User{}
	c.mu.Unlock()
}

// joinRoom reports whether the room was newly added to this connection.
func (c *WsConn) joinRoom(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

func (c *WsConn) leaveRoom(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)
	return true
}

func (c *WsConn) HasRoom(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns the joined rooms in ascending order.
func (c *WsConn) Rooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.rooms)
}

// drainRooms empties the joined set and returns what it held.
func (c *WsConn) drainRooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := sortedKeys(c.rooms)
	c.rooms = make(map[int64]struct{})
	return out
}

func (c *WsConn) Touch(now time.Time) {
	c.mu.Lock()
	c.heartbeat = now
	c.mu.Unlock()
}

func (c *WsConn) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeat
}

func sortedKeys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ===== registry =====

// PresenceFunc is called on a user's 0->1 (online) and 1->0 (offline)
// connection count transitions, in transition order.
type PresenceFunc func(u User, online bool)

// ConnManager is the connection registry: every accepted transport is
// tracked by id, authenticated ones additionally by user.
type ConnManager struct {
	// presenceMu serializes registry transitions with their callbacks so
	// an online/offline pair is never observed out of order.
	presenceMu sync.Mutex

	mu     sync.RWMutex
	byID   map[string]*WsConn
	byUser map[int64]map[string]*WsConn
	users  map[int64]User

	conf       ManagerConf
	onPresence PresenceFunc
	stopOnce   sync.Once
	stopCh     chan struct{}
}

func NewConnManager(conf ManagerConf, onPresence PresenceFunc) *ConnManager {
	conf.norm()
	if onPresence == nil {
		onPresence = func(User, bool) {}
	}
	m := &ConnManager{
		byID:       make(map[string]*WsConn),
		byUser:     make(map[int64]map[string]*WsConn),
		users:      make(map[int64]User),
		conf:       conf,
		onPresence: onPresence,
		stopCh:     make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Close stops the sweeper and closes every connection.
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.RLock()
	all := make([]*WsConn, 0, len(m.byID))
	for _, c := range m.byID {
		all = append(all, c)
	}
	m.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
}

// Track registers a freshly accepted, unauthenticated connection so the
// sweeper can expire it.
func (m *ConnManager) Track(c *WsConn) {
	m.mu.Lock()
	m.byID[c.ID] = c
	m.mu.Unlock()
}

// Add binds c to u and indexes it under the user. The first connection of
// a user fires presence-online.
func (m *ConnManager) Add(u User, c *WsConn) error {
	if !c.bind(u) {
		return errs.ErrAlreadyAuthenticated
	}

	m.presenceMu.Lock()
	defer m.presenceMu.Unlock()

	m.mu.Lock()
	if c.IsClosed() {
		m.mu.Unlock()
		c.unbind()
		return errs.ErrAuthFailed.WithDetail("connection closed during authentication")
	}
	var evicted *WsConn
	if m.conf.MaxPerUser > 0 && len(m.byUser[u.ID]) >= m.conf.MaxPerUser {
		if !m.conf.EvictOldest {
			m.mu.Unlock()
			c.unbind()
			return errs.ErrTooManyConnections
		}
		evicted = m.oldestLocked(u.ID)
		// the evicted connection stays indexed until its own cleanup runs
		// Remove; the user therefore never transiently drops to zero.
	}

	mm := m.byUser[u.ID]
	first := len(mm) == 0
	if mm == nil {
		mm = make(map[string]*WsConn)
		m.byUser[u.ID] = mm
	}
	mm[c.ID] = c
	m.byID[c.ID] = c
	m.users[u.ID] = u
	m.mu.Unlock()

	if evicted != nil {
		logger.Info("evicting oldest connection",
			zap.Int64("user", u.ID), zap.String("conn", evicted.ID))
		evicted.Close()
	}
	if first {
		m.onPresence(u, true)
	}
	return nil
}

func (m *ConnManager) oldestLocked(userID int64) *WsConn {
	var oldest *WsConn
	for _, w := range m.byUser[userID] {
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	return oldest
}

// Remove deregisters c. Removing the last connection of a user fires
// presence-offline. Removing an unknown connection is a no-op.
func (m *ConnManager) Remove(c *WsConn) {
	m.presenceMu.Lock()
	defer m.presenceMu.Unlock()

	m.mu.Lock()
	if _, ok := m.byID[c.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byID, c.ID)

	u, authed := c.User()
	last := false
	if authed {
		if mm := m.byUser[u.ID]; mm != nil {
			if _, ok := mm[c.ID]; ok {
				delete(mm, c.ID)
				if len(mm) == 0 {
					delete(m.byUser, u.ID)
					delete(m.users, u.ID)
					last = true
				}
			}
		}
	}
	m.mu.Unlock()

	if last {
		m.onPresence(u, false)
	}
}

// ConnectionsFor snapshots the live connections of a user.
func (m *ConnManager) ConnectionsFor(userID int64) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*WsConn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) IsOnline(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID]) > 0
}

// OnlineUsers lists users with at least one authenticated connection.
func (m *ConnManager) OnlineUsers() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.byUser))
	for id := range m.byUser {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns (tracked connections, online users).
func (m *ConnManager) Count() (conns, users int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), len(m.byUser)
}

// ===== sweeper =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

// sweepOnce closes expired connections. It does not deregister them: the
// connection's own read loop exits on close and runs the normal cleanup.
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn

	m.mu.RLock()
	for _, c := range m.byID {
		ttl := m.conf.UnauthTTL
		if c.Authenticated() {
			ttl = m.conf.AuthTTL
		}
		if now.Sub(c.LastHeartbeat()) > ttl {
			expired = append(expired, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range expired {
		logger.Debug("sweeping idle connection", zap.String("conn", c.ID), zap.Stringer("state", c.State()))
		c.Close()
	}
	return len(expired)
}

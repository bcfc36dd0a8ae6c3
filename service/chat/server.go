package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"RoomGate/logger"
	"RoomGate/tools/errs"
	"RoomGate/tools/safe"

	"go.uber.org/zap"
)

// Conf carries the tunables of the messaging core.
type Conf struct {
	MaxContentLength int           // runes; 2000 when unset
	TypingTTL        time.Duration // 3s when unset
	AuthTimeout      time.Duration // bound on TokenVerifier calls
	StoreTimeout     time.Duration // bound on RoomAccess / MessageStore calls
	SinkTimeout      time.Duration // bound on PresenceSink / EventPublisher calls
	SendQueueSize    int           // outbound frames buffered per connection
	EffectQueue      int           // sink/publisher calls buffered before dropping

	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxFrameBytes  int64
	ReadBufferSize int

	Manager ManagerConf
}

func (c *Conf) norm() {
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 2000
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = DefaultTypingTTL
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 5 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 3 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.EffectQueue <= 0 {
		c.EffectQueue = 1024
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 64 << 10
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
}

// Server owns the three registries and runs the session protocol on top of
// them. All registry mutation goes through its methods.
type Server struct {
	conf Conf
	deps Deps

	conns  *ConnManager
	rooms  *RoomRegistry
	typing *TypingRegistry
	bc     *Broadcaster
	disp   *Dispatcher

	memberLocks *keyedMutex // join/leave bookkeeping per room
	sendLocks   *keyedMutex // persist-then-broadcast per room

	ctx    context.Context
	cancel context.CancelFunc

	effectsMu     sync.RWMutex
	effects       chan effect
	effectsClosed bool
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

func NewServer(conf Conf, deps Deps) (*Server, error) {
	if deps.Verifier == nil || deps.Access == nil || deps.Store == nil {
		return nil, errs.ErrArgs.WithDetail("verifier, room access and message store are required")
	}
	if deps.Presence == nil {
		deps.Presence = nopPresence{}
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	conf.norm()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		conf:        conf,
		deps:        deps,
		rooms:       NewRoomRegistry(),
		disp:        NewDispatcher(),
		memberLocks: newKeyedMutex(),
		sendLocks:   newKeyedMutex(),
		ctx:         ctx,
		cancel:      cancel,
		effects:     make(chan effect, conf.EffectQueue),
	}
	s.conns = NewConnManager(conf.Manager, s.onPresence)
	s.bc = NewBroadcaster(s.conns, s.rooms)
	s.typing = NewTypingRegistry(conf.TypingTTL, s.onTyping)

	s.wg.Add(1)
	safe.Go("side-effects", s.runEffects)
	return s, nil
}

func (s *Server) Conf() Conf                { return s.conf }
func (s *Server) Disp() *Dispatcher         { return s.disp }
func (s *Server) ConnMgr() *ConnManager     { return s.conns }
func (s *Server) Rooms() *RoomRegistry      { return s.rooms }
func (s *Server) Typing() *TypingRegistry   { return s.typing }
func (s *Server) Broadcaster() *Broadcaster { return s.bc }
func (s *Server) Context() context.Context  { return s.ctx }
func (s *Server) NewConn(id, remote string, closer func()) *WsConn {
	c := NewWsConn(id, remote, s.conf.SendQueueSize, closer)
	s.conns.Track(c)
	return c
}

// Close stops accepting work, closes every connection and waits for queued
// side effects to drain.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conns.Close()
		s.typing.Close()

		s.effectsMu.Lock()
		s.effectsClosed = true
		close(s.effects)
		s.effectsMu.Unlock()
	})
	s.wg.Wait()
}

type Stats struct {
	Connections int `json:"connections"`
	OnlineUsers int `json:"onlineUsers"`
	ActiveRooms int `json:"activeRooms"`
}

func (s *Server) Stats() Stats {
	conns, users := s.conns.Count()
	return Stats{Connections: conns, OnlineUsers: users, ActiveRooms: s.rooms.Count()}
}

// ===== frame entry point =====

// HandleFrame parses and dispatches one inbound frame, replying with an
// error event when it is rejected. It returns false when the connection
// must be closed.
func (s *Server) HandleFrame(conn *WsConn, raw []byte) bool {
	cc := &ChatContext{S: s, Conn: conn}

	f, err := ParseFrameJSON(raw)
	if err != nil {
		logger.Debug("bad frame", zap.String("conn", conn.ID), zap.Error(err))
		cc.Reply(ErrorFrame(errs.ErrInvalidFrame.Msg))
		return true
	}

	err = s.disp.Dispatch(s.ctx, cc, f)
	if err == nil {
		return true
	}
	s.replyError(cc, f.Type, err)
	return !errs.IsFatal(err)
}

func (s *Server) replyError(cc *ChatContext, typ string, err error) {
	ce, ok := errs.As(err)
	if !ok {
		ce = errs.ErrInternal
	}
	fields := []zap.Field{zap.String("conn", cc.Conn.ID), zap.String("type", typ), zap.Error(err)}
	if u, ok := cc.Conn.User(); ok {
		fields = append(fields, zap.Int64("user", u.ID))
	}
	if ce.Code >= errs.ErrStoreFailure.Code || errors.Is(err, errs.ErrAuthFailed) {
		logger.Warn("request rejected", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}
	cc.Reply(ErrorFrame(ce.Msg))
}

// ===== side effects =====

// effect is a call to a slow collaborator that must not run on the
// connection's goroutine but must keep its order relative to other effects.
type effect struct {
	name string
	run  func(ctx context.Context) error
}

func (s *Server) enqueueEffect(e effect) {
	s.effectsMu.RLock()
	defer s.effectsMu.RUnlock()
	if s.effectsClosed {
		return
	}
	select {
	case s.effects <- e:
	default:
		logger.Warn("side effect queue full, dropping", zap.String("effect", e.name))
	}
}

func (s *Server) runEffects() {
	defer s.wg.Done()
	for e := range s.effects {
		e := e
		safe.Run(e.name, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.conf.SinkTimeout)
			defer cancel()
			if err := e.run(ctx); err != nil {
				logger.Warn("side effect failed", zap.String("effect", e.name), zap.Error(err))
			}
		})
	}
}

// ===== presence =====

func (s *Server) onPresence(u User, online bool) {
	s.bc.BroadcastAll(UserStatusFrame(u, online), u.ID)

	ev := &PresenceEvent{User: u.Public(), IsOnline: online, At: time.Now().UnixMilli()}
	s.enqueueEffect(effect{name: "presence.sink", run: func(ctx context.Context) error {
		return s.deps.Presence.SetOnline(ctx, ev.User.ID, ev.IsOnline)
	}})
	s.enqueueEffect(effect{name: "presence.publish", run: func(ctx context.Context) error {
		return s.deps.Publisher.Publish(ctx, SubjectPresence, ev)
	}})
}

func (s *Server) onTyping(roomID int64, u User, typing bool) {
	s.bc.BroadcastToRoom(roomID, UserTypingFrame(roomID, u, typing), u.ID)
}

func (s *Server) publishMessage(m *Message) {
	s.enqueueEffect(effect{name: "message.publish", run: func(ctx context.Context) error {
		return s.deps.Publisher.Publish(ctx, SubjectMessageCreated, m)
	}})
}

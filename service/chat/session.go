package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"RoomGate/logger"
	"RoomGate/tools/errs"

	"go.uber.org/zap"
)

// Session protocol. Each method runs on the connection's reader goroutine,
// so events of one connection are handled in receipt order. Registry locks
// are never held across a collaborator call.

// Authenticate moves conn from Connected to Authenticated. Verification
// failures are fatal for the connection.
func (s *Server) Authenticate(ctx context.Context, conn *WsConn, token string) error {
	if conn.Authenticated() {
		return errs.ErrAlreadyAuthenticated
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errs.ErrAuthFailed.WithDetail("empty token")
	}

	vctx, cancel := context.WithTimeout(ctx, s.conf.AuthTimeout)
	user, err := s.deps.Verifier.Verify(vctx, token)
	cancel()
	if err != nil {
		return errs.ErrAuthFailed.Wrap(err)
	}
	if user.ID <= 0 {
		return errs.ErrAuthFailed.WithDetail("token without user id")
	}

	if err := s.conns.Add(user, conn); err != nil {
		return err
	}
	logger.Info("authenticated",
		zap.String("conn", conn.ID), zap.Int64("user", user.ID), zap.String("username", user.Username))
	s.bc.SendTo(conn, AuthSuccessFrame(user))
	return nil
}

func (s *Server) JoinRoom(ctx context.Context, conn *WsConn, roomID int64) error {
	user, ok := conn.User()
	if !ok {
		return errs.ErrAuthRequired
	}
	if roomID <= 0 {
		return errs.ErrInvalidPayload.WithDetail("roomId")
	}
	if err := s.checkAccess(ctx, user.ID, roomID); err != nil {
		return err
	}

	unlock := s.memberLocks.Lock(roomID)
	fresh := conn.joinRoom(roomID)
	added := false
	if fresh {
		added = s.rooms.Join(user.ID, roomID)
	}
	unlock()

	s.bc.SendTo(conn, RoomJoinedFrame(roomID))
	if added {
		s.bc.BroadcastToRoom(roomID, UserJoinedRoomFrame(roomID, user), user.ID)
	}
	logger.Debug("join room", zap.Int64("user", user.ID), zap.Int64("room", roomID), zap.Bool("firstConn", added))
	return nil
}

// LeaveRoom removes conn from the room. The user leaves the room's member
// set only when none of its other connections is still in the room.
func (s *Server) LeaveRoom(_ context.Context, conn *WsConn, roomID int64) error {
	user, ok := conn.User()
	if !ok {
		return errs.ErrAuthRequired
	}
	if conn.leaveRoom(roomID) {
		s.releaseRoom(conn, user, roomID)
	}
	s.bc.SendTo(conn, RoomLeftFrame(roomID))
	return nil
}

// releaseRoom runs after roomID was dropped from conn's joined set.
func (s *Server) releaseRoom(conn *WsConn, user User, roomID int64) {
	unlock := s.memberLocks.Lock(roomID)
	left := false
	if !s.joinedElsewhere(conn, user.ID, roomID) {
		left = s.rooms.Leave(user.ID, roomID)
	}
	unlock()

	if left {
		s.typing.Stop(user.ID, roomID)
		s.bc.BroadcastToRoom(roomID, UserLeftRoomFrame(roomID, user), user.ID)
	}
}

func (s *Server) joinedElsewhere(conn *WsConn, userID, roomID int64) bool {
	for _, other := range s.conns.ConnectionsFor(userID) {
		if other != conn && other.HasRoom(roomID) {
			return true
		}
	}
	return false
}

// SendMessage validates, persists and broadcasts a message. Nothing is
// broadcast unless the store accepted the message.
func (s *Server) SendMessage(ctx context.Context, conn *WsConn, p SendMessagePayload) (*Message, error) {
	user, ok := conn.User()
	if !ok {
		return nil, errs.ErrAuthRequired
	}
	if p.RoomID <= 0 {
		return nil, errs.ErrInvalidPayload.WithDetail("roomId")
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, errs.ErrContentEmpty
	}
	if n := utf8.RuneCountInString(content); n > s.conf.MaxContentLength {
		return nil, errs.ErrContentTooLong.WithDetail("length exceeds limit")
	}
	typ := MessageType(p.MessageType)
	if typ == "" {
		typ = MessageText
	}
	if !typ.Valid() {
		return nil, errs.ErrInvalidMessageType.WithDetail(p.MessageType)
	}
	if !conn.HasRoom(p.RoomID) {
		return nil, errs.ErrNotInRoom
	}
	// membership may have been revoked since join
	if err := s.checkAccess(ctx, user.ID, p.RoomID); err != nil {
		return nil, err
	}

	msg, err := s.persistAndBroadcast(ctx, user, NewMessage{
		RoomID:  p.RoomID,
		UserID:  user.ID,
		Content: content,
		Type:    typ,
		ReplyTo: p.ReplyTo,
	})
	if err != nil {
		return nil, err
	}

	s.typing.Stop(user.ID, p.RoomID)
	s.publishMessage(msg)
	return msg, nil
}

// persistAndBroadcast holds the room's send lock from insert to fan-out so
// recipients observe messages in persistence-completion order.
func (s *Server) persistAndBroadcast(ctx context.Context, user User, nm NewMessage) (*Message, error) {
	unlock := s.sendLocks.Lock(nm.RoomID)
	defer unlock()

	sctx, cancel := context.WithTimeout(ctx, s.conf.StoreTimeout)
	defer cancel()

	id, err := s.deps.Store.Insert(sctx, nm)
	if err != nil {
		return nil, errs.ErrStoreFailure.Wrap(err)
	}

	msg, err := s.deps.Store.FetchByID(sctx, id)
	if err != nil || msg == nil {
		// the row is durable; degrade to what we already know
		logger.Warn("fetch persisted message", zap.Int64("message", id), zap.Error(err))
		msg = &Message{
			ID:          id,
			RoomID:      nm.RoomID,
			UserID:      nm.UserID,
			Content:     nm.Content,
			MessageType: nm.Type,
			ReplyTo:     nm.ReplyTo,
			CreatedAt:   time.Now().UTC(),
			User:        user.Public(),
		}
	}

	s.bc.BroadcastToRoom(nm.RoomID, NewMessageFrame(msg), NoExclude)
	return msg, nil
}

func (s *Server) StartTyping(conn *WsConn, roomID int64) error {
	user, ok := conn.User()
	if !ok {
		return errs.ErrAuthRequired
	}
	if !conn.HasRoom(roomID) {
		return errs.ErrNotInRoom
	}
	s.typing.Start(user, roomID)
	return nil
}

func (s *Server) StopTyping(conn *WsConn, roomID int64) error {
	user, ok := conn.User()
	if !ok {
		return errs.ErrAuthRequired
	}
	if !conn.HasRoom(roomID) {
		return errs.ErrNotInRoom
	}
	s.typing.Stop(user.ID, roomID)
	return nil
}

func (s *Server) Ping(conn *WsConn) {
	now := time.Now()
	conn.Touch(now)
	s.bc.SendTo(conn, PongFrame(now))
}

// Disconnect is the terminal transition. It is driven by the connection's
// own joined set, not by anything the client sent, and is safe to call
// more than once.
func (s *Server) Disconnect(conn *WsConn) {
	conn.Close()

	user, authed := conn.User()
	if authed {
		rooms := conn.drainRooms()
		s.typing.StopAll(user.ID, rooms)
		for _, roomID := range rooms {
			s.releaseRoom(conn, user, roomID)
		}
	}
	s.conns.Remove(conn)

	if authed {
		logger.Info("disconnected", zap.String("conn", conn.ID), zap.Int64("user", user.ID))
	}
}

func (s *Server) checkAccess(ctx context.Context, userID, roomID int64) error {
	actx, cancel := context.WithTimeout(ctx, s.conf.StoreTimeout)
	defer cancel()
	ok, err := s.deps.Access.HasAccess(actx, userID, roomID)
	if err != nil {
		return errs.ErrStoreFailure.Wrap(err)
	}
	if !ok {
		return errs.ErrAccessDenied
	}
	return nil
}

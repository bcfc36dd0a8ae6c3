package chat

import (
	"net"
	"net/http"
	"time"

	"RoomGate/logger"
	"RoomGate/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Origin checks are done by middleware in front of the route.
func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  s.conf.ReadBufferSize,
		WriteBufferSize: s.conf.ReadBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// HandleWS upgrades the request and runs the connection until it closes.
// A token in the query string authenticates before the first frame is read.
func (s *Server) HandleWS(c *gin.Context) {
	select {
	case <-s.ctx.Done():
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// not a websocket request or handshake failure; Upgrade already replied
		logger.Info("upgrade websocket", zap.Error(err))
		return
	}

	conn := s.NewConn(ids.GenerateString(), ws.RemoteAddr().String(), func() { _ = ws.Close() })
	logger.Debug("connection accepted", zap.String("conn", conn.ID), zap.String("remote", conn.Remote))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ws, conn)
	}()

	alive := true
	if token := c.Query("token"); token != "" {
		if err := s.Authenticate(s.ctx, conn, token); err != nil {
			s.replyError(&ChatContext{S: s, Conn: conn}, TypeAuth, err)
			alive = false
		}
	}
	if alive {
		s.readLoop(ws, conn)
	}

	s.closeAfterFlush(conn)
	s.Disconnect(conn)
	<-writerDone
}

func (s *Server) readLoop(ws *websocket.Conn, conn *WsConn) {
	ws.SetReadLimit(s.conf.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		conn.Touch(time.Now())
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				logger.Debug("peer closed", zap.String("conn", conn.ID))
			case isTimeout(err):
				logger.Info("read timeout", zap.String("conn", conn.ID))
			case conn.IsClosed():
				// closed locally: sweeper, eviction or shutdown
			default:
				logger.Info("read error", zap.String("conn", conn.ID), zap.Error(err))
			}
			return
		}
		now := time.Now()
		conn.Touch(now)
		_ = ws.SetReadDeadline(now.Add(s.conf.PongWait))

		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if !s.HandleFrame(conn, data) {
			return
		}
	}
}

// writeLoop is the only goroutine writing to ws.
func (s *Server) writeLoop(ws *websocket.Conn, conn *WsConn) {
	ticker := time.NewTicker(s.conf.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(data []byte) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("write", zap.String("conn", conn.ID), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-conn.Done():
			return
		case data := <-conn.Outbound():
			if !write(data) {
				return
			}
		case <-conn.Closing():
			for {
				select {
				case data := <-conn.Outbound():
					if !write(data) {
						return
					}
				default:
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(s.conf.WriteWait))
					return
				}
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.conf.WriteWait)); err != nil {
				logger.Debug("ping", zap.String("conn", conn.ID), zap.Error(err))
				return
			}
		}
	}
}

// closeAfterFlush lets the writer deliver pending frames (such as the
// error preceding an auth failure) and waits for it, bounded by WriteWait.
func (s *Server) closeAfterFlush(conn *WsConn) {
	conn.CloseAfterFlush()
	select {
	case <-conn.Done():
	case <-time.After(s.conf.WriteWait):
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"RoomGate/logger"
	"RoomGate/middleware"
	"RoomGate/middleware/security"
	"RoomGate/service/chat"
	"RoomGate/tools/errs"
	jwtx "RoomGate/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClusterPresence is the cross-gateway presence view kept in Redis.
type ClusterPresence interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
	Gateway(ctx context.Context, userID int64) (string, error)
	OnlineUsers(ctx context.Context) ([]int64, error)
}

type Deps struct {
	Server   *chat.Server
	Verifier chat.TokenVerifier
	Cluster  ClusterPresence // nil on a single gateway
	Tokens   *jwtx.Options   // enables POST /token/refresh
	Timeout  time.Duration   // bound on Cluster calls, default 2s
}

type api struct {
	Deps
}

// Register mounts the gateway's HTTP surface next to the websocket route.
// Everything except /healthz requires a token.
func Register(r gin.IRoutes, d Deps) {
	if d.Server == nil || d.Verifier == nil {
		panic("httpapi needs a server and a verifier")
	}
	if d.Timeout <= 0 {
		d.Timeout = 2 * time.Second
	}
	a := &api{Deps: d}
	auth := middleware.RouteOpt{Auth: security.Middleware(security.DefaultOptions(d.Verifier))}

	r.GET("/ws", d.Server.HandleWS)
	middleware.GET(r, "/healthz", a.health, middleware.RouteOpt{})
	middleware.GET(r, "/stats", a.stats, auth)
	middleware.GET(r, "/presence/:userId", a.presence, auth)
	if d.Tokens != nil {
		middleware.POST(r, "/token/refresh", a.refresh, auth)
	}
}

func (a *api) health(c *gin.Context) { c.String(http.StatusOK, "ok") }

type statsResp struct {
	chat.Stats
	ClusterOnline *int `json:"clusterOnline,omitempty"`
}

func (a *api) stats(c *gin.Context) {
	resp := statsResp{Stats: a.Server.Stats()}
	if a.Cluster != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), a.Timeout)
		defer cancel()
		users, err := a.Cluster.OnlineUsers(ctx)
		if err != nil {
			logger.Warn("cluster online users", zap.Error(err))
		} else {
			n := len(users)
			resp.ClusterOnline = &n
		}
	}
	c.JSON(http.StatusOK, resp)
}

type presenceResp struct {
	UserID  int64  `json:"userId"`
	Online  bool   `json:"online"`
	Local   bool   `json:"local"`             // connected to this gateway
	Gateway string `json:"gateway,omitempty"` // owning gateway in the cluster
}

func (a *api) presence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("userId"))
		return
	}
	resp := presenceResp{UserID: id, Local: a.Server.ConnMgr().IsOnline(id)}
	resp.Online = resp.Local
	if a.Cluster != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), a.Timeout)
		defer cancel()
		online, err := a.Cluster.IsOnline(ctx, id)
		if err == nil && online {
			resp.Gateway, err = a.Cluster.Gateway(ctx, id)
		}
		if err != nil {
			logger.Warn("cluster presence", zap.Int64("user", id), zap.Error(err))
			c.JSON(http.StatusBadGateway, errs.ErrInternal)
			return
		}
		resp.Online = resp.Online || online
	}
	c.JSON(http.StatusOK, resp)
}

func (a *api) refresh(c *gin.Context) {
	u, ok := security.UserFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrAuthRequired)
		return
	}
	tok, exp, err := jwtx.Generate(*a.Tokens, u)
	if err != nil {
		logger.Error("refresh token", zap.Int64("user", u.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "expireAt": exp.Unix()})
}

package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"RoomGate/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Origin rejects websocket upgrades from origins outside allowed. An empty
// list or "*" allows everything; requests without an Origin header (non
// browser clients) pass.
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	allowAll := len(allowed) == 0
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return func(c *gin.Context) {
		if allowAll || !isUpgrade(c.Request) {
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			return
		}
		if _, ok := set[normalizeOrigin(origin)]; ok {
			return
		}
		logger.Info("origin rejected", zap.String("origin", origin), zap.String("remote", c.ClientIP()))
		c.AbortWithStatus(http.StatusForbidden)
	}
}

func isUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func normalizeOrigin(o string) string {
	u, err := url.Parse(strings.TrimSpace(o))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(o, "/"))
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

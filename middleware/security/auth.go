package security

import (
	"net/http"
	"strings"

	"RoomGate/service/chat"
	"RoomGate/tools/errs"

	"github.com/gin-gonic/gin"
)

// CtxUserKey is where the authenticated chat.User is stored.
const CtxUserKey = "authUser"

type Options struct {
	Verifier    chat.TokenVerifier
	HeaderToken string // extra header read before Authorization, default "X-Auth-Token"
}

func DefaultOptions(v chat.TokenVerifier) *Options {
	return &Options{Verifier: v, HeaderToken: "X-Auth-Token"}
}

// Middleware verifies a bearer token on HTTP routes with the same verifier
// the websocket auth event uses.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil || opts.Verifier == nil {
		panic("security middleware needs a verifier")
	}
	return func(c *gin.Context) {
		token := ""
		if opts.HeaderToken != "" {
			token = strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		}
		// Authorization: Bearer xxx
		if token == "" {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); len(authz) > 7 &&
				strings.EqualFold(authz[:7], "bearer ") {
				token = strings.TrimSpace(authz[7:])
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuthRequired)
			return
		}

		u, err := opts.Verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuthFailed)
			return
		}
		c.Set(CtxUserKey, u)
		c.Next()
	}
}

// UserFrom returns the user set by Middleware.
func UserFrom(c *gin.Context) (chat.User, bool) {
	v, ok := c.Get(CtxUserKey)
	if !ok {
		return chat.User{}, false
	}
	u, ok := v.(chat.User)
	return u, ok
}

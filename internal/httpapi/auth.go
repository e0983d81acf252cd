package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/handshake/middleware"
	"github.com/MrEthical07/handshake/session"
)

// RequireSession adapts middleware.RequireSession to gin. The net/http
// guard writes the 401 itself; the gin chain only continues when it called
// through.
func RequireSession(auth middleware.Authenticator) gin.HandlerFunc {
	guard := middleware.RequireSession(auth)
	return func(c *gin.Context) {
		passed := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})

		guard(next).ServeHTTP(c.Writer, c.Request)

		if !passed {
			c.Abort()
		}
	}
}

func sessionFromGin(c *gin.Context) (*session.Session, bool) {
	return middleware.SessionFromContext(c.Request.Context())
}

func sessionFromRequest(r *http.Request, auth middleware.Authenticator) (*session.Session, error) {
	return middleware.SessionFromRequest(r, auth)
}

func writeUnauthenticated(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	middleware.WriteUnauthenticated(c.Writer)
	c.Abort()
}

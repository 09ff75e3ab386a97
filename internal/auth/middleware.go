package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"poerelay/internal/logging"
)

const bearerPrefix = "Bearer "

// Middleware checks the bearer token Poe sends with every bot request.
type Middleware struct {
	accessKey []byte
}

// NewMiddleware returns a Middleware for accessKey. An empty key lets every
// request through.
func NewMiddleware(accessKey string) *Middleware {
	return &Middleware{accessKey: []byte(accessKey)}
}

func (m *Middleware) Enabled() bool {
	return len(m.accessKey) > 0
}

// RequireAccessKey aborts with 401 unless the Authorization header carries
// the configured key.
func (m *Middleware) RequireAccessKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if !m.authorized(c.GetHeader("Authorization")) {
			logging.FromContext(c.Request.Context()).Warn("rejected request with bad access key",
				"remote_addr", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (m *Middleware) authorized(header string) bool {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return subtle.ConstantTimeCompare([]byte(token), m.accessKey) == 1
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/session"
)

// ContextKeySession holds the *session.Session in the gin context.
const ContextKeySession = "session"

// SessionRestorer is the part of session.Manager the middleware needs.
type SessionRestorer interface {
	Restore(ctx context.Context, token string) (*session.Session, error)
}

// BearerToken reads the Authorization header. EventSource cannot send
// headers, so an access_token query parameter is accepted too.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("access_token")
}

// SessionMiddleware restores the session of a request when it carries a
// token. Invalid or ended tokens leave the request anonymous.
func SessionMiddleware(restorer SessionRestorer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		s, err := restorer.Restore(c.Request.Context(), token)
		switch {
		case errors.Is(err, session.ErrNoSession):
			logger.Debugf("Ignoring token on %s: %v", c.FullPath(), err)
		case err != nil:
			logger.Errorf("Session restore failed: %v", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Session store unavailable"})
			return
		default:
			c.Set(ContextKeySession, s)
			c.Request = c.Request.WithContext(session.WithSession(c.Request.Context(), s))
		}
		c.Next()
	}
}

// RequireSession rejects anonymous requests. SessionMiddleware must run first.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if session.FromContext(c.Request.Context()) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects anyone but administrators.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := session.FromContext(c.Request.Context())
		if s == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !s.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required"})
			return
		}
		c.Next()
	}
}

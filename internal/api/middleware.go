package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/internal/models"
)

// Context keys set by the session middleware
const (
	ctxEmployee = "employee"
	ctxToken    = "session_token"
)

// RequestLogger returns a gin middleware that logs each request with
// zerolog, leveled by status class
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		entry := log.With().
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("request_id", c.GetHeader("X-Request-ID")).
			Logger()

		switch {
		case status >= 500:
			entry.Error().Msg("Server error")
		case status >= 400:
			entry.Warn().Msg("Client error")
		default:
			entry.Info().Msg("Request processed")
		}
	}
}

// requireSession resolves the session cookie to an active employee and
// stores it on the context. A lingering session of a disabled account is
// refused here even before its revocation lands.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(s.config.Session.CookieName)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		sess, ok := s.sessions.Lookup(c.Request.Context(), token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		emp, ok := s.store.Snapshot().Employee(sess.EmployeeID)
		if !ok || !emp.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account disabled"})
			return
		}

		c.Set(ctxEmployee, emp)
		c.Set(ctxToken, token)
		c.Next()
	}
}

// requireRole refuses actors whose role is not in the allowed set
func (s *Server) requireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		emp := currentEmployee(c)
		for _, r := range roles {
			if emp.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}

// currentEmployee returns the employee resolved by requireSession
func currentEmployee(c *gin.Context) models.Employee {
	return c.MustGet(ctxEmployee).(models.Employee)
}

func currentToken(c *gin.Context) string {
	return c.MustGet(ctxToken).(string)
}

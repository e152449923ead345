package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/internal/auth"
	"example.com/backstage/services/salesdesk/internal/models"
)

// employeeView is the employee record as served over HTTP. The password
// hash never leaves the store.
type employeeView struct {
	ID        string      `json:"id"`
	Username  string      `json:"username"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
}

func viewEmployee(e models.Employee) employeeView {
	return employeeView{
		ID:        e.ID,
		Username:  e.Username,
		Name:      e.Name,
		Role:      e.Role,
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	emp, ok := s.store.Snapshot().EmployeeByUsername(username)
	if !ok || !emp.Active || !auth.VerifyPassword(emp.PasswordHash, req.Password) {
		// One answer for every failure mode, no account enumeration
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	sess, err := s.sessions.Create(c.Request.Context(), emp)
	if err != nil {
		log.Error().Err(err).Str("employee_id", emp.ID).Msg("Failed to create session")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not open session"})
		return
	}

	s.setSessionCookie(c, sess.Token, int(s.config.Session.TTL.Seconds()))
	c.JSON(http.StatusOK, gin.H{"employee": viewEmployee(emp)})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.sessions.Destroy(c.Request.Context(), currentToken(c)); err != nil {
		log.Warn().Err(err).Msg("Failed to destroy session")
	}
	s.setSessionCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"employee": viewEmployee(currentEmployee(c))})
}

func (s *Server) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.config.Session.CookieName, token, maxAge, "/", "", s.config.Session.Secure, true)
}

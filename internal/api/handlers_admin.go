package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/salesdesk/internal/auth"
	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/models"
)

func (s *Server) handleListEmployees(c *gin.Context) {
	employees := s.store.Snapshot().Employees()

	views := make([]employeeView, 0, len(employees))
	for _, emp := range employees {
		views = append(views, viewEmployee(emp))
	}

	c.JSON(http.StatusOK, gin.H{"employees": views})
}

type createEmployeeRequest struct {
	Username string      `json:"username" binding:"required"`
	Name     string      `json:"name"`
	Role     models.Role `json:"role" binding:"required,role"`
	Password string      `json:"password" binding:"required"`
}

func (s *Server) handleCreateEmployee(c *gin.Context) {
	var req createEmployeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Envelopes are archived forever, so only the hash ever enters one
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password hashing failed"})
		return
	}

	s.submit(c, command.KindCreateEmployee, command.CreateEmployeePayload{
		Username:     req.Username,
		Name:         req.Name,
		Role:         req.Role,
		PasswordHash: hash,
	}, "")
}

func (s *Server) handleDisableEmployee(c *gin.Context) {
	s.submit(c, command.KindDisableEmployee, command.DisableEmployeePayload{
		EmployeeID: c.Param("id"),
	}, "")
}

type resetPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password hashing failed"})
		return
	}

	s.submit(c, command.KindResetPassword, command.ResetPasswordPayload{
		EmployeeID:   c.Param("id"),
		PasswordHash: hash,
	}, "")
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"settings": s.store.Snapshot().Settings()})
}

type updateSettingsRequest struct {
	CompanyName       string  `json:"company_name"`
	Currency          string  `json:"currency"`
	PricePerCase      float64 `json:"price_per_case"`
	GSTRate           float64 `json:"gst_rate"`
	QSTRate           float64 `json:"qst_rate"`
	CansPerCase       int     `json:"cans_per_case"`
	MinCasesPerFlavor int     `json:"min_cases_per_flavor"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindUpdateSettings, command.UpdateSettingsPayload{
		CompanyName:       req.CompanyName,
		Currency:          req.Currency,
		PricePerCase:      req.PricePerCase,
		GSTRate:           req.GSTRate,
		QSTRate:           req.QSTRate,
		CansPerCase:       req.CansPerCase,
		MinCasesPerFlavor: req.MinCasesPerFlavor,
	}, "")
}

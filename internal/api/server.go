package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/config"
	"example.com/backstage/services/salesdesk/internal/auth"
	"example.com/backstage/services/salesdesk/internal/metrics"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/processor"
	"example.com/backstage/services/salesdesk/internal/render"
	"example.com/backstage/services/salesdesk/internal/search"
	"example.com/backstage/services/salesdesk/internal/store"
	"example.com/backstage/services/salesdesk/internal/tracing"
)

// Deps bundles the collaborators the HTTP layer is wired to. Search and
// Tracer may be nil/disabled; everything else is required.
type Deps struct {
	Store     *store.Store
	Processor *processor.Processor
	Sessions  *auth.SessionManager
	Search    *search.ElasticClient
	Metrics   *metrics.Metrics
	Tracer    tracing.Tracer
	Renderer  render.DocumentRenderer
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server

	store    *store.Store
	proc     *processor.Processor
	sessions *auth.SessionManager
	search   *search.ElasticClient
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	renderer render.DocumentRenderer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deps Deps) *Server {
	server := &Server{
		config:   cfg,
		store:    deps.Store,
		proc:     deps.Processor,
		sessions: deps.Sessions,
		search:   deps.Search,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		renderer: deps.Renderer,
	}
	if server.renderer == nil {
		server.renderer = render.Probe()
	}
	if server.metrics == nil {
		server.metrics = metrics.NewMetrics()
	}
	if server.tracer == nil {
		server.tracer = &tracing.NewRelicTracer{}
	}

	router := server.setupRouter()
	server.router = router

	server.httpServer = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(s.config.Server.Mode)

	registerValidations()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	if app := s.tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}

	// Health and metrics stay outside the session gate so probes and
	// scrapers need no credentials
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)

	api := router.Group("/api/v1")
	api.POST("/login", s.handleLogin)

	authed := api.Group("", s.requireSession())
	authed.POST("/logout", s.handleLogout)
	authed.GET("/me", s.handleMe)

	authed.GET("/leads", s.handleListLeads)
	authed.POST("/leads", s.handleCreateLead)
	authed.PATCH("/leads/:id", s.handleUpdateLead)
	authed.POST("/leads/import", s.handleImportLeads)
	authed.POST("/leads/assign-bulk", s.handleAssignLeadsBulk)
	authed.POST("/leads/:id/assign", s.handleAssignLead)
	authed.POST("/leads/:id/reject", s.handleRejectLead)
	authed.POST("/leads/:id/rep-info", s.handleFillRepInfo)

	authed.GET("/orders", s.handleListOrders)
	authed.GET("/orders/:id", s.handleGetOrder)
	authed.POST("/orders", s.handleCreateOrder)
	authed.POST("/orders/:id/invoice", s.handleGenerateInvoice)
	authed.POST("/orders/:id/pay", s.handleMarkPaid)
	authed.POST("/orders/:id/schedule", s.handleScheduleDelivery)
	authed.POST("/orders/:id/fulfill", s.handleMarkFulfilled)
	authed.GET("/orders/:id/document", s.handleOrderDocument)

	authed.GET("/clients", s.handleListClients)
	authed.GET("/invoices", s.handleListInvoices)
	authed.GET("/events", s.handleListEvents)
	authed.POST("/events", s.handleCreateEvent)
	authed.GET("/notifications", s.handleListNotifications)
	authed.POST("/notifications/:id/read", s.handleNotificationRead)
	authed.POST("/notifications/:id/dismiss", s.handleNotificationDismiss)

	authed.GET("/search", s.handleSearch)

	authed.GET("/employees", s.handleListEmployees)
	authed.GET("/settings", s.handleGetSettings)

	admin := authed.Group("", s.requireRole(models.RoleAdmin))
	admin.POST("/employees", s.handleCreateEmployee)
	admin.POST("/employees/:id/disable", s.handleDisableEmployee)
	admin.POST("/employees/:id/reset-password", s.handleResetPassword)
	admin.PUT("/settings", s.handleUpdateSettings)

	return router
}

// registerValidations adds custom binding validations. Safe to call more
// than once; gin keeps one validator engine per process.
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return models.Role(fl.Field().String()).Valid()
		})
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

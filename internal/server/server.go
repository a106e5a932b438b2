package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kanban/internal/auth"
	"kanban/internal/cards"
	"kanban/internal/errs"
	"kanban/internal/projects"
	"kanban/internal/realtime"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers call into.
type Deps struct {
	Auth     *auth.Service
	Cards    *cards.Service
	Projects *projects.Service
	Hub      *realtime.Hub
	Health   Pinger
}

// Config tunes the HTTP surface.
type Config struct {
	StaticDir      string
	AllowedOrigins []string
	SecureCookies  bool
	Realtime       realtime.Options
}

// Server provides HTTP handlers for the kanban backend.
type Server struct {
	engine   *gin.Engine
	auth     *auth.Service
	cards    *cards.Service
	projects *projects.Service
	hub      *realtime.Hub
	health   Pinger
	logger   *slog.Logger
	cfg      Config
}

// New constructs the HTTP server with routes and middleware configured.
func New(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registerValidators()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api/healthz", "/metrics"))
	router.Use(corsPolicy(cfg.AllowedOrigins))

	srv := &Server{
		engine:   router,
		auth:     deps.Auth,
		cards:    deps.Cards,
		projects: deps.Projects,
		hub:      deps.Hub,
		health:   deps.Health,
		logger:   logger,
		cfg:      cfg,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API and static handlers together.
func (s *Server) registerRoutes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)

		authn := api.Group("/auth")
		{
			authn.POST("/register", s.handleRegister)
			authn.POST("/login", s.handleLogin)
			authn.POST("/logout", s.handleLogout)
			authn.GET("/me", s.requireUser, s.handleMe)
		}

		protected := api.Group("", s.requireUser)

		projects := protected.Group("/projects")
		{
			projects.POST("", s.handleCreateProject)
			projects.GET("/my-projects", s.handleMyProjects)
			projects.GET("/invited-projects", s.handleInvitedProjects)
			projects.GET("/:id", s.handleGetProject)
			projects.POST("/:id/members", s.handleAddMember)
			projects.DELETE("/:id/members/:userId", s.handleRemoveMember)
			projects.DELETE("/:id", s.handleDeleteProject)
		}

		cards := protected.Group("/cards")
		{
			cards.POST("", s.handleCreateCard)
			cards.GET("/project/:projectId", s.handleListCards)
			cards.GET("/:id", s.handleGetCard)
			cards.PUT("/:id", s.handleUpdateCard)
			cards.PUT("/:id/status", s.handleMoveCard)
			cards.DELETE("/:id", s.handleDeleteCard)
		}

		protected.GET("/ws", s.handleWebsocket)
	}

	s.mountStatic()
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Error("health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError logs the error and returns a JSON payload with the mapped status.
func (s *Server) respondError(c *gin.Context, err error) {
	status := errs.StatusCode(err)
	body := gin.H{"error": err.Error()}

	var apiErr *errs.ApiErr
	known := errors.As(err, &apiErr)
	if known && apiErr.Field != "" {
		body["field"] = apiErr.Field
	}

	if status < http.StatusInternalServerError {
		s.logger.Debug("request rejected", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		c.AbortWithStatusJSON(status, body)
		return
	}

	// Driver and internal failures never reach the client verbatim.
	body["error"] = errs.ErrOperationFailed.Error()
	full := err.Error()
	if known {
		full = apiErr.GetFullError()
		if apiErr.Details != "" {
			body["details"] = apiErr.Details
		}
	}
	s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", full))
	c.AbortWithStatusJSON(status, body)
}

// respondSuccess wraps a payload in a JSON envelope for consistency.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagepilot/internal/session"
)

// DefaultActionTimeout bounds one session action when the request has no
// earlier deadline.
const DefaultActionTimeout = 2 * time.Minute

// Handlers contains all HTTP handlers
type Handlers struct {
	manager *session.Manager
	metrics *monitoring.Metrics
	log     *zap.Logger

	engine        string
	actionTimeout time.Duration
}

// Options configures Handlers.
type Options struct {
	// Engine names the engine sessions run on, reported by Health.
	Engine string
	// ActionTimeout bounds each action; DefaultActionTimeout when zero.
	ActionTimeout time.Duration
}

// NewHandlers creates a new handler set
func NewHandlers(manager *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger, opts Options) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	return &Handlers{
		manager:       manager,
		metrics:       metrics,
		log:           logger.Named("api"),
		engine:        opts.Engine,
		actionTimeout: opts.ActionTimeout,
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics/json", h.MetricsSnapshot)
	}

	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DeleteSession)

	s := r.Group("/sessions/:id")
	s.POST("/open", h.Open)
	s.POST("/browse", h.BrowseTo)
	s.POST("/evaluate", h.Evaluate)
	s.POST("/click", h.Click)
	s.POST("/check", h.Check)
	s.POST("/fill", h.FillField)
	s.POST("/fill-fields", h.FillFields)
	s.POST("/select", h.Select)
	s.POST("/select-and-fill", h.SelectAndFill)
	s.POST("/find-text", h.FindText)
	s.POST("/enabled", h.Enabled)
	s.POST("/text", h.GetText)
	s.POST("/exists", h.Exists)
	s.POST("/screenshot", h.Screenshot)
	s.GET("/screenshots", h.Screenshots)
	s.POST("/wait-url", h.WaitForURL)
	s.POST("/loaded", h.Loaded)
	s.POST("/sleep", h.Sleep)
	s.GET("/cookies", h.Cookies)
	s.GET("/property/:name", h.Property)
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "pagepilot",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"engine":   h.engine,
		"sessions": h.manager.Count(),
	})
}

// MetricsSnapshot returns the summary counters as JSON.
func (h *Handlers) MetricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics":  h.metrics.Snapshot(),
		"sessions": h.manager.Count(),
	})
}

// actionContext derives the context one action runs under.
func (h *Handlers) actionContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.actionTimeout)
}

// lookup resolves the :id session or writes a 404.
func (h *Handlers) lookup(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	s, ok := h.manager.Get(id)
	if !ok {
		h.fail(c, "lookup", sessionNotFound(id))
		return nil, false
	}
	return s, true
}

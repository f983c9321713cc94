package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/pagepilot/internal/session"
)

// CreateSessionRequest configures a new session. Durations are Go duration
// strings; empty fields take the server defaults.
type CreateSessionRequest struct {
	ID             string   `json:"id"`
	TTL            string   `json:"ttl"`
	AjaxTimeout    string   `json:"ajax_timeout"`
	EngineArgs     []string `json:"engine_args"`
	TraceResources bool     `json:"trace_resources"`
	// Wait blocks the response until the engine is ready.
	Wait bool `json:"wait"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	LoadState    string    `json:"load_state"`
	Tabs         int       `json:"tabs"`
	Closed       bool      `json:"closed"`
	Error        string    `json:"error,omitempty"`
}

func describe(s *session.Session) SessionInfo {
	info := SessionInfo{
		ID:           s.ID(),
		CreatedAt:    s.CreatedAt(),
		LastActivity: s.LastActivity(),
		LoadState:    s.LoadState(),
		Tabs:         len(s.Tabs()),
		Closed:       s.Closed(),
	}
	if err := s.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

// CreateSession starts a new browser session.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	ttl, err := parseDuration(req.TTL)
	if err != nil {
		badRequest(c, err)
		return
	}
	ajax, err := parseDuration(req.AjaxTimeout)
	if err != nil {
		badRequest(c, err)
		return
	}

	s, err := h.manager.Create(session.Options{
		ID:             req.ID,
		TTL:            ttl,
		AjaxTimeout:    ajax,
		EngineArgs:     req.EngineArgs,
		TraceResources: req.TraceResources,
	})
	if err != nil {
		h.fail(c, "create", err)
		return
	}

	if req.Wait {
		ctx, cancel := h.actionContext(c)
		defer cancel()
		if err := s.Ready(ctx); err != nil {
			h.fail(c, "create", err)
			return
		}
	}
	c.JSON(http.StatusCreated, describe(s))
}

// ListSessions lists the live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	list := h.manager.List()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, describe(s))
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": out,
		"count":    len(out),
	})
}

// GetSession describes one session.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, describe(s))
}

// DeleteSession closes a session and waits for its engine to exit.
func (h *Handlers) DeleteSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		h.fail(c, "close", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      s.ID(),
	})
}

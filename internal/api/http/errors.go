package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/session"
)

// statusFor maps session and engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrElementNotFound),
		errors.Is(err, session.ErrTextNotFound),
		errors.Is(err, session.ErrCannotSelect):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrURLMismatch), errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, session.ErrAlreadyClosed), errors.Is(err, engine.ErrPageClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrInitFailed), errors.Is(err, engine.ErrEngineExited):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrRenderUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// errorCode is the stable machine-readable name of err.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrMissingArgument):
		return "missing_argument"
	case errors.Is(err, session.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, session.ErrElementNotFound):
		return "element_not_found"
	case errors.Is(err, session.ErrTextNotFound):
		return "text_not_found"
	case errors.Is(err, session.ErrCannotSelect):
		return "cannot_select"
	case errors.Is(err, session.ErrURLMismatch):
		return "url_mismatch"
	case errors.Is(err, session.ErrSessionExists):
		return "session_exists"
	case errors.Is(err, session.ErrAlreadyClosed), errors.Is(err, engine.ErrPageClosed):
		return "closed"
	case errors.Is(err, session.ErrTooManySessions):
		return "too_many_sessions"
	case errors.Is(err, session.ErrInitFailed), errors.Is(err, engine.ErrEngineExited):
		return "engine_unavailable"
	case errors.Is(err, engine.ErrRenderUnsupported):
		return "render_unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "internal"
}

// fail writes err as a JSON error response.
func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("action failed", zap.String("op", op), zap.String("session_id", c.Param("id")), zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"code":  errorCode(err),
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": fmt.Sprintf("invalid request: %v", err),
		"code":  "bad_request",
	})
}

func sessionNotFound(id string) error {
	return fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
}

package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIsolated(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.Navigation()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Navigations))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Navigations))
}

func TestSessionRecorder(t *testing.T) {
	m := NewMetrics()

	m.SessionStarted()
	m.SessionFailed()
	m.SessionClosed("ttl", 3*time.Second)
	m.SessionClosed("explicit", time.Second)
	m.Settled(100*time.Millisecond, false)
	m.Settled(time.Second, true)
	m.SetSessionsActive(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsClosed.WithLabelValues("ttl")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AjaxWaitTimeouts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.AjaxTimeouts)
	assert.Equal(t, int64(2), snap.ActiveSessions)
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/sessions/:id", "404")))
	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.TotalErrors)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "pilot_http_requests_total"))
	assert.True(t, strings.Contains(w.Body.String(), "pilot_uptime_seconds"))
}

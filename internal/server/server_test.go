package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pagepilot/internal/engine/chrome"
	"github.com/GriffinCanCode/pagepilot/internal/engine/sandbox"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/config"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pagepilot/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Browser.ScreenshotFolder = t.TempDir()
	cfg.Browser.SessionTTL = config.Duration(-1)
	return cfg
}

func TestNewLauncherSelectsEngine(t *testing.T) {
	cfg := config.Default()

	l, err := NewLauncher(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &sandbox.Launcher{}, l)

	cfg.Browser.Engine = config.EngineChrome
	l, err = NewLauncher(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &chrome.Launcher{}, l)

	cfg.Browser.Engine = "webkit"
	_, err = NewLauncher(cfg, nil)
	assert.Error(t, err)
}

func TestSessionDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Args = []string{"--load-images=no"}
	cfg.Browser.AjaxTimeout = config.Duration(5 * time.Second)

	opts := SessionDefaults(cfg, logging.NewNop(), nil)
	assert.Equal(t, 60*time.Second, opts.TTL)
	assert.Equal(t, 5*time.Second, opts.AjaxTimeout)
	assert.Equal(t, []string{"--load-images=no"}, opts.EngineArgs)
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Engine = "webkit"
	_, err := NewServer(cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestServerRoutes(t *testing.T) {
	srv, err := NewServer(testConfig(t), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/sessions", strings.NewReader(`{"wait":true}`)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, srv.Manager().Count())

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pilot_sessions_active 1")
	assert.Contains(t, w.Body.String(), "pilot_http_requests_total")
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, err := NewServer(testConfig(t), logging.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "online")

	_, err = srv.Manager().Create(session.Options{})
	require.NoError(t, err)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, 0, srv.Manager().Count())
}

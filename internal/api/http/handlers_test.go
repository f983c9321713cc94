package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pagepilot/internal/engine/sandbox"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagepilot/internal/session"
)

const formPage = `<html><head><title>Form</title></head><body>
	<input id="name" name="name">
	<select id="size"><option value="s">S</option><option value="m">M</option></select>
	<input id="ok" type="checkbox">
	<p class="msg">Hello pilot</p>
	<a id="next" href="/next">next</a>
</body></html>`

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, formPage)
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><title>Next</title></head><body></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type api struct {
	t       *testing.T
	router  *gin.Engine
	manager *session.Manager
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := session.NewManager(
		sandbox.NewLauncher(nil, sandbox.ClientOptions{RetryMax: -1}),
		session.Options{TTL: -1, AjaxTimeout: time.Second, ScreenshotFolder: t.TempDir()},
	)
	t.Cleanup(func() { _ = manager.CloseAll(context.Background()) })

	router := gin.New()
	NewHandlers(manager, monitoring.NewMetrics(), nil, Options{Engine: "sandbox", ActionTimeout: 10 * time.Second}).Register(router)
	return &api{t: t, router: router, manager: manager}
}

func (a *api) do(method, path string, body any) (int, map[string]any) {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(a.t, sonic.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (a *api) createSession() string {
	a.t.Helper()
	code, body := a.do("POST", "/sessions", map[string]any{"wait": true})
	require.Equal(a.t, http.StatusCreated, code, body)
	id, _ := body["id"].(string)
	require.NotEmpty(a.t, id)
	return id
}

func TestRootAndHealth(t *testing.T) {
	a := newAPI(t)

	code, body := a.do("GET", "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "online", body["status"])

	code, body = a.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sandbox", body["engine"])
	assert.EqualValues(t, 0, body["sessions"])

	code, body = a.do("GET", "/metrics/json", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "metrics")
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	a := newAPI(t)
	id := a.createSession()

	code, body := a.do("GET", "/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])

	code, body = a.do("GET", "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, false, body["closed"])

	code, _ = a.do("DELETE", "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = a.do("GET", "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "session_not_found", body["code"])
}

func TestCreateSessionValidation(t *testing.T) {
	a := newAPI(t)

	code, body := a.do("POST", "/sessions", map[string]any{"ttl": "forever"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", body["code"])

	code, _ = a.do("POST", "/sessions", map[string]any{"id": "fixed"})
	require.Equal(t, http.StatusCreated, code)
	code, body = a.do("POST", "/sessions", map[string]any{"id": "fixed"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "session_exists", body["code"])
}

func TestSessionLimit(t *testing.T) {
	a := newAPI(t)
	a.manager.SetLimit(1)
	a.createSession()

	code, body := a.do("POST", "/sessions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "too_many_sessions", body["code"])
}

func TestActionEndpoints(t *testing.T) {
	srv := pageServer(t)
	a := newAPI(t)
	id := a.createSession()
	base := "/sessions/" + id

	code, body := a.do("POST", base+"/open", map[string]any{"url": srv.URL + "/"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "success", body["status"])

	code, body = a.do("POST", base+"/loaded", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, srv.URL+"/", body["url"])

	code, _ = a.do("POST", base+"/fill", map[string]any{"selector": "#name", "value": "gopher"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do("POST", base+"/select", map[string]any{"selector": "#size", "value": "m"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do("POST", base+"/check", map[string]any{"selector": "#ok"})
	assert.Equal(t, http.StatusOK, code)

	code, body = a.do("POST", base+"/evaluate", map[string]any{
		"script": `function (sel) { var el = document.querySelector(sel); return el.value; }`,
		"args":   []any{"#name"},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "gopher", body["result"])

	code, body = a.do("POST", base+"/text", map[string]any{"selector": ".msg"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Hello pilot", body["text"])

	code, body = a.do("POST", base+"/exists", map[string]any{"selector": ".missing"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["exists"])

	code, body = a.do("POST", base+"/find-text", map[string]any{"selector": ".msg", "text": "Bye"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "text_not_found", body["code"])

	code, body = a.do("POST", base+"/click", map[string]any{"selector": "#nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "element_not_found", body["code"])

	code, body = a.do("POST", base+"/open", map[string]any{"method": "GET"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing_argument", body["code"])

	code, body = a.do("GET", base+"/property/title", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Form", body["value"])

	code, _ = a.do("POST", base+"/click", map[string]any{"selector": "#next"})
	require.Equal(t, http.StatusOK, code)
	code, body = a.do("POST", base+"/wait-url", map[string]any{"glob": srv.URL + "/next*"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, srv.URL+"/next", body["url"])

	code, body = a.do("POST", base+"/screenshot", nil)
	assert.Equal(t, http.StatusNotImplemented, code)
	assert.Equal(t, "render_unsupported", body["code"])

	code, body = a.do("GET", base+"/screenshots", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["files"])

	code, body = a.do("GET", base+"/cookies", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "cookies")

	code, _ = a.do("POST", base+"/sleep", map[string]any{"duration": "10ms"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do("POST", base+"/sleep", map[string]any{"duration": "later"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestActionOnUnknownSession(t *testing.T) {
	a := newAPI(t)

	code, body := a.do("POST", "/sessions/missing/click", map[string]any{"selector": "a"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "session_not_found", body["code"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrMissingArgument, http.StatusBadRequest},
		{session.ErrURLMismatch, http.StatusConflict},
		{session.ErrAlreadyClosed, http.StatusGone},
		{session.ErrInitFailed, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

//go:build integration

package chrome_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/engine/chrome"
)

const page = `<html><head><title>Hello</title></head><body>
	<p id="msg">hi</p>
	<script>console.log("ready", 1, null);</script>
</body></html>`

func serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html><head><title>"+r.Method+" "+string(body)+"</title></head></html>")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	mu  sync.Mutex
	got []engine.NativeEvent
}

func (r *recorder) add(ev engine.NativeEvent) {
	r.mu.Lock()
	r.got = append(r.got, ev)
	r.mu.Unlock()
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, ev := range r.got {
		out = append(out, ev.Kind.String())
	}
	return out
}

func launch(t *testing.T) (engine.Engine, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	eng, err := chrome.NewLauncher(nil, chrome.Options{Bin: os.Getenv("PILOT_CHROME_BIN")}).
		Launch(ctx, []string{"--web-security=no"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = eng.Exit(context.Background())
		<-eng.Done()
	})
	return eng, ctx
}

func TestChromeOpenAndEvaluate(t *testing.T) {
	srv := serve(t)
	eng, ctx := launch(t)

	p, err := eng.CreatePage(ctx)
	require.NoError(t, err)
	var rec recorder
	for _, k := range engine.CoreEvents {
		p.Bind(k, rec.add)
	}

	status, err := p.Open(ctx, srv.URL, "GET", "")
	require.NoError(t, err)
	assert.Equal(t, chrome.StatusSuccess, status)
	assert.Contains(t, rec.names(), "onLoadFinished")
	assert.Contains(t, rec.names(), "onUrlChanged")

	title, err := p.Property(ctx, engine.PropTitle)
	require.NoError(t, err)
	assert.Equal(t, "Hello", title)

	sum, err := p.Evaluate(ctx, `function (a, b) { return a + b; }`, 2, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, sum)

	shot := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, p.Render(ctx, shot))
	info, err := os.Stat(shot)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestChromeOpenPost(t *testing.T) {
	srv := serve(t)
	eng, ctx := launch(t)

	p, err := eng.CreatePage(ctx)
	require.NoError(t, err)
	_, err = p.Open(ctx, srv.URL+"/form", "POST", "q=go")
	require.NoError(t, err)

	title, err := p.Property(ctx, engine.PropTitle)
	require.NoError(t, err)
	assert.Equal(t, "POST q=go", title)
}

func TestChromeUnreachableFails(t *testing.T) {
	eng, ctx := launch(t)

	p, err := eng.CreatePage(ctx)
	require.NoError(t, err)
	status, err := p.Open(ctx, "http://127.0.0.1:1/", "GET", "")
	require.NoError(t, err)
	assert.Equal(t, chrome.StatusFail, status)
}

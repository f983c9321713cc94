package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/engine/enginetest"
)

const ajaxCompleteLine = "__PHANTOMJS_EVENT__AJAX_COMPLETE;;||;; 4;;||;; {body}"

type loadedResult struct {
	url string
	err error
}

// startLoaded calls Loaded in the background and returns once the call is
// registered as a waiter.
func startLoaded(t *testing.T, s *Session) <-chan loadedResult {
	t.Helper()
	s.tracker.mu.Lock()
	before := len(s.tracker.waiters)
	s.tracker.mu.Unlock()

	out := make(chan loadedResult, 1)
	go func() {
		url, err := s.Loaded(context.Background())
		out <- loadedResult{url: url, err: err}
	}()

	require.Eventually(t, func() bool {
		s.tracker.mu.Lock()
		defer s.tracker.mu.Unlock()
		return len(s.tracker.waiters) > before
	}, time.Second, time.Millisecond)
	return out
}

func instrumented(page *enginetest.Page) int {
	n := 0
	for _, call := range page.Evaluations() {
		if call.Fn == ajaxInstrumentation {
			n++
		}
	}
	return n
}

func navigate(page *enginetest.Page, url string) {
	page.Fire(engine.EventLoadStarted)
	page.SetURL(url)
	page.Fire(engine.EventURLChanged, url)
	page.Fire(engine.EventLoadFinished, "success")
}

func TestLoadedWaitsForAjaxComplete(t *testing.T) {
	s, _, page := newTestSession(t, Options{AjaxTimeout: 5 * time.Second})
	out := startLoaded(t, s)

	navigate(page, "http://example.com/")
	require.Eventually(t, func() bool { return instrumented(page) == 1 }, time.Second, time.Millisecond)

	select {
	case <-out:
		t.Fatal("Loaded returned before AJAX_COMPLETE")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, "native_finished", s.LoadState())

	page.Fire(engine.EventConsoleMessage, ajaxCompleteLine)

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Equal(t, "http://example.com/", r.url)
	case <-time.After(2 * time.Second):
		t.Fatal("Loaded did not settle")
	}
	assert.Equal(t, "settled", s.LoadState())
}

func TestLoadedNeverBeforeNativeLoadFinished(t *testing.T) {
	s, _, page := newTestSession(t, Options{AjaxTimeout: 20 * time.Millisecond})
	out := startLoaded(t, s)

	page.Fire(engine.EventLoadStarted)
	page.Fire(engine.EventConsoleMessage, ajaxCompleteLine)

	select {
	case <-out:
		t.Fatal("Loaded returned before onLoadFinished")
	case <-time.After(60 * time.Millisecond):
	}
	assert.Equal(t, 0, instrumented(page))

	page.Fire(engine.EventLoadFinished, "success")
	r := <-out
	assert.NoError(t, r.err)
}

func TestAjaxTimeoutIsSettlement(t *testing.T) {
	s, _, page := newTestSession(t, Options{AjaxTimeout: 20 * time.Millisecond})
	out := startLoaded(t, s)

	start := time.Now()
	navigate(page, "http://example.com/slow")

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Equal(t, "http://example.com/slow", r.url)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not settle the navigation")
	}
}

func TestLoadedStickyFastPath(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	navigate(page, "http://example.com/done")

	url, err := s.Loaded(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/done", url)
	assert.Equal(t, 0, instrumented(page))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.Loaded(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.tracker.mu.Lock()
	assert.Empty(t, s.tracker.waiters)
	s.tracker.mu.Unlock()
}

func TestOneSettlementPerNavigation(t *testing.T) {
	s, _, page := newTestSession(t, Options{AjaxTimeout: 5 * time.Second})
	first := startLoaded(t, s)
	second := startLoaded(t, s)

	navigate(page, "http://example.com/")
	require.Eventually(t, func() bool { return instrumented(page) == 1 }, time.Second, time.Millisecond)
	page.Fire(engine.EventConsoleMessage, ajaxCompleteLine)
	page.Fire(engine.EventConsoleMessage, ajaxCompleteLine)

	for _, out := range []<-chan loadedResult{first, second} {
		r := <-out
		require.NoError(t, r.err)
		assert.Equal(t, "http://example.com/", r.url)
	}
	assert.Equal(t, 1, instrumented(page))

	s.tracker.mu.Lock()
	assert.False(t, s.tracker.loaded)
	s.tracker.mu.Unlock()
}

func TestBrowseToResetsLoadedFlag(t *testing.T) {
	s, _, page := newTestSession(t, Options{AjaxTimeout: 20 * time.Millisecond})
	navigate(page, "http://example.com/old")

	require.NoError(t, s.BrowseTo(testContext(t), "http://example.com/new"))
	assert.Equal(t, []string{"GET http://example.com/new"}, page.Opens())

	url, err := s.Loaded(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/new", url)
}

func TestLoadedAbortsOnClose(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})
	out := startLoaded(t, s)

	require.NoError(t, s.Close(testContext(t)))
	r := <-out
	assert.ErrorIs(t, r.err, ErrAlreadyClosed)
}

func TestAjaxCountersResetPerNavigation(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.Fire(engine.EventConsoleMessage, "__PHANTOMJS_EVENT__AJAX_STARTED;;||;; 1;;||;;")
	page.Fire(engine.EventConsoleMessage, "__PHANTOMJS_EVENT__AJAX_STARTED;;||;; 1;;||;;")
	page.Fire(engine.EventConsoleMessage, ajaxCompleteLine)

	s.tracker.mu.Lock()
	assert.Equal(t, 1, s.tracker.ajax.outstanding())
	s.tracker.mu.Unlock()

	page.Fire(engine.EventLoadStarted)
	s.tracker.mu.Lock()
	assert.Equal(t, ajaxWaitState{}, s.tracker.ajax)
	s.tracker.mu.Unlock()
}

func TestLateSettlementKeepsNewerLoad(t *testing.T) {
	s, _, page := newTestSession(t, Options{AjaxTimeout: 5 * time.Second})
	out := startLoaded(t, s)

	navigate(page, "http://example.com/first")
	require.Eventually(t, func() bool { return instrumented(page) == 1 }, time.Second, time.Millisecond)

	// A redirect finishes while the first settlement still waits on AJAX.
	navigate(page, "http://example.com/second")
	page.Fire(engine.EventConsoleMessage, ajaxCompleteLine)

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Equal(t, "http://example.com/first", r.url)
	case <-time.After(2 * time.Second):
		t.Fatal("first navigation did not settle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	url, err := s.Loaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/second", url)
}

func TestInactiveTabLoadsAreIgnored(t *testing.T) {
	s, _, opener := newTestSession(t, Options{AjaxTimeout: 5 * time.Second})
	popup := enginetest.NewPage("popup")
	opener.FirePageCreated(popup)
	require.Equal(t, engine.PageHandle(popup), s.Page())

	out := startLoaded(t, s)
	navigate(opener, "http://opener.example/next")
	opener.Fire(engine.EventConsoleMessage, ajaxCompleteLine)

	select {
	case r := <-out:
		t.Fatalf("Loaded settled on the inactive tab: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, instrumented(popup))
	assert.Equal(t, 0, instrumented(opener))

	navigate(popup, "http://popup.example/")
	require.Eventually(t, func() bool { return instrumented(popup) == 1 }, time.Second, time.Millisecond)
	opener.Fire(engine.EventConsoleMessage, ajaxCompleteLine)

	select {
	case <-out:
		t.Fatal("AJAX_COMPLETE from the inactive tab settled the popup")
	case <-time.After(50 * time.Millisecond):
	}

	popup.Fire(engine.EventConsoleMessage, ajaxCompleteLine)
	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Equal(t, "http://popup.example/", r.url)
	case <-time.After(2 * time.Second):
		t.Fatal("popup navigation did not settle")
	}
}

func TestPendingLoadedDefersIdleClose(t *testing.T) {
	s, _, page := newTestSession(t, Options{
		TTL:         150 * time.Millisecond,
		TTLTick:     5 * time.Millisecond,
		AjaxTimeout: 5 * time.Second,
	})
	out := startLoaded(t, s)

	time.Sleep(300 * time.Millisecond)
	require.False(t, s.Closed(), "session closed while Loaded was waiting")

	navigate(page, "http://example.com/slow")
	require.Eventually(t, func() bool { return instrumented(page) == 1 }, time.Second, time.Millisecond)
	page.Fire(engine.EventConsoleMessage, ajaxCompleteLine)

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Equal(t, "http://example.com/slow", r.url)
	case <-time.After(2 * time.Second):
		t.Fatal("Loaded did not settle")
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was not closed after Loaded returned")
	}
}

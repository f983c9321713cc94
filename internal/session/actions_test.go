package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/engine/enginetest"
)

// fakeDOM answers the action scripts for a page holding count elements
// matching any selector except "#missing".
func fakeDOM(count int) func(fn string, args []any) (any, error) {
	return func(fn string, args []any) (any, error) {
		selector, _ := args[0].(string)
		found := selector != "#missing"
		position := 0
		if len(args) > 2 {
			position, _ = args[len(args)-1].(int)
		} else if fn == clickScript && len(args) > 1 {
			position, _ = args[1].(int)
		}
		if !strings.HasPrefix(selector, "#") && position >= count {
			found = false
		}

		switch fn {
		case clickScript, selectScript:
			return found, nil
		case fillFieldScript, enabledScript:
			if !found {
				return nil, nil
			}
			return true, nil
		case getTextScript:
			if !found {
				return nil, nil
			}
			return "hello world", nil
		case existsScript:
			return found, nil
		case findTextScript:
			if !found {
				return nil, nil
			}
			return strings.Contains("hello world", args[1].(string)), nil
		}
		return nil, nil
	}
}

func evalCalls(page *enginetest.Page, fn string) int {
	n := 0
	for _, c := range page.Evaluations() {
		if c.Fn == fn {
			n++
		}
	}
	return n
}

func TestOpenRequiresURLAndMethod(t *testing.T) {
	s, _, page := newTestSession(t, Options{})

	_, err := s.Open(context.Background(), "", "GET", "")
	assert.ErrorIs(t, err, ErrMissingArgument)
	assert.Contains(t, err.Error(), "url")

	_, err = s.Open(context.Background(), "http://example.com", "", "")
	assert.ErrorIs(t, err, ErrMissingArgument)
	assert.Contains(t, err.Error(), "method")

	assert.Empty(t, page.Opens())
}

func TestOpenPropagatesEngineError(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.OpenFunc = func(p *enginetest.Page, url, method, data string) (string, error) {
		return "fail", errors.New("dns failure")
	}

	status, err := s.Open(context.Background(), "http://nowhere.invalid", "POST", "a=1")
	require.Error(t, err)
	assert.Equal(t, "fail", status)
	assert.Contains(t, err.Error(), "dns failure")
	assert.Contains(t, err.Error(), "http://nowhere.invalid")
	assert.Equal(t, []string{"POST http://nowhere.invalid"}, page.Opens())
}

func TestClickPosition(t *testing.T) {
	t.Run("two elements", func(t *testing.T) {
		s, _, page := newTestSession(t, Options{})
		page.EvalFunc = fakeDOM(2)

		err := s.Click(context.Background(), ".item", 2)
		require.ErrorIs(t, err, ErrElementNotFound)
		assert.Contains(t, err.Error(), "browser.click: element not found: .item")
	})

	t.Run("three elements", func(t *testing.T) {
		s, _, page := newTestSession(t, Options{})
		page.EvalFunc = fakeDOM(3)

		require.NoError(t, s.Click(context.Background(), ".item", 2))
		calls := page.Evaluations()
		require.Len(t, calls, 1)
		assert.Equal(t, []any{".item", 2}, calls[0].Args)
	})
}

func TestFillField(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.EvalFunc = fakeDOM(1)

	err := s.FillField(context.Background(), "#missing", "node.js", 0)
	require.ErrorIs(t, err, ErrElementNotFound)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "missing")

	require.NoError(t, s.FillField(context.Background(), "#search", "node.js", 0))

	before := len(page.Evaluations())
	require.NoError(t, s.FillField(context.Background(), "#search", nil, 0))
	assert.Len(t, page.Evaluations(), before)
}

func TestFillFieldsStopsAtFirstFailure(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.EvalFunc = fakeDOM(1)

	err := s.FillFields(context.Background(), []Field{
		{Selector: "#user", Value: "bob"},
		{Selector: "#missing", Value: "x"},
		{Selector: "#pass", Value: "secret"},
	})
	require.ErrorIs(t, err, ErrElementNotFound)

	var selectors []string
	for _, c := range page.Evaluations() {
		selectors = append(selectors, c.Args[0].(string))
	}
	assert.Equal(t, []string{"#user", "#missing"}, selectors)
}

func TestFindText(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.EvalFunc = fakeDOM(1)
	ctx := context.Background()

	assert.NoError(t, s.FindText(ctx, "h1", "hello", false))
	assert.ErrorIs(t, s.FindText(ctx, "h1", "bye", false), ErrTextNotFound)
	assert.ErrorIs(t, s.FindText(ctx, "#missing", "hello", false), ErrElementNotFound)

	calls := page.Evaluations()
	assert.Equal(t, []any{"h1", "hello", false}, calls[0].Args)
}

func TestCheck(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.EvalFunc = fakeDOM(1)

	require.NoError(t, s.Check(context.Background(), "#agree", false))
	assert.Empty(t, page.Evaluations())

	require.NoError(t, s.Check(context.Background(), "#agree", true))
	assert.Equal(t, 1, evalCalls(page, clickScript))

	assert.ErrorIs(t, s.Check(context.Background(), "#missing", true), ErrElementNotFound)
}

func TestSelect(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.EvalFunc = fakeDOM(1)

	require.NoError(t, s.Select(context.Background(), "#country", "ar", 0))
	err := s.Select(context.Background(), "#missing", "ar", 0)
	require.ErrorIs(t, err, ErrCannotSelect)
	assert.Contains(t, err.Error(), "#missing:ar")

	require.NoError(t, s.Select(context.Background(), "#country", nil, 0))
	assert.Equal(t, 2, evalCalls(page, selectScript))
}

func TestSelectAndFill(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.EvalFunc = fakeDOM(1)
	ctx := context.Background()

	require.NoError(t, s.SelectAndFill(ctx, "#other", "", "#other-text", "x"))
	assert.Empty(t, page.Evaluations())

	require.NoError(t, s.SelectAndFill(ctx, "#other", true, "#other-text", "x"))
	assert.Equal(t, 1, evalCalls(page, clickScript))
	assert.Equal(t, 1, evalCalls(page, fillFieldScript))

	assert.ErrorIs(t, s.SelectAndFill(ctx, "#missing", true, "#other-text", "x"), ErrElementNotFound)
	assert.ErrorIs(t, s.SelectAndFill(ctx, "#other", true, "#missing", "x"), ErrElementNotFound)
}

func TestEnabledGetTextExists(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.EvalFunc = fakeDOM(1)
	ctx := context.Background()

	assert.NoError(t, s.Enabled(ctx, "#submit"))
	assert.ErrorIs(t, s.Enabled(ctx, "#missing"), ErrElementNotFound)

	text, err := s.GetText(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = s.GetText(ctx, "#missing")
	assert.ErrorIs(t, err, ErrElementNotFound)

	ok, err := s.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "#missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluatePropagatesEngineError(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.EvalFunc = func(string, []any) (any, error) { return nil, errors.New("ReferenceError: x") }

	_, err := s.Evaluate(context.Background(), "function () { return x; }")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ReferenceError")

	assert.Error(t, s.Click(context.Background(), "a", 0))
}

func TestWaitForURL(t *testing.T) {
	t.Run("matches current url at once", func(t *testing.T) {
		s, _, page := newTestSession(t, Options{})
		page.SetURL("http://example.com/home")

		url, err := s.WaitForURL(testContext(t), URLPattern(regexp.MustCompile(`example\.com`)))
		require.NoError(t, err)
		assert.Equal(t, "http://example.com/home", url)
		assert.Equal(t, 0, s.Events().ListenerCount("onUrlChanged"))
	})

	t.Run("waits for matching change", func(t *testing.T) {
		s, _, page := newTestSession(t, Options{})
		out := make(chan loadedResult, 1)
		go func() {
			url, err := s.WaitForURL(context.Background(), ExactURL("http://example.com/next"))
			out <- loadedResult{url: url, err: err}
		}()
		require.Eventually(t, func() bool {
			return s.Events().ListenerCount("onUrlChanged") == 1
		}, time.Second, time.Millisecond)

		page.Fire(engine.EventURLChanged, "http://example.com/next")
		r := <-out
		require.NoError(t, r.err)
		assert.Equal(t, "http://example.com/next", r.url)
	})

	t.Run("rejects non matching change", func(t *testing.T) {
		s, _, page := newTestSession(t, Options{})
		out := make(chan loadedResult, 1)
		go func() {
			url, err := s.WaitForURL(context.Background(), URLGlob("https://*.example.com/**"))
			out <- loadedResult{url: url, err: err}
		}()
		require.Eventually(t, func() bool {
			return s.Events().ListenerCount("onUrlChanged") == 1
		}, time.Second, time.Millisecond)

		page.Fire(engine.EventURLChanged, "http://other.org/")
		r := <-out
		require.ErrorIs(t, r.err, ErrURLMismatch)
		assert.Contains(t, r.err.Error(), "http://other.org/")
	})

	t.Run("nil matcher", func(t *testing.T) {
		s, _, _ := newTestSession(t, Options{})
		_, err := s.WaitForURL(context.Background(), nil)
		assert.ErrorIs(t, err, ErrMissingArgument)
	})
}

func TestURLMatchers(t *testing.T) {
	tests := []struct {
		name    string
		matcher URLMatcher
		url     string
		want    bool
	}{
		{"exact hit", ExactURL("http://a.com/"), "http://a.com/", true},
		{"exact miss", ExactURL("http://a.com/"), "http://a.com/x", false},
		{"pattern", URLPattern(regexp.MustCompile(`/orders/\d+$`)), "http://a.com/orders/42", true},
		{"glob subdomain", URLGlob("https://*.example.com/**"), "https://www.example.com/a/b", true},
		{"glob scheme", URLGlob("https://*.example.com/**"), "http://www.example.com/a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.matcher.MatchURL(tt.url))
		})
	}
}

func TestScreenshot(t *testing.T) {
	folder := t.TempDir()
	s, _, page := newTestSession(t, Options{ID: "sess-shots", ScreenshotFolder: folder})
	ctx := testContext(t)

	path, err := s.Screenshot(ctx, "home.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "sess-shots", "home.png"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	path, err = s.Screenshot(ctx, "")
	require.NoError(t, err)
	assert.Regexp(t, `[0-9]+\.png$`, path)
	assert.Len(t, page.Renders(), 2)

	files, err := s.Screenshots(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Contains(t, files, "home.png")
}

func TestScreenshotRenderError(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	page.RenderErr = engine.ErrRenderUnsupported

	_, err := s.Screenshot(testContext(t), "x.png")
	assert.ErrorIs(t, err, engine.ErrRenderUnsupported)
}

func TestGetCookies(t *testing.T) {
	s, _, page := newTestSession(t, Options{})
	ctx := context.Background()

	cookies, err := s.GetCookies(ctx)
	require.NoError(t, err)
	assert.Empty(t, cookies)

	require.NoError(t, page.SetProperty(ctx, engine.PropCookies, []any{
		map[string]any{"name": "sid", "value": "abc", "domain": "example.com", "httponly": true},
	}))
	cookies, err = s.GetCookies(ctx)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, engine.Cookie{Name: "sid", Value: "abc", Domain: "example.com", HTTPOnly: true}, cookies[0])

	want := []engine.Cookie{{Name: "a", Value: "b"}}
	require.NoError(t, page.SetProperty(ctx, engine.PropCookies, want))
	cookies, err = s.GetCookies(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, cookies)
}

func TestSleepDefaultsToOneSecondAndHonoursContext(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, s.Sleep(ctx, 0), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTruthy(t *testing.T) {
	assert.False(t, truthy(nil))
	assert.False(t, truthy(false))
	assert.False(t, truthy(""))
	assert.False(t, truthy(int64(0)))
	assert.False(t, truthy(0.0))
	assert.True(t, truthy("x"))
	assert.True(t, truthy(int64(3)))
	assert.True(t, truthy(map[string]any{}))
}

// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Engine is a fake engine process.
type Engine struct {
	mu        sync.Mutex
	pages     []*Page
	args      []string
	done      chan struct{}
	exitOnce  sync.Once
	exitCalls atomic.Int32

	// CreateErr makes CreatePage fail.
	CreateErr error
	// HoldExit keeps Done open after Exit until ReleaseExit is called.
	HoldExit bool
}

// NewEngine creates a fake engine.
func NewEngine() *Engine {
	return &Engine{done: make(chan struct{})}
}

// Launcher returns a launcher that hands out this engine.
func (e *Engine) Launcher() engine.Launcher {
	return engine.LauncherFunc(func(ctx context.Context, args []string) (engine.Engine, error) {
		e.mu.Lock()
		e.args = append([]string(nil), args...)
		e.mu.Unlock()
		return e, nil
	})
}

// BlockingLauncher returns a launcher that waits for release before
// handing out this engine.
func (e *Engine) BlockingLauncher(release <-chan struct{}) engine.Launcher {
	return engine.LauncherFunc(func(ctx context.Context, args []string) (engine.Engine, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.Launcher().Launch(ctx, args)
	})
}

// FailingLauncher returns a launcher that always fails with err.
func FailingLauncher(err error) engine.Launcher {
	return engine.LauncherFunc(func(ctx context.Context, args []string) (engine.Engine, error) {
		return nil, err
	})
}

// LaunchArgs returns the args passed at launch.
func (e *Engine) LaunchArgs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.args...)
}

// CreatePage opens a new fake page.
func (e *Engine) CreatePage(ctx context.Context) (engine.PageHandle, error) {
	if e.CreateErr != nil {
		return nil, e.CreateErr
	}
	p := e.NewPage()
	return p, nil
}

// NewPage creates and tracks a page without going through CreatePage.
func (e *Engine) NewPage() *Page {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := NewPage(fmt.Sprintf("page-%d", len(e.pages)+1))
	e.pages = append(e.pages, p)
	return p
}

// Pages returns every page created so far.
func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Page(nil), e.pages...)
}

// Exit records the call and closes Done unless HoldExit is set.
func (e *Engine) Exit(ctx context.Context) error {
	e.exitCalls.Add(1)
	if !e.HoldExit {
		e.ReleaseExit()
	}
	return nil
}

// ReleaseExit closes Done.
func (e *Engine) ReleaseExit() {
	e.exitOnce.Do(func() { close(e.done) })
}

// ExitCalls returns how many times Exit was called.
func (e *Engine) ExitCalls() int {
	return int(e.exitCalls.Load())
}

// Done is closed once the fake process exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// StreamingEngine wraps Engine and implements engine.Streamer.
type StreamingEngine struct {
	*Engine
	R io.Reader
}

// Output returns the raw stream.
func (s StreamingEngine) Output() io.Reader {
	return s.R
}

// EvalCall records one Evaluate invocation.
type EvalCall struct {
	Fn   string
	Args []any
}

// Page is a fake page handle. Events are delivered synchronously by Fire.
type Page struct {
	id string

	mu       sync.Mutex
	handlers map[engine.EventKind]engine.Forwarder
	props    map[string]any
	evals    []EvalCall
	opens    []string
	renders  []string

	// EvalFunc answers Evaluate; nil returns (nil, nil).
	EvalFunc func(fn string, args []any) (any, error)
	// OpenFunc replaces the default Open behaviour, which sets the url and
	// fires onLoadStarted, onUrlChanged and onLoadFinished.
	OpenFunc func(p *Page, url, method, data string) (string, error)
	// RenderErr makes Render fail.
	RenderErr error
}

// NewPage creates a standalone fake page.
func NewPage(id string) *Page {
	return &Page{
		id:       id,
		handlers: make(map[engine.EventKind]engine.Forwarder),
		props:    map[string]any{engine.PropURL: "about:blank"},
	}
}

// ID returns the page id.
func (p *Page) ID() string { return p.id }

// Open navigates the fake page.
func (p *Page) Open(ctx context.Context, url, method, data string) (string, error) {
	p.mu.Lock()
	p.opens = append(p.opens, method+" "+url)
	fn := p.OpenFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(p, url, method, data)
	}
	p.Fire(engine.EventLoadStarted)
	p.SetURL(url)
	p.Fire(engine.EventURLChanged, url)
	p.Fire(engine.EventLoadFinished, "success")
	return "success", nil
}

// Opens returns "METHOD url" for each Open call.
func (p *Page) Opens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.opens...)
}

// Evaluate records the call and delegates to EvalFunc.
func (p *Page) Evaluate(ctx context.Context, fn string, args ...any) (any, error) {
	p.mu.Lock()
	p.evals = append(p.evals, EvalCall{Fn: fn, Args: args})
	eval := p.EvalFunc
	p.mu.Unlock()

	if eval == nil {
		return nil, nil
	}
	return eval(fn, args)
}

// Evaluations returns the recorded Evaluate calls.
func (p *Page) Evaluations() []EvalCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]EvalCall(nil), p.evals...)
}

// Property returns a stored property.
func (p *Page) Property(ctx context.Context, name string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props[name], nil
}

// SetProperty stores a property.
func (p *Page) SetProperty(ctx context.Context, name string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[name] = value
	return nil
}

// SetURL changes the url property without firing events.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[engine.PropURL] = url
}

// Render writes a placeholder file unless RenderErr is set.
func (p *Page) Render(ctx context.Context, path string) error {
	if p.RenderErr != nil {
		return p.RenderErr
	}
	p.mu.Lock()
	p.renders = append(p.renders, path)
	p.mu.Unlock()
	return os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o644)
}

// Renders returns the paths passed to Render.
func (p *Page) Renders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.renders...)
}

// Bind installs a forwarder.
func (p *Page) Bind(kind engine.EventKind, fn engine.Forwarder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = fn
}

// Bound reports whether kind has a forwarder.
func (p *Page) Bound(kind engine.EventKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[kind]
	return ok
}

// Fire delivers a native event synchronously. Unbound kinds are dropped.
func (p *Page) Fire(kind engine.EventKind, args ...string) {
	p.mu.Lock()
	fn := p.handlers[kind]
	p.mu.Unlock()

	if fn != nil {
		fn(engine.NativeEvent{Kind: kind, Args: args})
	}
}

// FirePageCreated reports tab as a new page opened from p.
func (p *Page) FirePageCreated(tab engine.PageHandle) {
	p.mu.Lock()
	fn := p.handlers[engine.EventPageCreated]
	p.mu.Unlock()

	if fn != nil {
		fn(engine.NativeEvent{Kind: engine.EventPageCreated, Page: tab})
	}
}

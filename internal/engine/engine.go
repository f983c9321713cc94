package engine

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrRenderUnsupported is returned by engines that cannot rasterize pages.
	ErrRenderUnsupported = errors.New("engine does not support rendering")
	// ErrPageClosed is returned when operating on a page whose tab was closed.
	ErrPageClosed = errors.New("page is closed")
	// ErrEngineExited is returned when the engine process is gone.
	ErrEngineExited = errors.New("engine has exited")
)

// Launcher starts an engine process.
type Launcher interface {
	Launch(ctx context.Context, args []string) (Engine, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, args []string) (Engine, error)

// Launch calls f(ctx, args).
func (f LauncherFunc) Launch(ctx context.Context, args []string) (Engine, error) {
	return f(ctx, args)
}

// Engine is a running headless browser process.
type Engine interface {
	// CreatePage opens a new blank page.
	CreatePage(ctx context.Context) (PageHandle, error)
	// Exit asks the process to terminate. The exit is observed through Done.
	Exit(ctx context.Context) error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Streamer is implemented by engines that expose their raw process output.
type Streamer interface {
	Output() io.Reader
}

// Forwarder receives one native event from a page.
type Forwarder func(ev NativeEvent)

// NativeEvent is an occurrence reported by the engine for a page.
type NativeEvent struct {
	Kind EventKind
	Args []string
	// Page is set for EventPageCreated and holds the new tab.
	Page PageHandle
}

// PageHandle is a renderable page inside the engine.
type PageHandle interface {
	ID() string
	// Open navigates the page and returns once the load has finished.
	Open(ctx context.Context, url, method, data string) (string, error)
	// Evaluate calls the JavaScript function source fn with args inside the page.
	Evaluate(ctx context.Context, fn string, args ...any) (any, error)
	Property(ctx context.Context, name string) (any, error)
	SetProperty(ctx context.Context, name string, value any) error
	Render(ctx context.Context, path string) error
	// Bind installs the forwarder for one native event kind. Binding the
	// same kind again replaces the previous forwarder.
	Bind(kind EventKind, fn Forwarder)
}

// Cookie is a browser cookie as reported by the "cookies" page property.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httponly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

// Well-known page property names.
const (
	PropURL       = "url"
	PropTitle     = "title"
	PropContent   = "content"
	PropCookies   = "cookies"
	PropUserAgent = "userAgent"
	PropViewport  = "viewportSize"
)

package sandbox

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Launcher starts sandbox engines.
type Launcher struct {
	logger *zap.Logger
	client ClientOptions
}

// NewLauncher creates a launcher. A nil logger discards engine logs.
func NewLauncher(logger *zap.Logger, client ClientOptions) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger.Named("sandbox"), client: client}
}

// Launch parses args and starts an engine with its own cookie jar.
func (l *Launcher) Launch(ctx context.Context, args []string) (engine.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, err
	}
	fetch, err := newFetcher(l.client, flags, l.logger)
	if err != nil {
		return nil, err
	}

	ectx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		flags:  flags,
		fetch:  fetch,
		log:    l.logger,
		ctx:    ectx,
		cancel: cancel,
		pages:  make(map[string]*Page),
		done:   make(chan struct{}),
	}
	l.logger.Debug("engine started",
		zap.Bool("web_security", flags.WebSecurity),
		zap.Bool("ignore_ssl_errors", flags.IgnoreSSLErrors),
		zap.Bool("load_images", flags.LoadImages),
		zap.Duration("script_timeout", flags.ScriptTimeout),
	)
	return e, nil
}

// Engine is an in-process browser. Pages share the cookie jar and the
// HTTP client.
type Engine struct {
	flags Flags
	fetch *fetcher
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pages   map[string]*Page
	exiting bool

	exitOnce sync.Once
	done     chan struct{}
}

// Flags returns the parsed launch flags.
func (e *Engine) Flags() Flags {
	return e.flags
}

// CreatePage opens a blank tab.
func (e *Engine) CreatePage(ctx context.Context) (engine.PageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := e.newPage()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) newPage() (*Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exiting {
		return nil, engine.ErrEngineExited
	}
	p := newPage(e)
	e.pages[p.id] = p
	return p, nil
}

func (e *Engine) forget(p *Page) {
	e.mu.Lock()
	delete(e.pages, p.id)
	e.mu.Unlock()
}

// Pages lists open tabs by id.
func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Page, 0, len(e.pages))
	for _, p := range e.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Exit stops every page. Done closes once they have all stopped.
func (e *Engine) Exit(ctx context.Context) error {
	e.exitOnce.Do(func() {
		e.mu.Lock()
		e.exiting = true
		pages := make([]*Page, 0, len(e.pages))
		for _, p := range e.pages {
			pages = append(pages, p)
		}
		e.pages = map[string]*Page{}
		e.mu.Unlock()

		e.cancel()
		go func() {
			defer close(e.done)
			for _, p := range pages {
				p.shutdown()
			}
			e.log.Debug("engine exited", zap.Int("pages", len(pages)))
		}()
	})
	return nil
}

func (e *Engine) Done() <-chan struct{} {
	return e.done
}

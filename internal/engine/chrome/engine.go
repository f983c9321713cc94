package chrome

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Options selects the Chrome process.
type Options struct {
	// Bin is the browser executable. Empty lets rod find or download one.
	Bin string
	// ControlURL attaches to a running browser instead of launching one.
	ControlURL string
	// Headful shows the browser window.
	Headful bool
}

// Launcher starts Chrome over the DevTools protocol.
type Launcher struct {
	opts   Options
	logger *zap.Logger
}

// NewLauncher creates a launcher. A nil logger discards engine logs.
func NewLauncher(logger *zap.Logger, opts Options) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{opts: opts, logger: logger.Named("chrome")}
}

// Launch starts (or attaches to) a browser with args translated to Chrome
// switches. The browser's stdout and stderr are exposed through Output.
func (l *Launcher) Launch(ctx context.Context, args []string) (engine.Engine, error) {
	settings, err := translateArgs(args)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	var proc *launcher.Launcher
	controlURL := l.opts.ControlURL
	if controlURL == "" {
		proc = launcher.New().Context(ctx).Headless(!l.opts.Headful).Logger(pw)
		if l.opts.Bin != "" {
			proc = proc.Bin(l.opts.Bin)
		}
		for _, s := range settings {
			proc = proc.Set(s.name, s.values...)
		}
		controlURL, err = proc.Launch()
		if err != nil {
			_ = pw.Close()
			return nil, fmt.Errorf("chrome: launch: %w", err)
		}
	}

	bctx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(controlURL).Context(bctx).NoDefaultDevice()
	if err := browser.Connect(); err != nil {
		cancel()
		if proc != nil {
			proc.Kill()
			proc.Cleanup()
		}
		_ = pw.Close()
		return nil, fmt.Errorf("chrome: connect %s: %w", controlURL, err)
	}

	e := &Engine{
		browser: browser,
		proc:    proc,
		log:     l.logger,
		cancel:  cancel,
		out:     pr,
		outW:    pw,
		pages:   make(map[proto.TargetTargetID]*Page),
		done:    make(chan struct{}),
	}
	go e.watch()
	l.logger.Debug("browser connected", zap.String("control_url", controlURL), zap.Int("switches", len(settings)))
	return e, nil
}

// Engine is a connected Chrome instance.
type Engine struct {
	browser *rod.Browser
	proc    *launcher.Launcher
	log     *zap.Logger
	cancel  context.CancelFunc

	out  *io.PipeReader
	outW *io.PipeWriter

	mu      sync.Mutex
	pages   map[proto.TargetTargetID]*Page
	exiting bool

	exitOnce sync.Once
	done     chan struct{}
}

// Output streams the browser process output.
func (e *Engine) Output() io.Reader {
	return e.out
}

// CreatePage opens a blank tab.
func (e *Engine) CreatePage(ctx context.Context) (engine.PageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	exiting := e.exiting
	e.mu.Unlock()
	if exiting {
		return nil, engine.ErrEngineExited
	}

	rp, err := e.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("chrome: create page: %w", err)
	}
	p, err := e.adopt(rp, false)
	if err != nil {
		_ = rp.Close()
		return nil, err
	}
	return p, nil
}

// adopt wraps rp and starts its event stream. A held page buffers its
// events until release.
func (e *Engine) adopt(rp *rod.Page, held bool) (*Page, error) {
	p, err := newPage(e, rp, held)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exiting {
		p.shutdown()
		return nil, engine.ErrEngineExited
	}
	e.pages[rp.TargetID] = p
	return p, nil
}

func (e *Engine) lookup(id proto.TargetTargetID) *Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages[id]
}

func (e *Engine) forget(p *Page) {
	e.mu.Lock()
	delete(e.pages, p.rp.TargetID)
	e.mu.Unlock()
}

// watch follows browser-wide target events: popups opened by a page and
// tabs closed from script.
func (e *Engine) watch() {
	defer func() {
		e.mu.Lock()
		exiting := e.exiting
		e.mu.Unlock()
		if !exiting {
			e.exited()
		}
	}()

	wait := e.browser.EachEvent(
		func(ev *proto.TargetTargetCreated) {
			info := ev.TargetInfo
			if info == nil || info.Type != proto.TargetTargetInfoTypePage || info.OpenerID == "" {
				return
			}
			opener := e.lookup(info.OpenerID)
			if opener == nil {
				return
			}
			go e.popup(opener, info.TargetID)
		},
		func(ev *proto.TargetTargetDestroyed) {
			if p := e.lookup(ev.TargetID); p != nil {
				go p.closedRemotely()
			}
		},
	)
	wait()
}

func (e *Engine) popup(opener *Page, id proto.TargetTargetID) {
	rp, err := e.browser.PageFromTarget(id)
	if err != nil {
		e.log.Debug("attach popup failed", zap.String("target", string(id)), zap.Error(err))
		return
	}
	child, err := e.adopt(rp, true)
	if err != nil {
		return
	}
	opener.post(engine.NativeEvent{
		Kind: engine.EventPageCreated,
		Args: []string{child.ID()},
		Page: child,
	}, child.events.Release)
}

// Exit closes the browser. Done closes once the process is gone.
func (e *Engine) Exit(ctx context.Context) error {
	e.exitOnce.Do(func() {
		e.mu.Lock()
		e.exiting = true
		pages := make([]*Page, 0, len(e.pages))
		for _, p := range e.pages {
			pages = append(pages, p)
		}
		e.pages = map[proto.TargetTargetID]*Page{}
		e.mu.Unlock()

		for _, p := range pages {
			p.shutdown()
		}
		if err := e.browser.Close(); err != nil {
			e.log.Debug("browser close failed", zap.Error(err))
		}
		e.cancel()
		go func() {
			if e.proc != nil {
				e.proc.Kill()
				e.proc.Cleanup()
			}
			e.exited()
		}()
	})
	return nil
}

func (e *Engine) exited() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.done:
		return
	default:
	}
	e.exiting = true
	_ = e.outW.Close()
	close(e.done)
}

// Done is closed once the browser has exited or the connection dropped.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

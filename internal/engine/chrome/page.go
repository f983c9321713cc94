package chrome

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/rod/lib/utils"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/engine/dispatch"
)

// Load statuses reported by Open and onLoadFinished.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// errorPageGrace bounds the wait for Chrome's error page after a failed
// navigation.
const errorPageGrace = 3 * time.Second

var defaultViewport = proto.EmulationSetDeviceMetricsOverride{Width: 400, Height: 300, DeviceScaleFactor: 1}

// Page is one Chrome tab.
type Page struct {
	eng *Engine
	rp  *rod.Page
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events *dispatch.Queue

	// loads receives one status per main-frame load event
	loads chan string

	mu        sync.RWMutex
	handlers  map[engine.EventKind]engine.Forwarder
	url       string
	errorPage bool
	props     map[string]any
	closed    bool

	stopOnce sync.Once
}

func newPage(e *Engine, rp *rod.Page, held bool) (*Page, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		eng:      e,
		rp:       rp,
		log:      e.log.With(zap.String("page", string(rp.TargetID))),
		ctx:      ctx,
		cancel:   cancel,
		loads:    make(chan string, 1),
		handlers: make(map[engine.EventKind]engine.Forwarder),
		url:      "about:blank",
		props:    make(map[string]any),
	}
	if held {
		p.events = dispatch.NewHeld()
	} else {
		p.events = dispatch.New()
		if err := rp.SetViewport(&defaultViewport); err != nil {
			p.shutdown()
			return nil, fmt.Errorf("chrome: set viewport: %w", err)
		}
	}

	for _, enable := range []interface{ Call(proto.Client) error }{
		proto.RuntimeEnable{},
		proto.NetworkEnable{},
	} {
		if err := enable.Call(rp); err != nil {
			p.shutdown()
			return nil, fmt.Errorf("chrome: enable domain: %w", err)
		}
	}
	go p.listen()
	return p, nil
}

func (p *Page) ID() string {
	return string(p.rp.TargetID)
}

func (p *Page) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Bind installs the forwarder for kind.
func (p *Page) Bind(kind engine.EventKind, fn engine.Forwarder) {
	p.mu.Lock()
	p.handlers[kind] = fn
	p.mu.Unlock()
}

func (p *Page) emit(kind engine.EventKind, args ...string) {
	p.post(engine.NativeEvent{Kind: kind, Args: args}, nil)
}

func (p *Page) post(ev engine.NativeEvent, after func()) {
	p.events.Post(func() {
		p.mu.RLock()
		fn := p.handlers[ev.Kind]
		p.mu.RUnlock()
		if fn != nil {
			fn(ev)
		}
		if after != nil {
			after()
		}
	})
}

// listen translates DevTools events into native events until the page
// stops.
func (p *Page) listen() {
	rp := p.rp.Context(p.ctx)
	main := p.rp.FrameID

	wait := rp.EachEvent(
		func(ev *proto.PageFrameStartedLoading) {
			if ev.FrameID == main {
				p.emit(engine.EventLoadStarted)
			}
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			u := ev.Frame.URL
			failed := strings.HasPrefix(u, "chrome-error:")

			p.mu.Lock()
			p.errorPage = failed
			prev := p.url
			if !failed {
				p.url = u
			}
			p.mu.Unlock()
			if failed {
				return
			}
			if prev != u {
				p.emit(engine.EventURLChanged, u)
			}
			p.emit(engine.EventInitialized)
		},
		func(ev *proto.PageLoadEventFired) {
			p.mu.RLock()
			status := StatusSuccess
			if p.errorPage {
				status = StatusFail
			}
			p.mu.RUnlock()
			p.finishLoad(status)
		},
		func(ev *proto.RuntimeConsoleAPICalled) {
			p.emit(engine.EventConsoleMessage, consoleText(ev.Args))
		},
		func(ev *proto.PageJavascriptDialogOpening) {
			p.dialog(ev)
		},
		func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Request != nil {
				p.emit(engine.EventResourceRequested, ev.Request.Method, ev.Request.URL)
			}
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response != nil {
				p.emit(engine.EventResourceReceived, strconv.Itoa(ev.Response.Status), ev.Response.URL)
			}
		},
	)
	wait()
}

// finishLoad reports a finished main-frame load and wakes a pending Open
// once listeners have seen it.
func (p *Page) finishLoad(status string) {
	p.post(engine.NativeEvent{Kind: engine.EventLoadFinished, Args: []string{status}}, func() {
		select {
		case p.loads <- status:
		default:
		}
	})
}

// dialog reports a JavaScript dialog and answers it: alerts and confirms
// are accepted, prompts get their default text.
func (p *Page) dialog(ev *proto.PageJavascriptDialogOpening) {
	switch ev.Type {
	case proto.PageDialogTypeAlert:
		p.emit(engine.EventAlert, ev.Message)
	case proto.PageDialogTypeConfirm:
		p.emit(engine.EventConfirm, ev.Message)
	case proto.PageDialogTypePrompt:
		p.emit(engine.EventPrompt, ev.Message, ev.DefaultPrompt)
	}
	go func() {
		err := proto.PageHandleJavaScriptDialog{Accept: true, PromptText: ev.DefaultPrompt}.Call(p.rp)
		if err != nil {
			p.log.Debug("dialog answer failed", zap.Error(err))
		}
	}()
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		switch {
		case a.Type == proto.RuntimeRemoteObjectTypeUndefined:
			parts = append(parts, "undefined")
		case a.Subtype == proto.RuntimeRemoteObjectSubtypeNull:
			parts = append(parts, "null")
		case !a.Value.Nil():
			parts = append(parts, a.Value.String())
		default:
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

// Open navigates the page and returns once onLoadFinished was delivered.
// Navigation errors are reported as StatusFail. A POST is sent by
// rewriting the intercepted navigation request.
func (p *Page) Open(ctx context.Context, rawURL, method, data string) (string, error) {
	if p.isClosed() {
		return "", engine.ErrPageClosed
	}
	select {
	case <-p.loads:
	default:
	}

	if !strings.EqualFold(method, "GET") && method != "" {
		restore, err := p.rewriteNextRequest(rawURL, strings.ToUpper(method), data)
		if err != nil {
			return "", err
		}
		defer restore()
	}

	res, err := proto.PageNavigate{URL: rawURL}.Call(p.rp.Context(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.log.Debug("navigate failed", zap.String("url", rawURL), zap.Error(err))
		p.finishLoad(StatusFail)
	} else if res.ErrorText != "" {
		p.log.Debug("navigation error", zap.String("url", rawURL), zap.String("reason", res.ErrorText))
	}

	grace := (<-chan time.Time)(nil)
	if err != nil || res.ErrorText != "" {
		t := time.NewTimer(errorPageGrace)
		defer t.Stop()
		grace = t.C
	}

	select {
	case status := <-p.loads:
		return status, nil
	case <-grace:
		p.finishLoad(StatusFail)
		select {
		case status := <-p.loads:
			return status, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.events.Done():
		return "", engine.ErrPageClosed
	}
}

// rewriteNextRequest turns the next document request for target into
// method with body.
func (p *Page) rewriteNextRequest(target, method, body string) (func(), error) {
	err := proto.FetchEnable{Patterns: []*proto.FetchRequestPattern{{
		URLPattern:   target,
		ResourceType: proto.NetworkResourceTypeDocument,
	}}}.Call(p.rp)
	if err != nil {
		return nil, fmt.Errorf("chrome: intercept %s: %w", target, err)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	go p.rp.Context(ctx).EachEvent(func(ev *proto.FetchRequestPaused) bool {
		headers := []*proto.FetchHeaderEntry{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}
		if ev.Request != nil {
			for k, v := range ev.Request.Headers {
				if !strings.EqualFold(k, "Content-Type") {
					headers = append(headers, &proto.FetchHeaderEntry{Name: k, Value: v.String()})
				}
			}
		}
		err := proto.FetchContinueRequest{
			RequestID: ev.RequestID,
			Method:    method,
			PostData:  []byte(body),
			Headers:   headers,
		}.Call(p.rp)
		if err != nil {
			p.log.Debug("rewrite request failed", zap.Error(err))
		}
		return true
	})()

	return func() {
		cancel()
		_ = proto.FetchDisable{}.Call(p.rp)
	}, nil
}

// Evaluate calls the function source fn with args in the page.
func (p *Page) Evaluate(ctx context.Context, fn string, args ...any) (any, error) {
	if p.isClosed() {
		return nil, engine.ErrPageClosed
	}
	res, err := p.rp.Context(ctx).Evaluate(rod.Eval(fn, args...))
	if err != nil {
		return nil, err
	}
	if res == nil || res.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return nil, nil
	}
	return res.Value.Val(), nil
}

// Property reads a page property such as url, title, content or cookies.
func (p *Page) Property(ctx context.Context, name string) (any, error) {
	if p.isClosed() {
		return nil, engine.ErrPageClosed
	}
	rp := p.rp.Context(ctx)
	switch name {
	case engine.PropURL:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.url, nil
	case engine.PropTitle:
		info, err := rp.Info()
		if err != nil {
			return nil, err
		}
		return info.Title, nil
	case engine.PropContent:
		return rp.HTML()
	case "plainText":
		return p.Evaluate(ctx, `function () { return document.body ? document.body.innerText : ""; }`)
	case engine.PropUserAgent:
		return p.Evaluate(ctx, `function () { return navigator.userAgent; }`)
	case engine.PropViewport:
		return p.Evaluate(ctx, `function () { return {width: window.innerWidth, height: window.innerHeight}; }`)
	case engine.PropCookies:
		cookies, err := rp.Cookies(nil)
		if err != nil {
			return nil, err
		}
		out := make([]engine.Cookie, 0, len(cookies))
		for _, c := range cookies {
			out = append(out, engine.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  int64(c.Expires),
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		return out, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.props[name], nil
}

// SetProperty writes a page property.
func (p *Page) SetProperty(ctx context.Context, name string, value any) error {
	if p.isClosed() {
		return engine.ErrPageClosed
	}
	rp := p.rp.Context(ctx)
	switch name {
	case engine.PropURL, engine.PropTitle:
		return fmt.Errorf("chrome: property %s is read-only", name)
	case engine.PropUserAgent:
		ua, ok := value.(string)
		if !ok {
			return fmt.Errorf("chrome: userAgent must be a string, got %T", value)
		}
		return rp.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})
	case engine.PropViewport:
		var v struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		}
		if err := convert(value, &v); err != nil {
			return fmt.Errorf("chrome: viewportSize: %w", err)
		}
		return rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: v.Width, Height: v.Height, DeviceScaleFactor: 1})
	case engine.PropCookies:
		var cookies []engine.Cookie
		if err := convert(value, &cookies); err != nil {
			return fmt.Errorf("chrome: cookies: %w", err)
		}
		p.mu.RLock()
		current := p.url
		p.mu.RUnlock()
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			param := &proto.NetworkCookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
				Expires:  proto.TimeSinceEpoch(c.Expires),
			}
			if c.Domain == "" {
				param.URL = current
			}
			params = append(params, param)
		}
		return rp.SetCookies(params)
	case engine.PropContent:
		content, ok := value.(string)
		if !ok {
			return fmt.Errorf("chrome: content must be a string, got %T", value)
		}
		return rp.SetDocumentContent(content)
	}
	p.mu.Lock()
	p.props[name] = value
	p.mu.Unlock()
	return nil
}

// Render writes a screenshot to path. The extension picks the format:
// .pdf prints the page, .jpg and .jpeg capture JPEG, anything else PNG.
func (p *Page) Render(ctx context.Context, path string) error {
	if p.isClosed() {
		return engine.ErrPageClosed
	}
	rp := p.rp.Context(ctx)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		r, err := rp.PDF(&proto.PagePrintToPDF{PrintBackground: true})
		if err != nil {
			return fmt.Errorf("chrome: print pdf: %w", err)
		}
		return utils.OutputFile(path, r)
	case ".jpg", ".jpeg":
		bin, err := rp.Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatJpeg})
		if err != nil {
			return fmt.Errorf("chrome: screenshot: %w", err)
		}
		return utils.OutputFile(path, bin)
	}
	bin, err := rp.Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return fmt.Errorf("chrome: screenshot: %w", err)
	}
	return utils.OutputFile(path, bin)
}

// Close closes the tab. Listeners receive onClosing first.
func (p *Page) Close(ctx context.Context) error {
	if !p.markClosed() {
		return nil
	}
	p.emit(engine.EventClosing, p.ID())
	err := p.rp.Close()
	p.shutdown()
	p.eng.forget(p)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("chrome: close page: %w", err)
	}
	return nil
}

// closedRemotely handles a tab closed by the page itself.
func (p *Page) closedRemotely() {
	if !p.markClosed() {
		return
	}
	p.emit(engine.EventClosing, p.ID())
	p.shutdown()
	p.eng.forget(p)
}

func (p *Page) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

func (p *Page) shutdown() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cancel()
		p.events.Stop()
	})
}

func convert(in, out any) error {
	raw, err := sonic.Marshal(in)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(raw, out)
}

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/engine/dispatch"
)

// Load statuses reported by Open and onLoadFinished.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

const blankURL = "about:blank"

var errPageStopped = engine.ErrPageClosed

// Viewport is the simulated window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Page is one tab of the sandbox engine.
type Page struct {
	id    string
	eng   *Engine
	fetch *fetcher
	flags Flags
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loop   *loop
	events *dispatch.Queue

	mu       sync.RWMutex
	handlers map[engine.EventKind]engine.Forwarder
	url      string
	view     Viewport
	props    map[string]any
	closed   bool

	nav      atomic.Uint64
	vm       atomic.Pointer[goja.Runtime]
	stopOnce sync.Once

	// rt is owned by the loop goroutine.
	rt *runtime
}

func newPage(e *Engine) *Page {
	ctx, cancel := context.WithCancel(e.ctx)
	id := uuid.NewString()
	return &Page{
		id:       id,
		eng:      e,
		fetch:    e.fetch,
		flags:    e.flags,
		log:      e.log.With(zap.String("page", id)),
		ctx:      ctx,
		cancel:   cancel,
		loop:     newLoop(),
		events:   dispatch.New(),
		handlers: make(map[engine.EventKind]engine.Forwarder),
		url:      blankURL,
		view:     Viewport{Width: 400, Height: 300},
		props:    make(map[string]any),
	}
}

func (p *Page) ID() string {
	return p.id
}

// URL returns the committed document url.
func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

func (p *Page) viewport() Viewport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
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

// post queues ev for the bound forwarder and runs after once it returned.
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

// Open navigates the page and returns once onLoadFinished was delivered.
// Network failures are reported as StatusFail, not as an error.
func (p *Page) Open(ctx context.Context, rawURL, method, data string) (string, error) {
	if p.isClosed() {
		return "", engine.ErrPageClosed
	}
	return p.load(ctx, func(ctx context.Context) (*document, bool) {
		return p.fetchDocument(ctx, rawURL, method, data, "")
	})
}

// navigate is a page-initiated navigation: link, form or location change.
func (p *Page) navigate(target, method, body, referer string) {
	_, err := p.load(p.ctx, func(ctx context.Context) (*document, bool) {
		return p.fetchDocument(ctx, target, method, body, referer)
	})
	if err != nil && p.ctx.Err() == nil {
		p.log.Debug("navigation failed", zap.String("url", target), zap.Error(err))
	}
}

type document struct {
	url     *url.URL
	doc     *goquery.Document
	scripts []pageScript
}

type pageScript struct {
	name string
	src  string
}

func (p *Page) load(ctx context.Context, source func(context.Context) (*document, bool)) (string, error) {
	seq := p.nav.Add(1)
	p.emit(engine.EventLoadStarted)

	d, ok := source(ctx)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ok {
		d.scripts = p.collectScripts(ctx, d)
		if p.flags.LoadImages {
			p.loadImages(ctx, d)
		}
	}

	committed, err := call(ctx, p.loop, func() (bool, error) {
		if p.nav.Load() != seq {
			return false, nil
		}
		if !ok {
			return true, nil
		}
		return true, p.commit(d)
	})
	if err != nil {
		return "", err
	}
	if !committed {
		p.log.Debug("navigation superseded")
		return StatusFail, nil
	}

	status := StatusSuccess
	if !ok {
		status = StatusFail
	}
	p.emit(engine.EventLoadFinished, status)
	if ok {
		v := p.viewport()
		p.emit(engine.EventRepaintRequested, "0", "0", strconv.Itoa(v.Width), strconv.Itoa(v.Height))
	}
	if err := p.events.Flush(ctx); err != nil {
		return "", err
	}
	return status, nil
}

func (p *Page) fetchDocument(ctx context.Context, rawURL, method, data, referer string) (*document, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		p.log.Debug("invalid url", zap.String("url", rawURL), zap.Error(err))
		return nil, false
	}
	if u.String() == blankURL {
		return &document{url: u, doc: blankDocument()}, true
	}

	p.emit(engine.EventResourceRequested, strings.ToUpper(method), u.String())
	resp, err := p.fetch.Do(ctx, request{Method: method, URL: u.String(), Body: data, Referer: referer})
	if err != nil {
		p.log.Debug("page fetch failed", zap.String("url", u.String()), zap.Error(err))
		return nil, false
	}
	p.emit(engine.EventResourceReceived, strconv.Itoa(resp.Status), resp.URL)

	final, err := url.Parse(resp.URL)
	if err != nil {
		final = u
	}
	doc, err := parseResponse(resp)
	if err != nil {
		p.log.Debug("page parse failed", zap.String("url", resp.URL), zap.Error(err))
		return nil, false
	}
	return &document{url: final, doc: doc}, true
}

// parseResponse builds a document from HTML, wraps text in <pre> and
// leaves other content types with an empty body.
func parseResponse(resp *response) (*goquery.Document, error) {
	if resp.IsHTML() {
		r, err := charset.NewReader(bytes.NewReader(resp.Body), resp.Header.Get("Content-Type"))
		if err != nil {
			return nil, fmt.Errorf("decode charset: %w", err)
		}
		return goquery.NewDocumentFromReader(r)
	}
	body := ""
	if resp.MIME != nil && (strings.HasPrefix(resp.MIME.String(), "text/") || resp.MIME.Is("application/json")) {
		body = "<pre>" + html.EscapeString(string(resp.Body)) + "</pre>"
	}
	return goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body>" + body + "</body></html>"))
}

func blankDocument() *goquery.Document {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	return doc
}

// collectScripts gathers classic scripts in document order, fetching the
// external ones.
func (p *Page) collectScripts(ctx context.Context, d *document) []pageScript {
	var scripts []pageScript
	d.doc.Find("script").Each(func(i int, s *goquery.Selection) {
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if typ != "" && !strings.Contains(typ, "javascript") && typ != "text/ecmascript" {
			return
		}
		src, external := s.Attr("src")
		if !external {
			scripts = append(scripts, pageScript{name: fmt.Sprintf("%s#script%d", d.url, i), src: s.Text()})
			return
		}
		ref, err := url.Parse(strings.TrimSpace(src))
		if err != nil {
			return
		}
		target := d.url.ResolveReference(ref).String()
		p.emit(engine.EventResourceRequested, "GET", target)
		resp, err := p.fetch.Do(ctx, request{Method: "GET", URL: target, Referer: d.url.String()})
		if err != nil {
			p.log.Debug("script fetch failed", zap.String("url", target), zap.Error(err))
			return
		}
		p.emit(engine.EventResourceReceived, strconv.Itoa(resp.Status), resp.URL)
		if resp.Status >= 400 {
			return
		}
		scripts = append(scripts, pageScript{name: target, src: string(resp.Body)})
	})
	return scripts
}

func (p *Page) loadImages(ctx context.Context, d *document) {
	d.doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		ref, err := url.Parse(strings.TrimSpace(s.AttrOr("src", "")))
		if err != nil {
			return
		}
		target := d.url.ResolveReference(ref)
		if target.Scheme != "http" && target.Scheme != "https" {
			return
		}
		p.emit(engine.EventResourceRequested, "GET", target.String())
		resp, err := p.fetch.Do(ctx, request{Method: "GET", URL: target.String(), Referer: d.url.String()})
		if err != nil {
			return
		}
		p.emit(engine.EventResourceReceived, strconv.Itoa(resp.Status), resp.URL)
	})
}

// commit swaps in a fresh runtime for d and runs its scripts. Loop only.
func (p *Page) commit(d *document) error {
	rt, err := newRuntime(p, d.doc, d.url)
	if err != nil {
		return err
	}
	if p.rt != nil {
		p.rt.dispose()
	}
	p.rt = rt
	p.vm.Store(rt.vm)

	p.mu.Lock()
	prev := p.url
	p.url = d.url.String()
	p.mu.Unlock()
	if prev != d.url.String() {
		p.emit(engine.EventURLChanged, d.url.String())
	}
	p.emit(engine.EventInitialized)

	rt.loading = true
	for _, s := range d.scripts {
		if rt.disposed {
			return nil
		}
		rt.run(s.name, s.src)
	}
	rt.loading = false

	_, err = rt.guard(p.ctx, func() (goja.Value, error) {
		rt.fire(d.doc.Nodes[0], "DOMContentLoaded", true, false)
		ev := rt.newEvent("load", false, false)
		fns := append([]goja.Value(nil), rt.window["load"]...)
		if onload := rt.vm.Get("onload"); onload != nil {
			fns = append(fns, onload)
		}
		rt.invoke(rt.vm.GlobalObject(), fns, ev)
		return nil, nil
	})
	if err != nil {
		rt.scriptError("load handlers", err)
	}
	return nil
}

// current returns the live runtime, creating a blank one before the first
// navigation. Loop only.
func (p *Page) current() (*runtime, error) {
	if p.rt != nil {
		return p.rt, nil
	}
	u, _ := url.Parse(blankURL)
	rt, err := newRuntime(p, blankDocument(), u)
	if err != nil {
		return nil, err
	}
	p.rt = rt
	p.vm.Store(rt.vm)
	return rt, nil
}

// Evaluate calls the function source fn with args in the page.
func (p *Page) Evaluate(ctx context.Context, fn string, args ...any) (any, error) {
	if p.isClosed() {
		return nil, engine.ErrPageClosed
	}
	return call(ctx, p.loop, func() (any, error) {
		rt, err := p.current()
		if err != nil {
			return nil, err
		}
		return rt.evaluate(ctx, fn, args)
	})
}

// Property reads a page property such as url, title, content or cookies.
func (p *Page) Property(ctx context.Context, name string) (any, error) {
	if p.isClosed() {
		return nil, engine.ErrPageClosed
	}
	switch name {
	case engine.PropURL:
		return p.URL(), nil
	case engine.PropCookies:
		return p.fetch.Cookies(p.URL()), nil
	case engine.PropUserAgent:
		return p.fetch.UserAgent(), nil
	case engine.PropViewport:
		v := p.viewport()
		return map[string]any{"width": v.Width, "height": v.Height}, nil
	case engine.PropTitle, engine.PropContent, "plainText":
		return call(ctx, p.loop, func() (any, error) {
			rt, err := p.current()
			if err != nil {
				return nil, err
			}
			switch name {
			case engine.PropTitle:
				return rt.title(), nil
			case engine.PropContent:
				return goquery.OuterHtml(rt.doc.Selection)
			}
			return rt.doc.Find("body").Text(), nil
		})
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.props[name], nil
}

// SetProperty writes a page property. Setting content loads it as a new
// document at the current url.
func (p *Page) SetProperty(ctx context.Context, name string, value any) error {
	if p.isClosed() {
		return engine.ErrPageClosed
	}
	switch name {
	case engine.PropURL, engine.PropTitle:
		return fmt.Errorf("sandbox: property %s is read-only", name)
	case engine.PropUserAgent:
		ua, ok := value.(string)
		if !ok {
			return fmt.Errorf("sandbox: userAgent must be a string, got %T", value)
		}
		p.fetch.SetUserAgent(ua)
		return nil
	case engine.PropViewport:
		var v Viewport
		if err := convert(value, &v); err != nil {
			return fmt.Errorf("sandbox: viewportSize: %w", err)
		}
		p.mu.Lock()
		p.view = v
		p.mu.Unlock()
		return nil
	case engine.PropCookies:
		var cookies []engine.Cookie
		if err := convert(value, &cookies); err != nil {
			return fmt.Errorf("sandbox: cookies: %w", err)
		}
		for _, c := range cookies {
			line := c.Name + "=" + c.Value
			if c.Path != "" {
				line += "; Path=" + c.Path
			}
			p.fetch.SetCookie(p.URL(), line)
		}
		return nil
	case engine.PropContent:
		content, ok := value.(string)
		if !ok {
			return fmt.Errorf("sandbox: content must be a string, got %T", value)
		}
		_, err := p.load(ctx, func(context.Context) (*document, bool) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
			if err != nil {
				return nil, false
			}
			u, _ := url.Parse(p.URL())
			return &document{url: u, doc: doc}, true
		})
		return err
	}
	p.mu.Lock()
	p.props[name] = value
	p.mu.Unlock()
	return nil
}

// Render is not available without a rasterizer.
func (p *Page) Render(ctx context.Context, path string) error {
	return engine.ErrRenderUnsupported
}

// Close closes the tab. Listeners receive onClosing first.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.emit(engine.EventClosing, p.id)
	p.shutdown()
	p.eng.forget(p)
	return nil
}

// shutdown stops the loop and drains the dispatcher. Must not run on
// either goroutine.
func (p *Page) shutdown() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.cancel()
		if vm := p.vm.Load(); vm != nil {
			vm.Interrupt(engine.ErrPageClosed)
		}
		p.loop.stop()
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

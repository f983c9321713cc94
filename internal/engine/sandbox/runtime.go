package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

var (
	errScriptTimeout = errors.New("script timeout exceeded")
	errNotFunction   = errors.New("evaluate: source is not a function")
	errCrossOrigin   = errors.New("cross-origin request blocked")
)

// runtime is one page generation: a goja VM bound to one parsed document.
// A navigation discards it and builds a fresh one; callbacks that belong
// to a disposed runtime are dropped. All methods run on the page loop.
type runtime struct {
	page *Page
	vm   *goja.Runtime
	doc  *goquery.Document
	url  *url.URL

	document *goja.Object
	elements map[*html.Node]*goja.Object
	expandos map[*html.Node]map[string]goja.Value
	handlers map[*html.Node]map[string][]goja.Value
	window   map[string][]goja.Value

	selectors map[string]cascadia.Selector
	timers    map[int64]*time.Timer
	nextTimer int64
	focused   *html.Node
	loading   bool
	disposed  bool
}

func newRuntime(p *Page, doc *goquery.Document, u *url.URL) (*runtime, error) {
	rt := &runtime{
		page:      p,
		vm:        goja.New(),
		doc:       doc,
		url:       u,
		elements:  make(map[*html.Node]*goja.Object),
		expandos:  make(map[*html.Node]map[string]goja.Value),
		handlers:  make(map[*html.Node]map[string][]goja.Value),
		window:    make(map[string][]goja.Value),
		selectors: make(map[string]cascadia.Selector),
		timers:    make(map[int64]*time.Timer),
	}
	rt.vm.SetMaxCallStackSize(1024)

	if err := rt.setupGlobals(); err != nil {
		return nil, err
	}
	if _, err := rt.vm.RunString(bootstrapJS); err != nil {
		return nil, fmt.Errorf("bootstrap page environment: %w", err)
	}
	return rt, nil
}

// setupGlobals installs window, document, console and the host bridge.
func (rt *runtime) setupGlobals() error {
	vm := rt.vm
	global := vm.GlobalObject()

	for _, name := range []string{"require", "process", "module", "exports"} {
		_ = global.Delete(name)
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, rt.consoleFunc)
	}

	host := vm.NewObject()
	_ = host.Set("request", rt.hostRequest)

	rt.document = rt.newDocument()

	sets := map[string]any{
		"window":    global,
		"self":      global,
		"top":       global,
		"parent":    global,
		"console":   console,
		"document":  rt.document,
		"navigator": rt.newNavigator(),
		"__host":    host,

		"setTimeout":    func(call goja.FunctionCall) goja.Value { return rt.setTimer(call, false) },
		"setInterval":   func(call goja.FunctionCall) goja.Value { return rt.setTimer(call, true) },
		"clearTimeout":  rt.clearTimer,
		"clearInterval": rt.clearTimer,

		"alert":   rt.alert,
		"confirm": rt.confirm,
		"prompt":  rt.prompt,
		"open":    rt.openWindow,
		"close": func(goja.FunctionCall) goja.Value {
			go rt.page.Close(context.Background())
			return goja.Undefined()
		},
		"scrollTo": func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"scrollBy": func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"getComputedStyle": func(call goja.FunctionCall) goja.Value {
			if n := rt.unwrap(call.Argument(0)); n != nil {
				return rt.wrap(n).Get("style")
			}
			return vm.NewObject()
		},
		"addEventListener": func(call goja.FunctionCall) goja.Value {
			typ := call.Argument(0).String()
			rt.window[typ] = append(rt.window[typ], call.Argument(1))
			return goja.Undefined()
		},
		"removeEventListener": func(call goja.FunctionCall) goja.Value {
			typ := call.Argument(0).String()
			rt.window[typ] = without(rt.window[typ], call.Argument(1))
			return goja.Undefined()
		},
		"btoa": func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) },
		"atob": func(s string) (string, error) {
			b, err := base64.StdEncoding.DecodeString(s)
			return string(b), err
		},
	}
	for name, v := range sets {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}

	loc := rt.newLocation()
	if err := global.DefineAccessorProperty("location",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return loc }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			rt.navigateTo(stringValue(call.Argument(0)), "GET", "")
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return fmt.Errorf("set location: %w", err)
	}

	viewport := rt.page.viewport()
	_ = vm.Set("innerWidth", viewport.Width)
	_ = vm.Set("innerHeight", viewport.Height)
	return nil
}

func (rt *runtime) consoleFunc(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = stringValue(arg)
		if goja.IsNull(arg) {
			parts[i] = "null"
		} else if goja.IsUndefined(arg) {
			parts[i] = "undefined"
		}
	}
	rt.page.emit(engine.EventConsoleMessage, strings.Join(parts, " "))
	return goja.Undefined()
}

func (rt *runtime) alert(call goja.FunctionCall) goja.Value {
	rt.page.emit(engine.EventAlert, stringValue(call.Argument(0)))
	return goja.Undefined()
}

// confirm is answered with OK.
func (rt *runtime) confirm(call goja.FunctionCall) goja.Value {
	rt.page.emit(engine.EventConfirm, stringValue(call.Argument(0)))
	return rt.vm.ToValue(true)
}

// prompt is answered with its default value.
func (rt *runtime) prompt(call goja.FunctionCall) goja.Value {
	def := stringValue(call.Argument(1))
	rt.page.emit(engine.EventPrompt, stringValue(call.Argument(0)), def)
	return rt.vm.ToValue(def)
}

// openWindow opens a new tab and reports it to the opener's listeners
// before the tab starts loading.
func (rt *runtime) openWindow(call goja.FunctionCall) goja.Value {
	target := ""
	if raw := stringValue(call.Argument(0)); raw != "" {
		u, err := rt.resolve(raw)
		if err != nil {
			return goja.Null()
		}
		target = u
	}
	child, err := rt.page.eng.newPage()
	if err != nil {
		rt.page.log.Debug("window.open refused", zap.Error(err))
		return goja.Null()
	}

	rt.page.post(engine.NativeEvent{
		Kind: engine.EventPageCreated,
		Args: []string{child.ID()},
		Page: child,
	}, func() {
		if target != "" {
			go child.navigate(target, "GET", "", rt.url.String())
		}
	})

	handle := rt.vm.NewObject()
	_ = handle.Set("closed", false)
	_ = handle.Set("close", func(goja.FunctionCall) goja.Value {
		_ = handle.Set("closed", true)
		go child.Close(context.Background())
		return goja.Undefined()
	})
	return handle
}

func (rt *runtime) newNavigator() *goja.Object {
	nav := rt.vm.NewObject()
	_ = nav.DefineAccessorProperty("userAgent", rt.vm.ToValue(func(goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(rt.page.fetch.UserAgent())
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = nav.Set("platform", "Linux x86_64")
	_ = nav.Set("language", "en-US")
	_ = nav.Set("cookieEnabled", true)
	_ = nav.Set("onLine", true)
	return nav
}

func (rt *runtime) newLocation() *goja.Object {
	vm := rt.vm
	loc := vm.NewObject()
	getter := func(fn func(u *url.URL) string) goja.Value {
		return vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(fn(rt.url)) })
	}
	parts := map[string]func(u *url.URL) string{
		"protocol": func(u *url.URL) string { return u.Scheme + ":" },
		"host":     func(u *url.URL) string { return u.Host },
		"hostname": func(u *url.URL) string { return u.Hostname() },
		"port":     func(u *url.URL) string { return u.Port() },
		"pathname": func(u *url.URL) string {
			if u.Path == "" && u.Scheme != "about" {
				return "/"
			}
			return u.EscapedPath()
		},
		"search": func(u *url.URL) string {
			if u.RawQuery == "" {
				return ""
			}
			return "?" + u.RawQuery
		},
		"hash": func(u *url.URL) string {
			if u.Fragment == "" {
				return ""
			}
			return "#" + u.EscapedFragment()
		},
		"origin": func(u *url.URL) string { return origin(u) },
	}
	for name, fn := range parts {
		_ = loc.DefineAccessorProperty(name, getter(fn), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	assign := func(call goja.FunctionCall) goja.Value {
		rt.navigateTo(stringValue(call.Argument(0)), "GET", "")
		return goja.Undefined()
	}
	_ = loc.DefineAccessorProperty("href",
		getter(func(u *url.URL) string { return u.String() }),
		vm.ToValue(assign),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = loc.Set("assign", assign)
	_ = loc.Set("replace", assign)
	_ = loc.Set("reload", func(goja.FunctionCall) goja.Value {
		rt.navigateTo(rt.url.String(), "GET", "")
		return goja.Undefined()
	})
	_ = loc.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(rt.url.String()) })
	return loc
}

func (rt *runtime) newDocument() *goja.Object {
	vm := rt.vm
	doc := vm.NewObject()
	root := rt.doc.Nodes[0]

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"getElementById": func(call goja.FunctionCall) goja.Value {
			return rt.nodeOrNull(findByID(root, call.Argument(0).String()))
		},
		"querySelector": func(call goja.FunctionCall) goja.Value {
			return rt.nodeOrNull(rt.queryFirst(root, call.Argument(0).String()))
		},
		"querySelectorAll": func(call goja.FunctionCall) goja.Value {
			return rt.array(rt.queryAll(root, call.Argument(0).String()))
		},
		"getElementsByTagName": func(call goja.FunctionCall) goja.Value {
			return rt.array(rt.queryAll(root, strings.ToLower(call.Argument(0).String())))
		},
		"getElementsByClassName": func(call goja.FunctionCall) goja.Value {
			return rt.array(rt.queryAll(root, classSelector(call.Argument(0).String())))
		},
		"getElementsByName": func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			var out []*html.Node
			walk(root, func(n *html.Node) {
				if getAttr(n, "name") == name {
					out = append(out, n)
				}
			})
			return rt.array(out)
		},
		"createElement": func(call goja.FunctionCall) goja.Value {
			return rt.wrap(rt.createElement(call.Argument(0).String()))
		},
		"addEventListener": func(call goja.FunctionCall) goja.Value {
			rt.listen(root, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		},
		"removeEventListener": func(call goja.FunctionCall) goja.Value {
			rt.unlisten(root, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		},
		"dispatchEvent": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(rt.dispatch(root, call.Argument(0).ToObject(vm)))
		},
	}
	for name, fn := range methods {
		_ = doc.Set(name, fn)
	}

	accessor := func(name string, get func() goja.Value, set func(goja.Value)) {
		var setter goja.Value
		if set != nil {
			setter = vm.ToValue(func(call goja.FunctionCall) goja.Value {
				set(call.Argument(0))
				return goja.Undefined()
			})
		}
		_ = doc.DefineAccessorProperty(name, vm.ToValue(func(goja.FunctionCall) goja.Value { return get() }),
			setter, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	accessor("title", func() goja.Value { return vm.ToValue(rt.title()) }, func(v goja.Value) { rt.setTitle(stringValue(v)) })
	accessor("body", func() goja.Value { return rt.nodeOrNull(rt.queryFirst(root, "body")) }, nil)
	accessor("head", func() goja.Value { return rt.nodeOrNull(rt.queryFirst(root, "head")) }, nil)
	accessor("documentElement", func() goja.Value { return rt.nodeOrNull(firstElement(root.FirstChild, next)) }, nil)
	accessor("URL", func() goja.Value { return vm.ToValue(rt.url.String()) }, nil)
	accessor("location", func() goja.Value { return vm.Get("location") }, nil)
	accessor("defaultView", func() goja.Value { return vm.GlobalObject() }, nil)
	accessor("activeElement", func() goja.Value {
		if rt.focused != nil {
			return rt.wrap(rt.focused)
		}
		return rt.nodeOrNull(rt.queryFirst(root, "body"))
	}, nil)
	accessor("readyState", func() goja.Value {
		if rt.loading {
			return vm.ToValue("loading")
		}
		return vm.ToValue("complete")
	}, nil)
	accessor("cookie",
		func() goja.Value { return vm.ToValue(rt.page.fetch.CookieHeader(rt.url.String())) },
		func(v goja.Value) { rt.page.fetch.SetCookie(rt.url.String(), stringValue(v)) })
	_ = doc.Set("nodeType", 9)
	return doc
}

func (rt *runtime) title() string {
	return strings.TrimSpace(rt.doc.Find("title").First().Text())
}

func (rt *runtime) setTitle(s string) {
	t := rt.doc.Find("title").First()
	if t.Length() == 0 {
		head := rt.doc.Find("head").First()
		if head.Length() == 0 {
			return
		}
		head.AppendHtml("<title></title>")
		t = head.Find("title").First()
	}
	t.SetText(s)
}

// Events.

func (rt *runtime) listen(n *html.Node, typ string, fn goja.Value) {
	if _, ok := goja.AssertFunction(fn); !ok {
		return
	}
	m := rt.handlers[n]
	if m == nil {
		m = make(map[string][]goja.Value)
		rt.handlers[n] = m
	}
	for _, existing := range m[typ] {
		if existing.SameAs(fn) {
			return
		}
	}
	m[typ] = append(m[typ], fn)
}

func (rt *runtime) unlisten(n *html.Node, typ string, fn goja.Value) {
	if m := rt.handlers[n]; m != nil {
		m[typ] = without(m[typ], fn)
	}
}

func without(list []goja.Value, fn goja.Value) []goja.Value {
	out := list[:0:0]
	for _, v := range list {
		if !v.SameAs(fn) {
			out = append(out, v)
		}
	}
	return out
}

// newEvent creates a script Event.
func (rt *runtime) newEvent(typ string, bubbles, cancelable bool) *goja.Object {
	ctor := rt.vm.Get("Event")
	init := rt.vm.NewObject()
	_ = init.Set("bubbles", bubbles)
	_ = init.Set("cancelable", cancelable)
	ev, err := rt.vm.New(ctor, rt.vm.ToValue(typ), init)
	if err != nil {
		// Event was overwritten by the page
		ev = rt.vm.NewObject()
		_ = ev.Set("type", typ)
		_ = ev.Set("bubbles", bubbles)
		_ = ev.Set("cancelable", cancelable)
		_ = ev.Set("defaultPrevented", false)
	}
	return ev
}

// dispatch runs ev through target and, when it bubbles, its ancestors and
// window, then performs the default action. It reports whether the default
// was not prevented.
func (rt *runtime) dispatch(target *html.Node, ev *goja.Object) bool {
	typ := stringValue(ev.Get("type"))
	bubbles := truthyValue(ev.Get("bubbles"))
	_ = ev.Set("target", rt.nodeValue(target))

	toggled := typ == "click" && rt.preActivate(target)

	path := []*html.Node{target}
	if bubbles {
		for p := target.Parent; p != nil; p = p.Parent {
			path = append(path, p)
		}
	}
	stopped := false
	for _, n := range path {
		_ = ev.Set("currentTarget", rt.nodeValue(n))
		rt.invoke(rt.nodeValue(n), rt.listeners(n, typ), ev)
		if truthyValue(ev.Get("_stop")) {
			stopped = true
			break
		}
	}
	if bubbles && !stopped {
		_ = ev.Set("currentTarget", rt.vm.GlobalObject())
		rt.invoke(rt.vm.GlobalObject(), append([]goja.Value(nil), rt.window[typ]...), ev)
	}

	prevented := truthyValue(ev.Get("defaultPrevented"))
	if toggled {
		if prevented {
			rt.preActivate(target)
		} else {
			rt.fire(target, "change", true, false)
		}
	}
	if !prevented {
		rt.defaultAction(target, typ)
	}
	return !prevented
}

// listeners collects addEventListener handlers plus the on<type> property.
func (rt *runtime) listeners(n *html.Node, typ string) []goja.Value {
	list := append([]goja.Value(nil), rt.handlers[n][typ]...)
	if v, ok := rt.expandos[n]["on"+typ]; ok {
		if _, isFn := goja.AssertFunction(v); isFn {
			list = append(list, v)
		}
	}
	return list
}

func (rt *runtime) invoke(this goja.Value, fns []goja.Value, ev *goja.Object) {
	for _, v := range fns {
		fn, ok := goja.AssertFunction(v)
		if !ok {
			continue
		}
		if _, err := fn(this, ev); err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				// the enclosing script must stop as well
				rt.vm.Interrupt(interrupted.Value())
				return
			}
			rt.scriptError("event handler", err)
		}
	}
}

func (rt *runtime) fire(n *html.Node, typ string, bubbles, cancelable bool) bool {
	return rt.dispatch(n, rt.newEvent(typ, bubbles, cancelable))
}

// preActivate toggles checkboxes and radios the way a click does before
// listeners run. Called a second time it undoes a checkbox toggle.
func (rt *runtime) preActivate(n *html.Node) bool {
	if n.Data != "input" {
		return false
	}
	switch getAttr(n, "type") {
	case "checkbox":
		if hasAttr(n, "checked") {
			removeAttr(n, "checked")
		} else {
			setAttr(n, "checked", "")
		}
		return true
	case "radio":
		if hasAttr(n, "checked") {
			return false
		}
		(&element{rt: rt, node: n}).Set("checked", rt.vm.ToValue(true))
		return true
	}
	return false
}

func (rt *runtime) defaultAction(target *html.Node, typ string) {
	if typ != "click" {
		return
	}
	if a := closest(target, func(n *html.Node) bool { return n.Data == "a" && hasAttr(n, "href") }); a != nil {
		href := strings.TrimSpace(getAttr(a, "href"))
		if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		rt.navigateTo(href, "GET", "")
		return
	}
	if b := closest(target, isSubmitter); b != nil {
		if form := closest(b, func(n *html.Node) bool { return n.Data == "form" }); form != nil {
			if rt.fire(form, "submit", true, true) {
				rt.submitForm(form, b)
			}
		}
	}
}

func isSubmitter(n *html.Node) bool {
	switch n.Data {
	case "button":
		t := getAttr(n, "type")
		return t == "" || t == "submit"
	case "input":
		t := getAttr(n, "type")
		return t == "submit" || t == "image"
	}
	return false
}

// submitForm serializes form like a browser would and navigates.
func (rt *runtime) submitForm(form, submitter *html.Node) {
	if form == nil || form.Data != "form" {
		return
	}
	values := url.Values{}
	walk(form, func(n *html.Node) {
		name := getAttr(n, "name")
		if name == "" || hasAttr(n, "disabled") {
			return
		}
		switch n.Data {
		case "input":
			switch getAttr(n, "type") {
			case "checkbox", "radio":
				if hasAttr(n, "checked") {
					values.Add(name, valueOf(n))
				}
			case "submit", "image", "button", "reset", "file":
				if n == submitter {
					values.Add(name, valueOf(n))
				}
			default:
				values.Add(name, valueOf(n))
			}
		case "button":
			if n == submitter {
				values.Add(name, valueOf(n))
			}
		case "select", "textarea":
			values.Add(name, valueOf(n))
		}
	})

	action := getAttr(form, "action")
	if action == "" {
		action = rt.url.String()
	}
	if strings.EqualFold(getAttr(form, "method"), "post") {
		rt.navigateTo(action, "POST", values.Encode())
		return
	}
	target, err := rt.resolve(action)
	if err != nil {
		return
	}
	u, _ := url.Parse(target)
	u.RawQuery = values.Encode()
	u.Fragment = ""
	rt.navigateTo(u.String(), "GET", "")
}

// navigateTo starts a page-initiated navigation. It never blocks the loop.
func (rt *runtime) navigateTo(raw, method, body string) {
	target, err := rt.resolve(raw)
	if err != nil {
		rt.page.log.Debug("navigation refused", zap.String("url", raw), zap.Error(err))
		return
	}
	go rt.page.navigate(target, method, body, rt.url.String())
}

func (rt *runtime) focus(n *html.Node) {
	if rt.focused == n {
		return
	}
	if rt.focused != nil {
		rt.blur(rt.focused)
	}
	rt.focused = n
	rt.fire(n, "focus", false, false)
}

func (rt *runtime) blur(n *html.Node) {
	if rt.focused != n {
		return
	}
	rt.focused = nil
	rt.fire(n, "blur", false, false)
}

func (rt *runtime) click(n *html.Node) {
	if hasAttr(n, "disabled") {
		return
	}
	rt.fire(n, "click", true, true)
}

// Timers.

func (rt *runtime) setTimer(call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		src := stringValue(call.Argument(0))
		fn = func(goja.Value, ...goja.Value) (goja.Value, error) { return rt.vm.RunString(src) }
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	if repeat && delay < 4*time.Millisecond {
		delay = 4 * time.Millisecond
	}
	var extra []goja.Value
	if len(call.Arguments) > 2 {
		extra = append(extra, call.Arguments[2:]...)
	}

	rt.nextTimer++
	id := rt.nextTimer
	var schedule func()
	schedule = func() {
		rt.timers[id] = time.AfterFunc(delay, func() {
			rt.page.loop.submit(func() {
				if rt.disposed {
					return
				}
				if _, live := rt.timers[id]; !live {
					return
				}
				if !repeat {
					delete(rt.timers, id)
				}
				if _, err := rt.guard(context.Background(), func() (goja.Value, error) {
					return fn(goja.Undefined(), extra...)
				}); err != nil {
					rt.scriptError("timer", err)
				}
				if _, live := rt.timers[id]; live && repeat && !rt.disposed {
					schedule()
				}
			})
		})
	}
	schedule()
	return rt.vm.ToValue(id)
}

func (rt *runtime) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := rt.timers[id]; ok {
		t.Stop()
		delete(rt.timers, id)
	}
	return goja.Undefined()
}

// XMLHttpRequest host side.

// hostRequest performs an XHR fetch off the loop and calls back on it.
func (rt *runtime) hostRequest(call goja.FunctionCall) goja.Value {
	method := stringValue(call.Argument(0))
	raw := stringValue(call.Argument(1))
	body := stringValue(call.Argument(3))
	cb, ok := goja.AssertFunction(call.Argument(4))
	if !ok {
		panic(rt.vm.NewTypeError("request: callback is not a function"))
	}
	headers := map[string]string{}
	if obj, ok := call.Argument(2).(*goja.Object); ok {
		for _, k := range obj.Keys() {
			headers[k] = stringValue(obj.Get(k))
		}
	}

	p := rt.page
	target, err := rt.resolve(raw)
	if err == nil && p.flags.WebSecurity {
		if u, perr := url.Parse(target); perr == nil && origin(u) != origin(rt.url) {
			err = errCrossOrigin
		}
	}

	complete := func(resp *response, err error) {
		p.loop.submit(func() {
			if rt.disposed {
				return
			}
			var args []goja.Value
			if err != nil {
				p.log.Debug("xhr failed", zap.String("url", raw), zap.Error(err))
				args = []goja.Value{rt.vm.ToValue(0), rt.vm.ToValue(""), rt.vm.ToValue(""), rt.vm.ToValue(""), rt.vm.NewObject(), rt.vm.ToValue(err.Error())}
			} else {
				p.emit(engine.EventResourceReceived, strconv.Itoa(resp.Status), resp.URL)
				hdr := rt.vm.NewObject()
				for k, v := range resp.Header {
					if len(v) > 0 {
						_ = hdr.Set(strings.ToLower(k), strings.Join(v, ", "))
					}
				}
				args = []goja.Value{
					rt.vm.ToValue(resp.Status), rt.vm.ToValue(resp.StatusText),
					rt.vm.ToValue(string(resp.Body)), rt.vm.ToValue(resp.URL), hdr, goja.Null(),
				}
			}
			if _, err := rt.guard(context.Background(), func() (goja.Value, error) {
				return cb(goja.Undefined(), args...)
			}); err != nil {
				rt.scriptError("xhr callback", err)
			}
		})
	}

	if err != nil {
		go complete(nil, err)
		return goja.Undefined()
	}

	p.emit(engine.EventResourceRequested, method, target)
	referer := rt.url.String()
	go func() {
		resp, err := p.fetch.Do(p.ctx, request{Method: method, URL: target, Body: body, Headers: headers, Referer: referer})
		complete(resp, err)
	}()
	return goja.Undefined()
}

// Script execution.

// guard runs fn with the script timeout and ctx cancellation wired to
// vm.Interrupt.
func (rt *runtime) guard(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	var mu sync.Mutex
	active := true
	interrupt := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		if active {
			rt.vm.Interrupt(v)
		}
	}

	timer := time.AfterFunc(rt.page.flags.ScriptTimeout, func() { interrupt(errScriptTimeout) })
	stop := context.AfterFunc(ctx, func() { interrupt(ctx.Err()) })
	defer func() {
		timer.Stop()
		stop()
		mu.Lock()
		active = false
		rt.vm.ClearInterrupt()
		mu.Unlock()
	}()

	return fn()
}

// run executes a page script.
func (rt *runtime) run(name, src string) {
	_, err := rt.guard(rt.page.ctx, func() (goja.Value, error) {
		prog, err := goja.Compile(name, src, false)
		if err != nil {
			return nil, err
		}
		return rt.vm.RunProgram(prog)
	})
	if err != nil {
		rt.scriptError(name, err)
	}
}

// evaluate calls the function source fn with args and exports the result.
func (rt *runtime) evaluate(ctx context.Context, src string, args []any) (any, error) {
	v, err := rt.guard(ctx, func() (goja.Value, error) {
		fv, err := rt.vm.RunString("(" + src + "\n)")
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(fv)
		if !ok {
			return nil, errNotFunction
		}
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = rt.vm.ToValue(a)
		}
		return fn(goja.Undefined(), vals...)
	})
	if err != nil {
		return nil, err
	}
	return rt.export(v), nil
}

func (rt *runtime) export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return exportValue(v.Export())
}

func exportValue(v any) any {
	switch x := v.(type) {
	case *element:
		return x.describe()
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = exportValue(x[i])
		}
		return out
	case map[string]any:
		for k := range x {
			x[k] = exportValue(x[k])
		}
		return x
	}
	return v
}

func (rt *runtime) scriptError(where string, err error) {
	rt.page.log.Debug("page script error", zap.String("where", where), zap.Error(err))
}

// dispose stops every timer. Pending callbacks see disposed and return.
func (rt *runtime) dispose() {
	rt.disposed = true
	for id, t := range rt.timers {
		t.Stop()
		delete(rt.timers, id)
	}
}

func (rt *runtime) resolve(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return rt.url.ResolveReference(ref).String(), nil
}

func origin(u *url.URL) string {
	if u == nil || u.Host == "" {
		return "null"
	}
	return u.Scheme + "://" + u.Host
}

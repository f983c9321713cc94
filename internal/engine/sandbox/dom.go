package sandbox

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// element is the script-side view of one html.Node. Reads and writes go
// straight to the parsed tree so page content reflects script changes.
type element struct {
	rt   *runtime
	node *html.Node
}

// boolean attributes exposed as properties, keyed by property name.
var boolProps = map[string]string{
	"checked":  "checked",
	"disabled": "disabled",
	"selected": "selected",
	"readOnly": "readonly",
	"required": "required",
	"multiple": "multiple",
	"hidden":   "hidden",
}

// string attributes exposed as properties, keyed by property name.
var attrProps = map[string]string{
	"id":          "id",
	"className":   "class",
	"name":        "name",
	"type":        "type",
	"title":       "title",
	"placeholder": "placeholder",
	"method":      "method",
	"rel":         "rel",
	"alt":         "alt",
	"target":      "target",
	"lang":        "lang",
}

func (e *element) sel() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.node).Selection
}

func (e *element) Get(key string) goja.Value {
	vm := e.rt.vm
	if attr, ok := attrProps[key]; ok {
		if key == "type" && e.node.Data == "input" && !hasAttr(e.node, "type") {
			return vm.ToValue("text")
		}
		return vm.ToValue(getAttr(e.node, attr))
	}
	if attr, ok := boolProps[key]; ok {
		return vm.ToValue(hasAttr(e.node, attr))
	}

	switch key {
	case "nodeType":
		return vm.ToValue(1)
	case "tagName", "nodeName":
		return vm.ToValue(strings.ToUpper(e.node.Data))
	case "localName":
		return vm.ToValue(e.node.Data)
	case "href", "src", "action":
		raw, ok := attrOK(e.node, key)
		if !ok {
			return vm.ToValue("")
		}
		if u, err := e.rt.resolve(raw); err == nil {
			return vm.ToValue(u)
		}
		return vm.ToValue(raw)
	case "value":
		return vm.ToValue(valueOf(e.node))
	case "textContent", "innerText":
		return vm.ToValue(e.sel().Text())
	case "innerHTML":
		h, _ := e.sel().Html()
		return vm.ToValue(h)
	case "outerHTML":
		h, _ := goquery.OuterHtml(e.sel())
		return vm.ToValue(h)
	case "parentNode", "parentElement":
		if e.node.Parent == nil || (key == "parentElement" && e.node.Parent.Type != html.ElementNode) {
			return goja.Null()
		}
		return e.rt.nodeValue(e.node.Parent)
	case "children":
		return e.rt.array(childElements(e.node))
	case "childElementCount":
		return vm.ToValue(len(childElements(e.node)))
	case "firstElementChild":
		return e.rt.nodeOrNull(firstElement(e.node.FirstChild, next))
	case "lastElementChild":
		return e.rt.nodeOrNull(firstElement(e.node.LastChild, prev))
	case "nextElementSibling":
		return e.rt.nodeOrNull(firstElement(e.node.NextSibling, next))
	case "previousElementSibling":
		return e.rt.nodeOrNull(firstElement(e.node.PrevSibling, prev))
	case "options":
		return e.rt.array(options(e.node))
	case "selectedIndex":
		return vm.ToValue(selectedIndex(e.node))
	case "form":
		return e.rt.nodeOrNull(closest(e.node, func(n *html.Node) bool { return n.Data == "form" }))
	case "ownerDocument":
		return e.rt.document
	case "style":
		return e.expando("style", func() goja.Value { return vm.NewObject() })
	case "dataset":
		ds := vm.NewObject()
		for _, a := range e.node.Attr {
			if name, ok := strings.CutPrefix(a.Key, "data-"); ok {
				_ = ds.Set(camel(name), a.Val)
			}
		}
		return ds
	}

	if fn := e.method(key); fn != nil {
		return vm.ToValue(fn)
	}
	if v, ok := e.rt.expandos[e.node][key]; ok {
		return v
	}
	return nil
}

func (e *element) Set(key string, val goja.Value) bool {
	if attr, ok := attrProps[key]; ok {
		setAttr(e.node, attr, val.String())
		return true
	}
	if attr, ok := boolProps[key]; ok {
		if truthyValue(val) {
			setAttr(e.node, attr, "")
			if key == "checked" {
				e.uncheckGroup()
			}
		} else {
			removeAttr(e.node, attr)
		}
		return true
	}

	switch key {
	case "href", "src", "action":
		setAttr(e.node, key, val.String())
	case "value":
		setValue(e.node, stringValue(val))
	case "textContent", "innerText":
		e.sel().SetText(stringValue(val))
	case "innerHTML":
		e.sel().SetHtml(stringValue(val))
	case "selectedIndex":
		opts := options(e.node)
		idx := int(val.ToInteger())
		for i, o := range opts {
			if i == idx {
				setAttr(o, "selected", "")
			} else {
				removeAttr(o, "selected")
			}
		}
	default:
		m := e.rt.expandos[e.node]
		if m == nil {
			m = make(map[string]goja.Value)
			e.rt.expandos[e.node] = m
		}
		m[key] = val
	}
	return true
}

func (e *element) Has(key string) bool {
	if _, ok := attrProps[key]; ok {
		return true
	}
	if _, ok := boolProps[key]; ok {
		return true
	}
	if _, ok := e.rt.expandos[e.node][key]; ok {
		return true
	}
	return e.Get(key) != nil
}

func (e *element) Delete(key string) bool {
	delete(e.rt.expandos[e.node], key)
	return true
}

func (e *element) Keys() []string {
	keys := make([]string, 0, len(e.rt.expandos[e.node]))
	for k := range e.rt.expandos[e.node] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *element) expando(key string, init func() goja.Value) goja.Value {
	m := e.rt.expandos[e.node]
	if m == nil {
		m = make(map[string]goja.Value)
		e.rt.expandos[e.node] = m
	}
	v, ok := m[key]
	if !ok {
		v = init()
		m[key] = v
	}
	return v
}

// method returns the element's callable for key, or nil.
func (e *element) method(key string) func(goja.FunctionCall) goja.Value {
	rt, n := e.rt, e.node
	switch key {
	case "focus":
		return func(goja.FunctionCall) goja.Value {
			rt.focus(n)
			return goja.Undefined()
		}
	case "blur":
		return func(goja.FunctionCall) goja.Value {
			rt.blur(n)
			return goja.Undefined()
		}
	case "click":
		return func(goja.FunctionCall) goja.Value {
			rt.click(n)
			return goja.Undefined()
		}
	case "submit":
		return func(goja.FunctionCall) goja.Value {
			rt.submitForm(n, nil)
			return goja.Undefined()
		}
	case "dispatchEvent":
		return func(call goja.FunctionCall) goja.Value {
			ev := call.Argument(0).ToObject(rt.vm)
			return rt.vm.ToValue(rt.dispatch(n, ev))
		}
	case "addEventListener":
		return func(call goja.FunctionCall) goja.Value {
			rt.listen(n, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		}
	case "removeEventListener":
		return func(call goja.FunctionCall) goja.Value {
			rt.unlisten(n, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		}
	case "getAttribute":
		return func(call goja.FunctionCall) goja.Value {
			if v, ok := attrOK(n, strings.ToLower(call.Argument(0).String())); ok {
				return rt.vm.ToValue(v)
			}
			return goja.Null()
		}
	case "setAttribute":
		return func(call goja.FunctionCall) goja.Value {
			setAttr(n, strings.ToLower(call.Argument(0).String()), call.Argument(1).String())
			return goja.Undefined()
		}
	case "removeAttribute":
		return func(call goja.FunctionCall) goja.Value {
			removeAttr(n, strings.ToLower(call.Argument(0).String()))
			return goja.Undefined()
		}
	case "hasAttribute":
		return func(call goja.FunctionCall) goja.Value {
			return rt.vm.ToValue(hasAttr(n, strings.ToLower(call.Argument(0).String())))
		}
	case "querySelector":
		return func(call goja.FunctionCall) goja.Value {
			return rt.nodeOrNull(rt.queryFirst(n, call.Argument(0).String()))
		}
	case "querySelectorAll":
		return func(call goja.FunctionCall) goja.Value {
			return rt.array(rt.queryAll(n, call.Argument(0).String()))
		}
	case "getElementsByTagName":
		return func(call goja.FunctionCall) goja.Value {
			return rt.array(rt.queryAll(n, strings.ToLower(call.Argument(0).String())))
		}
	case "getElementsByClassName":
		return func(call goja.FunctionCall) goja.Value {
			return rt.array(rt.queryAll(n, classSelector(call.Argument(0).String())))
		}
	case "matches":
		return func(call goja.FunctionCall) goja.Value {
			return rt.vm.ToValue(rt.compile(call.Argument(0).String()).Match(n))
		}
	case "closest":
		return func(call goja.FunctionCall) goja.Value {
			m := rt.compile(call.Argument(0).String())
			return rt.nodeOrNull(closest(n, m.Match))
		}
	case "appendChild":
		return func(call goja.FunctionCall) goja.Value {
			child := rt.unwrap(call.Argument(0))
			if child == nil {
				panic(rt.vm.NewTypeError("appendChild: argument is not an element"))
			}
			if child.Parent != nil {
				child.Parent.RemoveChild(child)
			}
			n.AppendChild(child)
			return call.Argument(0)
		}
	case "removeChild":
		return func(call goja.FunctionCall) goja.Value {
			child := rt.unwrap(call.Argument(0))
			if child == nil || child.Parent != n {
				panic(rt.vm.NewTypeError("removeChild: not a child of this element"))
			}
			n.RemoveChild(child)
			return call.Argument(0)
		}
	case "remove":
		return func(goja.FunctionCall) goja.Value {
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
			return goja.Undefined()
		}
	case "toString":
		return func(goja.FunctionCall) goja.Value {
			return rt.vm.ToValue("[object HTML" + strings.ToUpper(n.Data[:1]) + n.Data[1:] + "Element]")
		}
	}
	return nil
}

// uncheckGroup clears the other radios of the same name in the form.
func (e *element) uncheckGroup() {
	n := e.node
	if n.Data != "input" || getAttr(n, "type") != "radio" {
		return
	}
	name := getAttr(n, "name")
	if name == "" {
		return
	}
	scope := closest(n, func(p *html.Node) bool { return p.Data == "form" })
	if scope == nil {
		scope = e.rt.doc.Nodes[0]
	}
	walk(scope, func(o *html.Node) {
		if o != n && o.Data == "input" && getAttr(o, "type") == "radio" && getAttr(o, "name") == name {
			removeAttr(o, "checked")
		}
	})
}

// describe converts an element returned from Evaluate into plain data.
func (e *element) describe() map[string]any {
	return map[string]any{
		"tagName":     strings.ToUpper(e.node.Data),
		"id":          getAttr(e.node, "id"),
		"className":   getAttr(e.node, "class"),
		"textContent": e.sel().Text(),
	}
}

// compile parses a CSS selector, throwing a script error when it is invalid.
func (rt *runtime) compile(selector string) cascadia.Selector {
	if m, ok := rt.selectors[selector]; ok {
		return m
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		panic(rt.vm.NewTypeError("'" + selector + "' is not a valid selector"))
	}
	rt.selectors[selector] = m
	return m
}

func (rt *runtime) queryAll(scope *html.Node, selector string) []*html.Node {
	return goquery.NewDocumentFromNode(scope).FindMatcher(rt.compile(selector)).Nodes
}

func (rt *runtime) queryFirst(scope *html.Node, selector string) *html.Node {
	nodes := rt.queryAll(scope, selector)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// wrap returns the cached script object for n.
func (rt *runtime) wrap(n *html.Node) *goja.Object {
	if obj, ok := rt.elements[n]; ok {
		return obj
	}
	obj := rt.vm.NewDynamicObject(&element{rt: rt, node: n})
	rt.elements[n] = obj
	return obj
}

func (rt *runtime) unwrap(v goja.Value) *html.Node {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if el, ok := v.Export().(*element); ok && el.rt == rt {
		return el.node
	}
	return nil
}

func (rt *runtime) nodeValue(n *html.Node) goja.Value {
	if n.Type == html.DocumentNode {
		return rt.document
	}
	return rt.wrap(n)
}

func (rt *runtime) nodeOrNull(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return rt.wrap(n)
}

func (rt *runtime) array(nodes []*html.Node) goja.Value {
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = rt.wrap(n)
	}
	return rt.vm.NewArray(items...)
}

func (rt *runtime) createElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// Tree helpers.

func getAttr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attrOK(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != key {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findByID(root *html.Node, id string) *html.Node {
	if root.Type == html.ElementNode && getAttr(root, "id") == id {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func closest(n *html.Node, match func(*html.Node) bool) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && match(p) {
			return p
		}
	}
	return nil
}

func childElements(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func next(n *html.Node) *html.Node { return n.NextSibling }
func prev(n *html.Node) *html.Node { return n.PrevSibling }

func firstElement(n *html.Node, step func(*html.Node) *html.Node) *html.Node {
	for ; n != nil; n = step(n) {
		if n.Type == html.ElementNode {
			return n
		}
	}
	return nil
}

func options(sel *html.Node) []*html.Node {
	var out []*html.Node
	walk(sel, func(n *html.Node) {
		if n.Data == "option" {
			out = append(out, n)
		}
	})
	return out
}

func selectedIndex(sel *html.Node) int {
	opts := options(sel)
	for i, o := range opts {
		if hasAttr(o, "selected") {
			return i
		}
	}
	if len(opts) > 0 && !hasAttr(sel, "multiple") {
		return 0
	}
	return -1
}

func optionValue(o *html.Node) string {
	if v, ok := attrOK(o, "value"); ok {
		return v
	}
	return strings.TrimSpace(goquery.NewDocumentFromNode(o).Text())
}

// valueOf is the current form value of n.
func valueOf(n *html.Node) string {
	switch n.Data {
	case "textarea":
		return goquery.NewDocumentFromNode(n).Text()
	case "select":
		opts := options(n)
		if i := selectedIndex(n); i >= 0 {
			return optionValue(opts[i])
		}
		return ""
	case "option":
		return optionValue(n)
	case "input":
		if v, ok := attrOK(n, "value"); ok {
			return v
		}
		if t := getAttr(n, "type"); t == "checkbox" || t == "radio" {
			return "on"
		}
	}
	return getAttr(n, "value")
}

func setValue(n *html.Node, v string) {
	switch n.Data {
	case "textarea":
		goquery.NewDocumentFromNode(n).SetText(v)
	case "select":
		for _, o := range options(n) {
			if optionValue(o) == v {
				setAttr(o, "selected", "")
			} else {
				removeAttr(o, "selected")
			}
		}
	default:
		setAttr(n, "value", v)
	}
}

func classSelector(names string) string {
	var b strings.Builder
	for _, c := range strings.Fields(names) {
		b.WriteByte('.')
		b.WriteString(c)
	}
	if b.Len() == 0 {
		return ":not(*)"
	}
	return b.String()
}

func camel(s string) string {
	parts := strings.Split(s, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func truthyValue(v goja.Value) bool {
	return v != nil && !goja.IsNull(v) && !goja.IsUndefined(v) && v.ToBoolean()
}

func stringValue(v goja.Value) string {
	if v == nil || goja.IsNull(v) || goja.IsUndefined(v) {
		return ""
	}
	return v.String()
}

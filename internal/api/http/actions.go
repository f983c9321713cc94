package http

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/pagepilot/internal/session"
)

// OpenRequest is the body of /open and /browse.
type OpenRequest struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Data   string `json:"data"`
}

// EvaluateRequest runs Script, a JavaScript function source, with Args.
type EvaluateRequest struct {
	Script string `json:"script"`
	Args   []any  `json:"args"`
}

// SelectorRequest targets one element. Position picks among several
// matches where the action supports it.
type SelectorRequest struct {
	Selector string `json:"selector"`
	Position int    `json:"position"`
}

// ValueRequest is a selector plus a value for /fill, /select and /check.
type ValueRequest struct {
	Selector string `json:"selector"`
	Value    any    `json:"value"`
	Position int    `json:"position"`
}

// FillFieldsRequest fills several fields in order.
type FillFieldsRequest struct {
	Fields []session.Field `json:"fields"`
}

// SelectAndFillRequest clicks Selector when Value is truthy, then fills
// FillSelector with FillValue.
type SelectAndFillRequest struct {
	Selector     string `json:"selector"`
	Value        any    `json:"value"`
	FillSelector string `json:"fill_selector"`
	FillValue    any    `json:"fill_value"`
}

// FindTextRequest checks element text.
type FindTextRequest struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Literal  bool   `json:"literal"`
}

// WaitURLRequest waits for a url. Exactly one of URL, Pattern (a regular
// expression) or Glob is expected.
type WaitURLRequest struct {
	URL     string `json:"url"`
	Pattern string `json:"pattern"`
	Glob    string `json:"glob"`
}

// ScreenshotRequest names the file written under the session folder.
type ScreenshotRequest struct {
	Filename string `json:"filename"`
}

// SleepRequest pauses for Duration, a Go duration string.
type SleepRequest struct {
	Duration string `json:"duration"`
}

// bind decodes the JSON body into req. An empty body leaves req zero.
func bind(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}

func ok(c *gin.Context, extra gin.H) {
	body := gin.H{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Open navigates the active page.
func (h *Handlers) Open(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req OpenRequest
	if !bind(c, &req) {
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	status, err := s.Open(ctx, req.URL, req.Method, req.Data)
	if err != nil {
		h.fail(c, "open", err)
		return
	}
	ok(c, gin.H{"status": status})
}

// BrowseTo resets the load state and opens the url with GET.
func (h *Handlers) BrowseTo(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req OpenRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	if err := s.BrowseTo(ctx, req.URL); err != nil {
		h.fail(c, "browse", err)
		return
	}
	ok(c, nil)
}

// Evaluate runs a function in the active page.
func (h *Handlers) Evaluate(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req EvaluateRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	res, err := s.Evaluate(ctx, req.Script, req.Args...)
	if err != nil {
		h.fail(c, "evaluate", err)
		return
	}
	ok(c, gin.H{"result": res})
}

// Click clicks the matching element at position.
func (h *Handlers) Click(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req SelectorRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	if err := s.Click(ctx, req.Selector, req.Position); err != nil {
		h.fail(c, "click", err)
		return
	}
	ok(c, nil)
}

// Check sets a checkbox. A missing value checks it.
func (h *Handlers) Check(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	req := ValueRequest{Value: true}
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	checked, _ := req.Value.(bool)
	if err := s.Check(ctx, req.Selector, checked); err != nil {
		h.fail(c, "check", err)
		return
	}
	ok(c, nil)
}

// FillField sets the value of an input.
func (h *Handlers) FillField(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req ValueRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	if err := s.FillField(ctx, req.Selector, req.Value, req.Position); err != nil {
		h.fail(c, "fill", err)
		return
	}
	ok(c, nil)
}

// FillFields fills several inputs, stopping at the first failure.
func (h *Handlers) FillFields(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req FillFieldsRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	if err := s.FillFields(ctx, req.Fields); err != nil {
		h.fail(c, "fill-fields", err)
		return
	}
	ok(c, nil)
}

// Select picks an option of a select element.
func (h *Handlers) Select(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req ValueRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	if err := s.Select(ctx, req.Selector, req.Value, req.Position); err != nil {
		h.fail(c, "select", err)
		return
	}
	ok(c, nil)
}

// SelectAndFill clicks one element and fills another.
func (h *Handlers) SelectAndFill(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req SelectAndFillRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	if err := s.SelectAndFill(ctx, req.Selector, req.Value, req.FillSelector, req.FillValue); err != nil {
		h.fail(c, "select-and-fill", err)
		return
	}
	ok(c, nil)
}

// FindText checks that an element contains text.
func (h *Handlers) FindText(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req FindTextRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	if err := s.FindText(ctx, req.Selector, req.Text, req.Literal); err != nil {
		h.fail(c, "find-text", err)
		return
	}
	ok(c, nil)
}

// Enabled removes the disabled attribute of an element.
func (h *Handlers) Enabled(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req SelectorRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	if err := s.Enabled(ctx, req.Selector); err != nil {
		h.fail(c, "enabled", err)
		return
	}
	ok(c, nil)
}

// GetText returns the text of an element.
func (h *Handlers) GetText(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req SelectorRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	text, err := s.GetText(ctx, req.Selector)
	if err != nil {
		h.fail(c, "text", err)
		return
	}
	ok(c, gin.H{"text": text})
}

// Exists reports whether an element is present.
func (h *Handlers) Exists(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req SelectorRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	exists, err := s.Exists(ctx, req.Selector)
	if err != nil {
		h.fail(c, "exists", err)
		return
	}
	ok(c, gin.H{"exists": exists})
}

// Screenshot renders the active page into the session folder.
func (h *Handlers) Screenshot(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req ScreenshotRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	path, err := s.Screenshot(ctx, req.Filename)
	if err != nil {
		h.fail(c, "screenshot", err)
		return
	}
	ok(c, gin.H{"path": path})
}

// Screenshots lists the screenshots taken by the session.
func (h *Handlers) Screenshots(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	files, err := s.Screenshots(ctx)
	if err != nil {
		h.fail(c, "screenshots", err)
		return
	}
	if files == nil {
		files = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"dir":   s.ScreenshotDir(),
		"files": files,
	})
}

// WaitForURL waits until the active page reaches a url.
func (h *Handlers) WaitForURL(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req WaitURLRequest
	if !bind(c, &req) {
		return
	}

	var m session.URLMatcher
	switch {
	case req.Pattern != "":
		re, err := regexp.Compile(req.Pattern)
		if err != nil {
			badRequest(c, err)
			return
		}
		m = session.URLPattern(re)
	case req.Glob != "":
		m = session.URLGlob(req.Glob)
	case req.URL != "":
		m = session.ExactURL(req.URL)
	}

	ctx, cancel := h.actionContext(c)
	defer cancel()

	url, err := s.WaitForURL(ctx, m)
	if err != nil {
		h.fail(c, "wait-url", err)
		return
	}
	ok(c, gin.H{"url": url})
}

// Loaded waits for the current navigation to settle.
func (h *Handlers) Loaded(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	url, err := s.Loaded(ctx)
	if err != nil {
		h.fail(c, "loaded", err)
		return
	}
	ok(c, gin.H{"url": url})
}

// Sleep pauses the session, one second by default.
func (h *Handlers) Sleep(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	var req SleepRequest
	if !bind(c, &req) {
		return
	}
	d, err := parseDuration(req.Duration)
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	start := time.Now()
	if err := s.Sleep(ctx, d); err != nil {
		h.fail(c, "sleep", err)
		return
	}
	ok(c, gin.H{"slept": time.Since(start).String()})
}

// Cookies returns the cookies of the active page.
func (h *Handlers) Cookies(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	cookies, err := s.GetCookies(ctx)
	if err != nil {
		h.fail(c, "cookies", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cookies": cookies})
}

// Property reads a raw page property such as url, title or content.
func (h *Handlers) Property(c *gin.Context) {
	s, found := h.lookup(c)
	if !found {
		return
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	name := c.Param("name")
	v, err := s.Property(ctx, name)
	if err != nil {
		h.fail(c, "property", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": v})
}

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Field is one selector/value pair for FillFields.
type Field struct {
	Selector string `json:"selector"`
	Value    any    `json:"value"`
}

// Open navigates the active page. url and method are required.
func (s *Session) Open(ctx context.Context, url, method, data string) (string, error) {
	if url == "" {
		return "", missing("open", "url")
	}
	if method == "" {
		return "", missing("open", "method")
	}
	s.touch()
	s.log.Debug("open", zap.String("url", url), zap.String("method", method))

	page, err := s.activePage(ctx)
	if err != nil {
		return "", err
	}
	s.recorder.Navigation()
	status, err := page.Open(ctx, url, method, data)
	if err != nil {
		return status, fmt.Errorf("browser.open %s: %w", url, err)
	}
	s.log.Debug("page opened", zap.String("url", url), zap.String("status", status))
	return status, nil
}

// BrowseTo clears the loaded flag and opens url with GET.
func (s *Session) BrowseTo(ctx context.Context, url string) error {
	s.tracker.reset()
	_, err := s.Open(ctx, url, "GET", "")
	if err != nil {
		s.log.Debug("browseTo failed", zap.String("url", url), zap.Error(err))
	}
	return err
}

// Evaluate runs the JavaScript function source fn with args in the active
// page and returns its result.
func (s *Session) Evaluate(ctx context.Context, fn string, args ...any) (any, error) {
	s.touch()

	page, err := s.activePage(ctx)
	if err != nil {
		return nil, err
	}
	res, err := page.Evaluate(ctx, fn, args...)
	if err != nil {
		s.log.Debug("evaluate failed", zap.Error(err))
		return nil, fmt.Errorf("browser.evaluate: %w", err)
	}
	return res, nil
}

// Click dispatches a click on the position-th element matching selector.
// A lone "#id" selector ignores position.
func (s *Session) Click(ctx context.Context, selector string, position int) error {
	res, err := s.Evaluate(ctx, clickScript, selector, position)
	if err != nil {
		return err
	}
	if isFalse(res) || res == nil {
		return notFound("click", selector)
	}
	s.log.Debug("clicked", zap.String("selector", selector))
	return nil
}

// Check clicks selector when isChecked is set and does nothing otherwise.
func (s *Session) Check(ctx context.Context, selector string, isChecked bool) error {
	if !isChecked {
		return nil
	}
	return s.Click(ctx, selector, 0)
}

// FillField sets the value of the matched element and blurs it. A nil value
// is a no-op.
func (s *Session) FillField(ctx context.Context, selector string, value any, position int) error {
	if value == nil {
		return nil
	}
	res, err := s.Evaluate(ctx, fillFieldScript, selector, value, position)
	if err != nil {
		return err
	}
	if res == nil {
		return notFound("fillField", selector)
	}
	s.log.Debug("fillField", zap.String("selector", selector), zap.Any("value", value))
	return nil
}

// FillFields fills fields in order and stops at the first failure.
func (s *Session) FillFields(ctx context.Context, fields []Field) error {
	for _, f := range fields {
		if err := s.FillField(ctx, f.Selector, f.Value, 0); err != nil {
			return err
		}
	}
	return nil
}

// FindText checks that the first element matching selector contains text,
// or equals it when literal is set.
func (s *Session) FindText(ctx context.Context, selector, text string, literal bool) error {
	res, err := s.Evaluate(ctx, findTextScript, selector, text, literal)
	if err != nil {
		return err
	}
	switch {
	case res == nil:
		return notFound("findText", selector)
	case !truthy(res):
		return fmt.Errorf("browser.findText: %w: %q in %s", ErrTextNotFound, text, selector)
	}
	return nil
}

// Select sets the value of a select element and fires change. A nil value is
// a no-op.
func (s *Session) Select(ctx context.Context, selector string, value any, position int) error {
	if value == nil {
		return nil
	}
	res, err := s.Evaluate(ctx, selectScript, selector, value, position)
	if err != nil {
		return err
	}
	if !truthy(res) {
		return fmt.Errorf("browser.select: %w %s:%v", ErrCannotSelect, selector, value)
	}
	return nil
}

// SelectAndFill clicks sel1 and fills sel2 with val2, unless val1 is falsy.
func (s *Session) SelectAndFill(ctx context.Context, sel1 string, val1 any, sel2 string, val2 any) error {
	if !truthy(val1) {
		return nil
	}
	if err := s.Click(ctx, sel1, 0); err != nil {
		return err
	}
	return s.FillField(ctx, sel2, val2, 0)
}

// Enabled clears the disabled attribute of selector.
func (s *Session) Enabled(ctx context.Context, selector string) error {
	res, err := s.Evaluate(ctx, enabledScript, selector)
	if err != nil {
		return err
	}
	if res == nil {
		return notFound("enabled", selector)
	}
	return nil
}

// GetText returns the textContent of the first element matching selector.
func (s *Session) GetText(ctx context.Context, selector string) (string, error) {
	res, err := s.Evaluate(ctx, getTextScript, selector)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", notFound("getText", selector)
	}
	return stringify(res), nil
}

// Exists reports whether selector, or an element with that id, is present.
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	res, err := s.Evaluate(ctx, existsScript, selector)
	if err != nil {
		return false, err
	}
	return truthy(res), nil
}

// Loaded blocks until the current navigation settled and returns the url.
func (s *Session) Loaded(ctx context.Context) (string, error) {
	s.touch()
	if err := s.Ready(ctx); err != nil {
		return "", err
	}
	return s.tracker.wait(ctx)
}

// LoadState returns the settlement state of the current navigation.
func (s *Session) LoadState() string {
	return s.tracker.current().String()
}

// Sleep pauses for d, one second when d is not positive.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}
	s.touch()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		s.log.Debug("sleep done", zap.Duration("duration", d))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Property reads a raw page property of the active page.
func (s *Session) Property(ctx context.Context, name string) (any, error) {
	s.touch()
	page, err := s.activePage(ctx)
	if err != nil {
		return nil, err
	}
	return page.Property(ctx, name)
}

// GetCookies returns the cookies of the active page.
func (s *Session) GetCookies(ctx context.Context) ([]engine.Cookie, error) {
	v, err := s.Property(ctx, engine.PropCookies)
	if err != nil {
		return nil, err
	}
	return decodeCookies(v)
}

func decodeCookies(v any) ([]engine.Cookie, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case []engine.Cookie:
		return c, nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("browser.getCookies: %w", err)
	}
	var cookies []engine.Cookie
	if err := sonic.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("browser.getCookies: %w", err)
	}
	return cookies, nil
}

func isFalse(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}

// truthy follows JavaScript truthiness for values exported by engines.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	return fmt.Sprint(v)
}

package session

import (
	"context"
	"fmt"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/events"
)

// URLMatcher decides whether a page url is the one being waited for.
type URLMatcher interface {
	MatchURL(url string) bool
	String() string
}

// ExactURL matches one url verbatim.
type ExactURL string

func (u ExactURL) MatchURL(url string) bool { return string(u) == url }
func (u ExactURL) String() string           { return string(u) }

// URLGlob matches with doublestar syntax, e.g. "https://*.example.com/**".
type URLGlob string

func (g URLGlob) MatchURL(url string) bool {
	ok, err := doublestar.Match(string(g), url)
	return err == nil && ok
}

func (g URLGlob) String() string { return string(g) }

type urlPattern struct {
	re *regexp.Regexp
}

// URLPattern matches urls against re.
func URLPattern(re *regexp.Regexp) URLMatcher {
	return urlPattern{re: re}
}

func (p urlPattern) MatchURL(url string) bool { return p.re.MatchString(url) }
func (p urlPattern) String() string           { return "/" + p.re.String() + "/" }

// WaitForURL returns at once when the active page url matches m. Otherwise
// it waits for the next onUrlChanged: a matching url is returned, any other
// url fails with ErrURLMismatch.
func (s *Session) WaitForURL(ctx context.Context, m URLMatcher) (string, error) {
	if m == nil {
		return "", missing("waitForUrl", "url")
	}
	s.touch()

	page, err := s.activePage(ctx)
	if err != nil {
		return "", err
	}

	type result struct {
		url string
		err error
	}
	ch := make(chan result, 1)
	name := engine.EventURLChanged.String()

	// Registered before reading the current url so a change in between is
	// not lost.
	lid := s.channel.Once(name, func(ev events.Event) {
		url := ev.Arg(0)
		if url == "" {
			url, _ = currentURL(s.ctx, page)
		}
		if m.MatchURL(url) {
			s.log.Debug("waitForUrl matched", zap.String("url", url))
			ch <- result{url: url}
			return
		}
		s.log.Debug("waitForUrl NOT matched", zap.String("url", url), zap.Stringer("want", m))
		ch <- result{err: fmt.Errorf("browser.waitForUrl: %w: %s with %s", ErrURLMismatch, url, m)}
	})

	current, err := currentURL(ctx, page)
	if err != nil {
		s.channel.Off(name, lid)
		return "", err
	}
	if m.MatchURL(current) {
		s.channel.Off(name, lid)
		s.log.Debug("waitForUrl matched at once", zap.String("url", current))
		return current, nil
	}

	select {
	case r := <-ch:
		return r.url, r.err
	case <-ctx.Done():
		s.channel.Off(name, lid)
		return "", ctx.Err()
	case <-s.closing:
		s.channel.Off(name, lid)
		return "", ErrAlreadyClosed
	}
}

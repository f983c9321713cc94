package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/events"
)

// loadState is the per-navigation settlement state.
type loadState int

const (
	stateLoading loadState = iota
	stateNativeFinished
	stateSettled
)

func (s loadState) String() string {
	switch s {
	case stateLoading:
		return "loading"
	case stateNativeFinished:
		return "native_finished"
	case stateSettled:
		return "settled"
	}
	return "unknown"
}

// ajaxWaitState counts instrumented requests for the current navigation.
type ajaxWaitState struct {
	started   int
	completed int
}

func (a ajaxWaitState) outstanding() int {
	if a.completed >= a.started {
		return 0
	}
	return a.started - a.completed
}

type loadResult struct {
	url string
	err error
}

// tracker decides when a navigation of the active tab is settled: the
// native load finished and then either AJAX_COMPLETE arrived or the AJAX
// wait timed out. Load and AJAX events from inactive tabs are ignored.
type tracker struct {
	s *Session

	mu      sync.Mutex
	state   loadState
	loaded  bool
	gen     uint64
	waiters []chan loadResult
	ajax    ajaxWaitState

	// pending counts Loaded calls blocked in wait.
	pending atomic.Int32
}

func newTracker(s *Session) *tracker {
	t := &tracker{s: s}
	s.channel.On(engine.EventLoadStarted.String(), t.onLoadStarted)
	s.channel.On(engine.EventLoadFinished.String(), t.onLoadFinished)
	s.channel.On(events.AjaxStarted, t.onAjaxStarted)
	s.channel.On(events.AjaxComplete, t.onAjaxComplete)
	return t
}

// fromActive reports whether ev was raised by the active tab. Events with no
// source, such as raw output lines, count as active.
func (t *tracker) fromActive(ev events.Event) bool {
	return ev.Source == nil || ev.Source == t.s.tabs.Active()
}

func (t *tracker) onLoadStarted(ev events.Event) {
	if !t.fromActive(ev) {
		return
	}
	t.mu.Lock()
	t.gen++
	t.state = stateLoading
	t.loaded = false
	t.ajax = ajaxWaitState{}
	t.mu.Unlock()
}

// onLoadFinished sets the sticky loaded flag and hands the current waiters
// to a settlement. Waiters arriving later attach to the next navigation.
func (t *tracker) onLoadFinished(ev events.Event) {
	if !t.fromActive(ev) {
		return
	}
	t.mu.Lock()
	t.state = stateNativeFinished
	t.loaded = true
	gen := t.gen
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	if len(waiters) > 0 {
		go t.settle(waiters, gen)
	}
}

func (t *tracker) onAjaxStarted(ev events.Event) {
	if !t.fromActive(ev) {
		return
	}
	t.mu.Lock()
	t.ajax.started++
	t.mu.Unlock()
}

func (t *tracker) onAjaxComplete(ev events.Event) {
	if !t.fromActive(ev) {
		return
	}
	t.mu.Lock()
	t.ajax.completed++
	t.mu.Unlock()
}

// reset clears the sticky loaded flag before an explicit navigation.
func (t *tracker) reset() {
	t.mu.Lock()
	t.loaded = false
	t.mu.Unlock()
}

func (t *tracker) current() loadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// wait returns the page url once the next navigation settled. When the page
// already finished loading since the last call the sticky flag is consumed
// and wait returns at once.
func (t *tracker) wait(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.loaded {
		t.loaded = false
		t.mu.Unlock()
		t.s.log.Debug("already loaded")
		return currentURL(ctx, t.s.tabs.Active())
	}
	ch := make(chan loadResult, 1)
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	t.pending.Add(1)
	defer t.pending.Add(-1)
	defer t.s.touch()

	t.s.log.Debug("waiting for onLoadFinished")
	select {
	case r := <-ch:
		return r.url, r.err
	case <-ctx.Done():
		t.drop(ch)
		return "", ctx.Err()
	case <-t.s.closing:
		t.drop(ch)
		return "", ErrAlreadyClosed
	}
}

func (t *tracker) drop(ch chan loadResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.waiters {
		if w == ch {
			t.waiters = append(t.waiters[:i:i], t.waiters[i+1:]...)
			return
		}
	}
}

// busy reports whether a Loaded call is waiting on a navigation.
func (t *tracker) busy() bool {
	return t.pending.Load() > 0
}

// settle finishes navigation gen for waiters. A newer navigation that
// started meanwhile keeps its own state and loaded flag.
func (t *tracker) settle(waiters []chan loadResult, gen uint64) {
	s := t.s
	start := time.Now()
	page := s.tabs.Active()

	url, err := currentURL(s.ctx, page)
	if err != nil {
		deliver(waiters, loadResult{err: err})
		return
	}

	done := make(chan struct{})
	var doneOnce sync.Once
	id := s.channel.On(events.AjaxComplete, func(ev events.Event) {
		if ev.Source != nil && ev.Source != page {
			return
		}
		doneOnce.Do(func() { close(done) })
	})
	defer s.channel.Off(events.AjaxComplete, id)

	if _, err := page.Evaluate(s.ctx, ajaxInstrumentation); err != nil {
		deliver(waiters, loadResult{err: fmt.Errorf("inject ajax instrumentation: %w", err)})
		return
	}

	timer := time.NewTimer(s.opts.AjaxTimeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
	case <-s.closing:
		deliver(waiters, loadResult{err: ErrAlreadyClosed})
		return
	}

	t.mu.Lock()
	if t.gen == gen {
		t.state = stateSettled
		t.loaded = false
	}
	outstanding := t.ajax.outstanding()
	t.mu.Unlock()

	s.recorder.Settled(time.Since(start), timedOut)
	s.log.Debug("load finished",
		zap.String("url", url),
		zap.Bool("ajax_timeout", timedOut),
		zap.Int("ajax_outstanding", outstanding),
	)
	deliver(waiters, loadResult{url: url})

	t.replaceEvents(page)
}

// replaceEvents rewraps jQuery-bound handlers on links and inputs when the
// page has jQuery. Pages without it are left alone.
func (t *tracker) replaceEvents(page engine.PageHandle) {
	res, err := page.Evaluate(t.s.ctx, replaceEventsScript)
	if err != nil {
		t.s.log.Debug("replaceEvents failed", zap.Error(err))
		return
	}
	t.s.log.Debug("replaceEvents", zap.Bool("jquery", truthy(res)))
}

func deliver(waiters []chan loadResult, r loadResult) {
	for _, w := range waiters {
		w <- r
	}
}

func currentURL(ctx context.Context, page engine.PageHandle) (string, error) {
	v, err := page.Property(ctx, engine.PropURL)
	if err != nil {
		return "", fmt.Errorf("read url: %w", err)
	}
	return stringify(v), nil
}

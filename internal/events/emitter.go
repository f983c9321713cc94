package events

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Internal event names produced by the console protocol decoder.
const (
	AjaxStarted  = "AJAX_STARTED"
	AjaxComplete = "AJAX_COMPLETE"
)

// Event is one named occurrence dispatched through an Emitter.
type Event struct {
	Name string
	Args []string
	// Page carries the new tab for onPageCreated.
	Page engine.PageHandle
	// Source is the tab that raised the event, nil for raw output lines.
	Source engine.PageHandle
}

// Arg returns the i-th argument or "" when missing.
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

// Handler receives dispatched events.
type Handler func(Event)

// ListenerID identifies a registered handler for removal.
type ListenerID uint64

type listener struct {
	id      ListenerID
	fn      Handler
	once    bool
	removed atomic.Bool
}

// Emitter is a synchronous publish/subscribe hub keyed by event name.
// Handlers run in registration order on the goroutine calling Emit.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]*listener
	nextID    ListenerID
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]*listener)}
}

// On registers fn for every emission of name.
func (e *Emitter) On(name string, fn Handler) ListenerID {
	return e.add(name, fn, false)
}

// Once registers fn for the next emission of name only.
func (e *Emitter) Once(name string, fn Handler) ListenerID {
	return e.add(name, fn, true)
}

func (e *Emitter) add(name string, fn Handler, once bool) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	l := &listener{id: e.nextID, fn: fn, once: once}
	e.listeners[name] = append(e.listeners[name], l)
	return l.id
}

// Off removes a single listener. Unknown ids are ignored.
func (e *Emitter) Off(name string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.listeners[name]
	for i, l := range list {
		if l.id == id {
			l.removed.Store(true)
			e.listeners[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(e.listeners[name]) == 0 {
		delete(e.listeners, name)
	}
}

// RemoveAll drops every listener registered for name.
func (e *Emitter) RemoveAll(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, l := range e.listeners[name] {
		l.removed.Store(true)
	}
	delete(e.listeners, name)
}

// ListenerCount returns the number of handlers registered for name.
func (e *Emitter) ListenerCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}

// Emit dispatches ev to the handlers registered for ev.Name at the time of
// the call. A once handler is detached before it runs, so a concurrent Emit
// can never invoke it a second time.
func (e *Emitter) Emit(ev Event) int {
	e.mu.Lock()
	snapshot := append([]*listener(nil), e.listeners[ev.Name]...)
	e.mu.Unlock()

	called := 0
	for _, l := range snapshot {
		if l.once {
			if !l.removed.CompareAndSwap(false, true) {
				continue
			}
			e.detach(ev.Name, l.id)
		} else if l.removed.Load() {
			continue
		}
		l.fn(ev)
		called++
	}
	return called
}

func (e *Emitter) detach(name string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.listeners[name]
	for i, l := range list {
		if l.id == id {
			e.listeners[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(e.listeners[name]) == 0 {
		delete(e.listeners, name)
	}
}

package session

import (
	"sync"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Tabs tracks the page actions target and every tab opened since start.
// Switching is last writer wins.
type Tabs struct {
	mu      sync.RWMutex
	active  engine.PageHandle
	history []engine.PageHandle
}

// Active returns the current page.
func (t *Tabs) Active() engine.PageHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// History returns the opened tabs, oldest first. The initial page is not
// part of the history.
func (t *Tabs) History() []engine.PageHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]engine.PageHandle(nil), t.history...)
}

// Len returns the number of opened tabs.
func (t *Tabs) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history)
}

func (t *Tabs) setActive(p engine.PageHandle) {
	t.mu.Lock()
	t.active = p
	t.mu.Unlock()
}

func (t *Tabs) add(p engine.PageHandle) {
	t.mu.Lock()
	t.history = append(t.history, p)
	t.active = p
	t.mu.Unlock()
}

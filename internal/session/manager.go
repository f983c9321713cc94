package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Manager keeps the live sessions of one process, keyed by id. Sessions
// remove themselves when they close, including TTL expiry.
type Manager struct {
	launcher engine.Launcher
	defaults Options

	sessions sync.Map
	mu       sync.Mutex
	count    int
	limit    int
	onCount  func(int)
}

// NewManager creates a manager that launches engines with launcher and
// fills unset session options from defaults.
func NewManager(launcher engine.Launcher, defaults Options) *Manager {
	return &Manager{launcher: launcher, defaults: defaults}
}

// SetLimit caps the number of live sessions. Zero means unlimited.
func (m *Manager) SetLimit(n int) {
	m.mu.Lock()
	m.limit = n
	m.mu.Unlock()
}

// OnCountChange registers a callback receiving the live session count.
func (m *Manager) OnCountChange(fn func(int)) {
	m.mu.Lock()
	m.onCount = fn
	m.mu.Unlock()
}

// Create starts a new session. Zero fields of opts take the manager defaults.
func (m *Manager) Create(opts Options) (*Session, error) {
	opts = m.merge(opts)
	if opts.ID != "" {
		if _, exists := m.sessions.Load(opts.ID); exists {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, opts.ID)
		}
	}

	if !m.reserve() {
		return nil, ErrTooManySessions
	}

	s := New(m.launcher, opts)
	m.sessions.Store(s.ID(), s)
	m.notify()

	s.OnClose(func(s *Session) {
		if _, loaded := m.sessions.LoadAndDelete(s.ID()); loaded {
			m.adjust(-1)
		}
	})
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []*Session {
	var list []*Session
	m.sessions.Range(func(_, v any) bool {
		list = append(list, v.(*Session))
		return true
	})
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt().Equal(list[j].CreatedAt()) {
			return list[i].ID() < list[j].ID()
		}
		return list[i].CreatedAt().Before(list[j].CreatedAt())
	})
	return list
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Close closes one session.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Close(ctx)
}

// CloseAll closes every live session and joins their errors.
func (m *Manager) CloseAll(ctx context.Context) error {
	sessions := m.List()

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			if err := s.Close(ctx); err != nil {
				errs[i] = fmt.Errorf("close %s: %w", s.ID(), err)
			}
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// reserve counts a new session unless the limit is reached.
func (m *Manager) reserve() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && m.count >= m.limit {
		return false
	}
	m.count++
	return true
}

func (m *Manager) adjust(delta int) {
	m.mu.Lock()
	m.count += delta
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) notify() {
	m.mu.Lock()
	n, fn := m.count, m.onCount
	m.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

func (m *Manager) merge(opts Options) Options {
	d := m.defaults
	if opts.TTL == 0 {
		opts.TTL = d.TTL
	}
	if opts.TTLTick == 0 {
		opts.TTLTick = d.TTLTick
	}
	if opts.ScreenshotFolder == "" {
		opts.ScreenshotFolder = d.ScreenshotFolder
	}
	if opts.EngineArgs == nil {
		opts.EngineArgs = d.EngineArgs
	}
	if opts.AjaxTimeout == 0 {
		opts.AjaxTimeout = d.AjaxTimeout
	}
	if !opts.TraceResources {
		opts.TraceResources = d.TraceResources
	}
	if opts.Logger == nil {
		opts.Logger = d.Logger
	}
	if opts.DebugNamespace == "" {
		opts.DebugNamespace = d.DebugNamespace
	}
	if opts.Recorder == nil {
		opts.Recorder = d.Recorder
	}
	return opts
}

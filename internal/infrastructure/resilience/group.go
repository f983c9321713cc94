package resilience

import "sync"

// Group hands out one breaker per key, created on first use with shared
// settings. The sandbox fetcher keys it by host so one failing site does not
// block the rest.
type Group struct {
	settings Settings
	breakers sync.Map
}

// NewGroup creates an empty group.
func NewGroup(settings Settings) *Group {
	return &Group{settings: settings}
}

// Get returns the breaker for key.
func (g *Group) Get(key string) *Breaker {
	if b, ok := g.breakers.Load(key); ok {
		return b.(*Breaker)
	}
	b, _ := g.breakers.LoadOrStore(key, New(key, g.settings))
	return b.(*Breaker)
}

// States reports the state of every breaker created so far.
func (g *Group) States() map[string]State {
	out := make(map[string]State)
	g.breakers.Range(func(k, v any) bool {
		out[k.(string)] = v.(*Breaker).State()
		return true
	})
	return out
}

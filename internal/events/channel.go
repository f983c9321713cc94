package events

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Channel funnels native page events and raw engine output into one Emitter
// and decodes the console protocol on the way through.
type Channel struct {
	*Emitter

	logger         *zap.Logger
	traceResources bool

	tapMu  sync.RWMutex
	taps   []tap
	nextTp int
}

type tap struct {
	id int
	fn Handler
}

// NewChannel creates a channel. When traceResources is set the noisy
// resource events are bound as well.
func NewChannel(logger *zap.Logger, traceResources bool) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		Emitter:        NewEmitter(),
		logger:         logger,
		traceResources: traceResources,
	}
	c.On(engine.EventConsoleMessage.String(), c.handleConsole)
	return c
}

// Attach binds every native event of page to this channel. Events are
// stamped with page as their source.
func (c *Channel) Attach(page engine.PageHandle) {
	kinds := engine.CoreEvents
	if c.traceResources {
		kinds = append(append([]engine.EventKind(nil), kinds...), engine.ResourceEvents...)
	}
	forward := func(ev engine.NativeEvent) { c.forward(page, ev) }
	for _, kind := range kinds {
		page.Bind(kind, forward)
	}
}

// Forward re-emits one native event that has no known source page.
func (c *Channel) Forward(ev engine.NativeEvent) {
	c.forward(nil, ev)
}

func (c *Channel) forward(source engine.PageHandle, ev engine.NativeEvent) {
	name := ev.Kind.String()
	if !ev.Kind.Noisy() {
		c.logger.Debug("engine event",
			zap.String("event", name),
			zap.String("args", strings.Join(ev.Args, " ")),
		)
	}
	c.Emit(Event{Name: name, Args: ev.Args, Page: ev.Page, Source: source})
}

// Emit dispatches ev to listeners and then to taps.
func (c *Channel) Emit(ev Event) int {
	n := c.Emitter.Emit(ev)

	c.tapMu.RLock()
	taps := append([]tap(nil), c.taps...)
	c.tapMu.RUnlock()

	for _, t := range taps {
		t.fn(ev)
	}
	return n
}

// Tap observes every event emitted through the channel. Taps run in
// registration order. The returned function removes the tap.
func (c *Channel) Tap(fn Handler) func() {
	c.tapMu.Lock()
	c.nextTp++
	id := c.nextTp
	c.taps = append(c.taps, tap{id: id, fn: fn})
	c.tapMu.Unlock()

	return func() {
		c.tapMu.Lock()
		defer c.tapMu.Unlock()
		for i, t := range c.taps {
			if t.id == id {
				c.taps = append(c.taps[:i:i], c.taps[i+1:]...)
				return
			}
		}
	}
}

// Pump reads raw engine output line by line until r is exhausted or ctx is
// done. Lines starting with ">" are engine prompts and are skipped; for the
// rest the first word is the event name and the remainder its argument.
func (c *Channel) Pump(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		c.Emit(ev)
	}
	return scanner.Err()
}

// ParseLine converts one raw output line into an event.
func ParseLine(line string) (Event, bool) {
	message := strings.TrimSpace(line)
	if message == "" || message[0] == '>' {
		return Event{}, false
	}
	name, rest, _ := strings.Cut(message, " ")
	return Event{Name: strings.TrimSpace(name), Args: []string{rest}}, true
}

func (c *Channel) handleConsole(ev Event) {
	switch cmd := Decode(ev.Arg(0)).(type) {
	case AjaxStartedCommand:
		derived := cmd.Event()
		derived.Source = ev.Source
		c.Emit(derived)
	case AjaxCompleteCommand:
		derived := cmd.Event()
		derived.Source = ev.Source
		c.Emit(derived)
	default:
		c.logger.Debug("browser console", zap.String("message", strings.Join(ev.Args, "")))
	}
}

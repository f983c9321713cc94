package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/events"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pagepilot/internal/shared/id"
)

// WebSecurityOff is appended to every engine launch.
const WebSecurityOff = "--web-security=no"

// Defaults applied by Options.normalize.
const (
	DefaultTTL         = 60 * time.Second
	DefaultTTLTick     = 500 * time.Millisecond
	DefaultAjaxTimeout = 60 * time.Second
)

// Options configures a Session. Zero values take the package defaults.
type Options struct {
	// ID identifies the session; a sess_ ULID is generated when empty.
	ID string
	// TTL is the idle time after which the session closes itself. A negative
	// TTL disables the monitor.
	TTL time.Duration
	// TTLTick is the idle check interval.
	TTLTick time.Duration
	// ScreenshotFolder is used when it exists, otherwise $PWD/screenshots.
	ScreenshotFolder string
	// EngineArgs are passed through to the engine launcher.
	EngineArgs []string
	// AjaxTimeout bounds the post-load wait for AJAX_COMPLETE.
	AjaxTimeout time.Duration
	// TraceResources also binds the resource and repaint events.
	TraceResources bool

	Logger         *logging.Logger
	DebugNamespace string
	Recorder       Recorder
}

func (o Options) normalize() Options {
	if o.ID == "" {
		o.ID = id.NewSessionID().String()
	}
	if o.TTL == 0 {
		o.TTL = DefaultTTL
	}
	if o.TTLTick <= 0 {
		o.TTLTick = DefaultTTLTick
	}
	if o.AjaxTimeout <= 0 {
		o.AjaxTimeout = DefaultAjaxTimeout
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	o.ScreenshotFolder = resolveScreenshotFolder(o.ScreenshotFolder)
	return o
}

// launchArgs returns the configured args with WebSecurityOff appended.
func (o Options) launchArgs() []string {
	args := make([]string, 0, len(o.EngineArgs)+1)
	args = append(args, o.EngineArgs...)
	return append(args, WebSecurityOff)
}

// DefaultScreenshotFolder returns $PWD/screenshots.
func DefaultScreenshotFolder() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, "screenshots")
}

func resolveScreenshotFolder(configured string) string {
	if configured != "" {
		if info, err := os.Stat(configured); err == nil && info.IsDir() {
			return configured
		}
	}
	return DefaultScreenshotFolder()
}

// Recorder receives session lifecycle measurements.
type Recorder interface {
	SessionStarted()
	SessionFailed()
	SessionClosed(reason string, lifetime time.Duration)
	Navigation()
	Settled(wait time.Duration, timedOut bool)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted()                     {}
func (nopRecorder) SessionFailed()                      {}
func (nopRecorder) SessionClosed(string, time.Duration) {}
func (nopRecorder) Navigation()                         {}
func (nopRecorder) Settled(time.Duration, bool)         {}

// Close reasons reported to the Recorder.
const (
	ReasonExplicit = "explicit"
	ReasonTTL      = "ttl"
	ReasonFailed   = "init_failed"
)

// Session drives one engine process and its pages.
type Session struct {
	id       string
	opts     Options
	log      *zap.Logger
	channel  *events.Channel
	tabs     *Tabs
	tracker  *tracker
	recorder Recorder
	created  time.Time

	// ctx lives until the session is closed; background work derives from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	eng      engine.Engine
	ready    bool
	closed   bool
	initErr  error
	pending  []func(error)
	onClose  []func(*Session)
	hooksRun bool
	initDone chan struct{}

	lastUse atomic.Int64

	ttlStop   chan struct{}
	ttlOnce   sync.Once
	closeOnce sync.Once
	closing   chan struct{}
	closeDone chan struct{}
	closeErr  error
}

// New creates a session and starts the engine in the background. Use Ready
// to wait for the engine and first page.
func New(launcher engine.Launcher, opts Options) *Session {
	opts = opts.normalize()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        opts.ID,
		opts:      opts,
		log:       opts.Logger.ForSession(opts.DebugNamespace, opts.ID),
		tabs:      &Tabs{},
		recorder:  opts.Recorder,
		created:   time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		initDone:  make(chan struct{}),
		ttlStop:   make(chan struct{}),
		closing:   make(chan struct{}),
		closeDone: make(chan struct{}),
	}
	s.touch()
	s.channel = events.NewChannel(s.log, opts.TraceResources)
	s.tracker = newTracker(s)
	s.channel.On(engine.EventPageCreated.String(), s.handlePageCreated)

	s.log.Debug("browser init")
	go s.start(launcher)
	if opts.TTL > 0 {
		go s.watchTTL()
	}
	return s
}

func (s *Session) start(launcher engine.Launcher) {
	defer close(s.initDone)

	eng, err := launcher.Launch(s.ctx, s.opts.launchArgs())
	if err != nil {
		s.fail(err)
		return
	}
	s.log.Debug("engine created")

	page, err := eng.CreatePage(s.ctx)
	if err != nil {
		_ = eng.Exit(context.Background())
		s.fail(err)
		return
	}
	s.log.Debug("page created", zap.String("page", page.ID()))

	s.tabs.setActive(page)
	s.channel.Attach(page)
	if st, ok := eng.(engine.Streamer); ok {
		go func() {
			if err := s.channel.Pump(s.ctx, st.Output()); err != nil && s.ctx.Err() == nil {
				s.log.Warn("engine output stream failed", zap.Error(err))
			}
		}()
	}

	s.mu.Lock()
	s.eng = eng
	s.ready = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.recorder.SessionStarted()
	s.log.Debug("browser ready", zap.Int("waiting", len(pending)))
	for _, fn := range pending {
		fn(nil)
	}
}

func (s *Session) fail(cause error) {
	err := &initError{cause: cause}

	s.mu.Lock()
	s.initErr = err
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.recorder.SessionFailed()
	s.log.Error("browser failed to start", zap.Error(cause))
	for _, fn := range pending {
		fn(err)
	}
}

type initError struct {
	cause error
}

func (e *initError) Error() string { return ErrInitFailed.Error() + ": " + e.cause.Error() }

func (e *initError) Is(target error) bool { return target == ErrInitFailed }

func (e *initError) Unwrap() error { return e.cause }

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Events exposes the session's event channel.
func (s *Session) Events() *events.Channel { return s.channel }

// Page returns the active page handle, or nil before the session is ready.
func (s *Session) Page() engine.PageHandle { return s.tabs.Active() }

// Tabs returns every tab opened by pages of this session.
func (s *Session) Tabs() []engine.PageHandle { return s.tabs.History() }

// ScreenshotFolder returns the resolved screenshot root.
func (s *Session) ScreenshotFolder() string { return s.opts.ScreenshotFolder }

// CreatedAt returns the construction time.
func (s *Session) CreatedAt() time.Time { return s.created }

// LastActivity returns the time of the last activity-touching call.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastUse.Load())
}

func (s *Session) touch() {
	s.lastUse.Store(time.Now().UnixNano())
}

func (s *Session) handlePageCreated(ev events.Event) {
	if ev.Page == nil {
		return
	}
	s.tabs.add(ev.Page)
	s.channel.Attach(ev.Page)
	s.log.Debug("new tab opened", zap.String("page", ev.Page.ID()))
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/pagepilot/internal/api/http"
	"github.com/GriffinCanCode/pagepilot/internal/api/middleware"
	"github.com/GriffinCanCode/pagepilot/internal/api/ws"
	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/engine/chrome"
	"github.com/GriffinCanCode/pagepilot/internal/engine/sandbox"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/config"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagepilot/internal/session"
)

// shutdownTimeout bounds draining requests and closing sessions on exit.
const shutdownTimeout = 30 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	manager *session.Manager
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Logging.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		lc.Level = cfg.Logging.Level
	}
	return logging.New(lc)
}

// NewLauncher returns the engine launcher selected by cfg.Browser.Engine.
func NewLauncher(cfg *config.Config, logger *zap.Logger) (engine.Launcher, error) {
	switch cfg.Browser.Engine {
	case config.EngineSandbox, "":
		return sandbox.NewLauncher(logger, sandbox.ClientOptions{}), nil
	case config.EngineChrome:
		return chrome.NewLauncher(logger, chrome.Options{
			Bin:        cfg.Browser.ChromeBin,
			ControlURL: cfg.Browser.ControlURL,
			Headful:    cfg.Browser.Headful,
		}), nil
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Browser.Engine)
}

// SessionDefaults maps the browser section of cfg onto session options.
func SessionDefaults(cfg *config.Config, logger *logging.Logger, recorder session.Recorder) session.Options {
	b := cfg.Browser
	return session.Options{
		TTL:              b.SessionTTL.Std(),
		AjaxTimeout:      b.AjaxTimeout.Std(),
		EngineArgs:       b.Args,
		ScreenshotFolder: b.ScreenshotFolder,
		TraceResources:   b.TraceResources,
		Logger:           logger,
		Recorder:         recorder,
	}
}

// NewServer creates a new server instance. A nil logger is built from cfg.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg); err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}

	logger.Info("Initializing pagepilot server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("engine", cfg.Browser.Engine),
	)

	metrics := monitoring.NewMetrics()

	launcher, err := NewLauncher(cfg, logger.Logger)
	if err != nil {
		return nil, err
	}
	manager := session.NewManager(launcher, SessionDefaults(cfg, logger, metrics))
	manager.SetLimit(cfg.Browser.MaxSessions)
	manager.OnCountChange(metrics.SetSessionsActive)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Named("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(manager, metrics, logger.Logger, apihttp.Options{Engine: cfg.Browser.Engine})
	handlers.Register(router)

	wsHandler := ws.NewHandler(manager, metrics, logger.Logger)
	router.GET("/sessions/:id/events", wsHandler.HandleEvents)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		manager: manager,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Manager returns the session registry.
func (s *Server) Manager() *session.Manager {
	return s.manager
}

// Run serves HTTP until ctx is cancelled, then drains requests and closes
// every session.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		_ = s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	return s.Close()
}

// Close gracefully shuts down every session
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.manager.CloseAll(ctx)
	if err != nil {
		s.logger.Error("Failed to close sessions", zap.Error(err))
	}

	_ = s.logger.Sync()
	return err
}

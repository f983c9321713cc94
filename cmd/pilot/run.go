package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/events"
	"github.com/GriffinCanCode/pagepilot/internal/server"
	"github.com/GriffinCanCode/pagepilot/internal/session"
)

type runFlags struct {
	screenshot string
	timeout    time.Duration
	events     bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run URL",
		Short: "Open a URL, wait for it to settle, take a screenshot and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, g, f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.screenshot, "screenshot", "s", "page.png", "Screenshot file name, empty to skip")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 2*time.Minute, "Overall time limit")
	cmd.Flags().BoolVarP(&f.events, "events", "e", false, "Print session events to stderr")
	return cmd
}

func runOnce(cmd *cobra.Command, g *globalFlags, f *runFlags, url string) error {
	cfg, err := g.load(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := server.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	launcher, err := server.NewLauncher(cfg, logger.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	opts := server.SessionDefaults(cfg, logger, nil)
	opts.TTL = -1
	s := session.New(launcher, opts)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.Close(closeCtx)
	}()

	stderr := &lockedWriter{w: cmd.ErrOrStderr()}
	if f.events {
		untap := s.Events().Tap(func(ev events.Event) {
			fmt.Fprintf(stderr, "event %s %s\n", ev.Name, strings.Join(ev.Args, " "))
		})
		defer untap()
	}

	if err := s.Ready(ctx); err != nil {
		return err
	}
	if err := s.BrowseTo(ctx, url); err != nil {
		return err
	}
	loaded, err := s.Loaded(ctx)
	if err != nil {
		return err
	}
	title, _ := s.Property(ctx, engine.PropTitle)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "url: %s\n", loaded)
	fmt.Fprintf(out, "title: %v\n", title)

	if f.screenshot == "" {
		return nil
	}
	path, err := s.Screenshot(ctx, f.screenshot)
	switch {
	case errors.Is(err, engine.ErrRenderUnsupported):
		fmt.Fprintf(stderr, "screenshot skipped: %s engine cannot render\n", cfg.Browser.Engine)
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "screenshot: %s\n", path)
	}
	return nil
}

// lockedWriter serializes writes from event taps and the command itself.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

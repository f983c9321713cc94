package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
)

// Ready blocks until the engine and first page are usable. It returns
// ErrAlreadyClosed once the session is closed and an ErrInitFailed error
// when the engine could not start. Waiters are released in arrival order.
func (s *Session) Ready(ctx context.Context) error {
	ch := make(chan error, 1)
	s.whenReady(func(err error) { ch <- err })

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// whenReady runs fn with the readiness outcome, immediately when it is
// already known and otherwise from the pending queue.
func (s *Session) whenReady(fn func(error)) {
	s.mu.Lock()
	var err error
	switch {
	case s.closed:
		err = ErrAlreadyClosed
	case s.initErr != nil:
		err = s.initErr
	case s.ready:
	default:
		s.pending = append(s.pending, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn(err)
}

// Err returns the engine start failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr
}

// Closed reports whether Close has started tearing the session down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the session has finished closing.
func (s *Session) Done() <-chan struct{} { return s.closeDone }

// OnClose registers fn to run when the session finished closing. If the
// session is already closed fn runs immediately.
func (s *Session) OnClose(fn func(*Session)) {
	s.mu.Lock()
	if s.hooksRun {
		s.mu.Unlock()
		fn(s)
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Close waits for the session to become ready, asks the engine to exit and
// returns once the exit was observed. A session that never became ready is
// closed without touching the engine. Calling Close again is a no-op that
// waits for the first call to finish.
func (s *Session) Close(ctx context.Context) error {
	s.beginClose(ReasonExplicit)

	select {
	case <-s.closeDone:
		return s.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) beginClose(reason string) {
	s.closeOnce.Do(func() {
		s.log.Debug("close called", zap.String("reason", reason))
		go s.shutdown(reason)
	})
}

func (s *Session) shutdown(reason string) {
	s.stopTTL()
	<-s.initDone

	s.mu.Lock()
	eng := s.eng
	if s.initErr != nil {
		reason = ReasonFailed
	}
	s.closed = true
	s.mu.Unlock()
	close(s.closing)

	if eng != nil {
		if err := eng.Exit(context.Background()); err != nil {
			s.log.Warn("engine exit failed", zap.Error(err))
			s.closeErr = err
		} else {
			<-eng.Done()
		}
	}
	s.cancel()

	s.recorder.SessionClosed(reason, time.Since(s.created))
	s.log.Debug("browser closed", zap.String("reason", reason))

	s.mu.Lock()
	hooks := s.onClose
	s.onClose = nil
	s.hooksRun = true
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(s)
	}
	close(s.closeDone)
}

func (s *Session) stopTTL() {
	s.ttlOnce.Do(func() { close(s.ttlStop) })
}

func (s *Session) watchTTL() {
	ticker := time.NewTicker(s.opts.TTLTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ttlStop:
			return
		case now := <-ticker.C:
			if s.tracker.busy() {
				continue
			}
			if now.Sub(s.LastActivity()) > s.opts.TTL {
				s.log.Debug("TTL expired", zap.Duration("ttl", s.opts.TTL))
				s.stopTTL()
				s.beginClose(ReasonTTL)
				return
			}
		}
	}
}

// activePage waits for readiness and returns the page actions target.
func (s *Session) activePage(ctx context.Context) (engine.PageHandle, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	return s.tabs.Active(), nil
}

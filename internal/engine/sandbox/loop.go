package sandbox

import (
	"context"
	"sync"
)

// loop owns a page's JavaScript state. goja runtimes are not safe for
// concurrent use, so evaluation, timers and XHR callbacks all run as jobs
// on this one goroutine.
type loop struct {
	jobs chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func newLoop() *loop {
	l := &loop{
		jobs: make(chan func(), 64),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.done)
	for {
		select {
		case job := <-l.jobs:
			job()
		case <-l.quit:
			return
		}
	}
}

// submit queues job. It reports false once the loop has stopped.
func (l *loop) submit(job func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.jobs <- job:
		return true
	case <-l.quit:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func call[T any](ctx context.Context, l *loop, fn func() (T, error)) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	out := make(chan result, 1)
	ok := l.submit(func() {
		v, err := fn()
		out <- result{v, err}
	})
	if !ok {
		return zero, errPageStopped
	}

	select {
	case r := <-out:
		return r.v, r.err
	case <-l.quit:
		return zero, errPageStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (l *loop) stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}

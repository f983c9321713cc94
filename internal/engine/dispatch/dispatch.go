// Package dispatch orders native page events for delivery to forwarders.
package dispatch

import (
	"context"
	"sync"
)

// Queue delivers a page's native events in order on its own goroutine.
// Posting never blocks, so the engine can emit events while a forwarder is
// busy calling back into the page.
type Queue struct {
	mu    sync.Mutex
	queue []func()

	gate chan struct{}
	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	releaseOnce sync.Once
	stopOnce    sync.Once
}

// New starts a queue that delivers right away.
func New() *Queue {
	q := NewHeld()
	q.Release()
	return q
}

// NewHeld starts a queue that buffers until Release.
func NewHeld() *Queue {
	q := &Queue{
		gate: make(chan struct{}),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Release starts delivery of a held queue.
func (q *Queue) Release() {
	q.releaseOnce.Do(func() { close(q.gate) })
}

// Post appends fn to the queue.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.queue = append(q.queue, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)

	select {
	case <-q.gate:
	case <-q.quit:
		q.drain()
		return
	}

	for {
		if q.drain() {
			continue
		}
		select {
		case <-q.wake:
		case <-q.quit:
			q.drain()
			return
		}
	}
}

func (q *Queue) drain() bool {
	q.mu.Lock()
	batch := q.queue
	q.queue = nil
	q.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch) > 0
}

// Flush returns once everything posted before it has been delivered.
func (q *Queue) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	q.Post(func() { close(reached) })

	select {
	case <-reached:
		return nil
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop delivers what is queued and ends the goroutine. It must not be
// called from a posted function.
func (q *Queue) Stop() {
	q.Release()
	q.stopOnce.Do(func() { close(q.quit) })
	<-q.done
}

// Done is closed once the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

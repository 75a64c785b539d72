// Package workpool provides a small bounded worker pool for blocking
// external work. Callers submit a function and wait for its result; the pool
// caps how many submissions run at once so one slow extraction cannot stall
// everything else.
package workpool

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Do after the pool has been closed.
var ErrClosed = errors.New("workpool: closed")

// Pool runs submitted functions on a fixed set of workers.
type Pool struct {
	tasks chan func()

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New starts a pool with the given number of workers. Sizes below one are
// clamped to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks:  make(chan func()),
		closed: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closed:
			return
		case fn := <-p.tasks:
			fn()
		}
	}
}

// Do submits fn and blocks until it finishes or ctx is done. When the context
// expires before a worker picks the task up, the task never runs.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	wrapped := func() { result <- fn() }

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrClosed
	case p.tasks <- wrapped:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Close stops the workers. Tasks already running finish; pending Do calls
// fail with ErrClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}

package server

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// workerPool runs async validations on a fixed number of goroutines fed by a
// bounded queue. Jobs never observe shutdown; Close waits for them.
type workerPool struct {
	jobs chan func(context.Context)
	g    *errgroup.Group
	ctx  context.Context

	mu     sync.RWMutex
	closed bool
}

func newWorkerPool(workers, queue int) *workerPool {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 256
	}
	g, ctx := errgroup.WithContext(context.Background())
	p := &workerPool{
		jobs: make(chan func(context.Context), queue),
		g:    g,
		ctx:  ctx,
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for job := range p.jobs {
				job(p.ctx)
			}
			return nil
		})
	}
	return p
}

// Submit enqueues job, reporting false when the queue is full or closed.
func (p *workerPool) Submit(job func(context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops intake and waits for queued jobs or ctx.
func (p *workerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

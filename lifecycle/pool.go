package lifecycle

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrPoolFull   = errors.New("worker pool queue is full")
)

type task func(ctx context.Context)

// workerPool runs tasks on a fixed number of goroutines fed from a bounded queue
type workerPool struct {
	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newWorkerPool(workers, queueSize int) *workerPool {
	ctx, cancel := context.WithCancel(context.Background())
	pool := &workerPool{
		tasks:  make(chan task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}
	return pool
}

func (pool *workerPool) worker() {
	defer pool.wg.Done()
	for t := range pool.tasks {
		t(pool.ctx)
	}
}

// trySubmit enqueues task without blocking
func (pool *workerPool) trySubmit(t task) error {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	if pool.closed {
		return ErrPoolClosed
	}
	select {
	case pool.tasks <- t:
		return nil
	default:
		return ErrPoolFull
	}
}

// close stops accepting tasks and waits for queued ones.
// When ctx expires first, context passed to running tasks is cancelled and ctx error is returned.
func (pool *workerPool) close(ctx context.Context) error {
	pool.mu.Lock()
	if pool.closed {
		pool.mu.Unlock()
		return nil
	}
	pool.closed = true
	close(pool.tasks)
	pool.mu.Unlock()

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		pool.cancel()
		return nil
	case <-ctx.Done():
		pool.cancel()
		return errors.Wrap(ctx.Err(), "Can't wait for background inference")
	}
}

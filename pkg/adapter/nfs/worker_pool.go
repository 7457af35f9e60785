package nfs

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/marmos91/nfsd/internal/logger"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPool runs request jobs on a fixed number of goroutines fed by a
// bounded queue. UDP uses TrySubmit and drops when the queue is full; TCP
// uses Submit, which applies back-pressure to the connection.
type WorkerPool struct {
	jobs    chan func()
	workers int

	mu      sync.RWMutex
	stopped bool
	quit    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		jobs:    make(chan func(), queueSize),
		workers: workers,
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. Calls after the first are no-ops.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(i)
		}
	})
}

func (p *WorkerPool) work(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *WorkerPool) run(id int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in NFS worker %d: %v\n%s", id, r, debug.Stack())
		}
	}()
	job()
}

// TrySubmit queues job without blocking and reports whether it was queued.
func (p *WorkerPool) TrySubmit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Submit queues job, blocking while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (p *WorkerPool) Pending() int {
	return len(p.jobs)
}

// Stop refuses new jobs, lets the workers finish what is queued and waits
// for them.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

// Package worker runs provisioning workflows on a supervised pool
// instead of fire-and-forget goroutines, so shutdown drains in-flight
// work and a panicking job cannot take the process down.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

var (
	ErrBusy      = errors.New("instance busy")
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

type job struct {
	instanceID snowflake.ID
	run        func(ctx context.Context)
}

// Pool executes one job per instance at a time on a fixed set of
// workers.
type Pool struct {
	log      *zap.Logger
	inflight *Inflight
	jobs     chan job
	workers  int

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewPool(workers, queueSize int, inflight *Inflight, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &Pool{
		log:      log.Named("worker.pool"),
		inflight: inflight,
		jobs:     make(chan job, queueSize),
		workers:  workers,
	}
}

func (p *Pool) Inflight() *Inflight { return p.inflight }

// Start launches the workers. Jobs run with a context that is
// cancelled on Stop.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.log.Info("worker pool started", zap.Int("workers", p.workers))
}

// Stop rejects new jobs and waits for queued and running jobs to
// finish. The passed context bounds the wait.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		<-done
	}
	return nil
}

// Submit enqueues a workflow for the instance. It acquires the
// in-flight slot before queuing; the slot is released when the job
// completes.
func (p *Pool) Submit(instanceID snowflake.ID, run func(ctx context.Context)) error {
	if !p.inflight.TryAcquire(instanceID) {
		return ErrBusy
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.inflight.Release(instanceID)
		return ErrStopped
	}
	select {
	case p.jobs <- job{instanceID: instanceID, run: run}:
		p.mu.Unlock()
		return nil
	default:
		p.mu.Unlock()
		p.inflight.Release(instanceID)
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.runOne(ctx, j)
	}
}

func (p *Pool) runOne(ctx context.Context, j job) {
	defer p.inflight.Release(j.instanceID)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("workflow panicked",
				zap.Int64("instance_id", int64(j.instanceID)),
				zap.Any("panic", r),
			)
		}
	}()
	j.run(ctx)
}

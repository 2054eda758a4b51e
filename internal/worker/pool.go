// Package worker provides the fixed-size slot pool that runs one round's
// task cycles in parallel, and the rate limiter shared by outbound
// evidence fetches.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of work bound to one pool slot. Slot is the 1-based
// worker slot executing the job.
type Job interface {
	Execute(ctx context.Context, slot int) Result
}

// Result is the outcome of one job.
type Result interface {
	GetError() error
}

// Pool is a fixed-size worker pool. Each slot is one goroutine; Submit
// queues jobs and Wait is the join barrier: it returns only after every
// submitted job has produced a result.
type Pool struct {
	slots      int
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// NewPool creates a pool with the given number of slots, bounded below
// by one. Cancelling ctx cancels every in-flight job.
func NewPool(ctx context.Context, slots int) *Pool {
	if slots <= 0 {
		slots = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		slots:      slots,
		jobQueue:   make(chan Job, slots*2),
		results:    make(chan Result, slots*2),
		ctx:        poolCtx,
		cancelFunc: cancel,
	}
}

// Start launches the slot goroutines.
func (p *Pool) Start() {
	for slot := 1; slot <= p.slots; slot++ {
		p.wg.Add(1)
		go p.run(slot)
	}
}

func (p *Pool) run(slot int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := job.Execute(p.ctx, slot)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job. Submitting after cancellation is a no-op.
func (p *Pool) Submit(job Job) {
	select {
	case <-p.ctx.Done():
	case p.jobQueue <- job:
	}
}

// Wait closes the queue and blocks until every slot has drained, then
// returns all results. This is the round's join barrier: no caller may
// aggregate before Wait returns.
func (p *Pool) Wait() []Result {
	close(p.jobQueue)

	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	var results []Result
	for result := range p.results {
		results = append(results, result)
	}
	return results
}

// Shutdown cancels in-flight jobs and releases the slots.
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}

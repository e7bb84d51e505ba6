// Package workerpool runs request-handler tasks off a bounded set of
// goroutines, the concurrency boundary named in the system design (§4.5):
// request handlers execute here, never on the reactor goroutine.
package workerpool

import (
	"sync"

	"go.uber.org/zap"
)

// Task is a unit of work submitted to the pool. It must not block waiting
// on another task; the match orchestrator is the one exception, which
// submits a duel's Phase 2-4 exchange back onto the pool as its own task
// rather than blocking the task that ran Phase 1, so duel concurrency
// still stays inside the pool's bound instead of escaping onto an
// unmanaged goroutine.
type Task func()

// Pool is a bounded set of goroutines draining a shared task queue.
type Pool struct {
	tasks chan Task
	log   *zap.SugaredLogger

	wg      sync.WaitGroup
	stopped chan struct{}
}

// New starts size worker goroutines reading off a queue of the given
// capacity.
func New(size, queueCapacity int, log *zap.SugaredLogger) *Pool {
	p := &Pool{
		tasks:   make(chan Task, queueCapacity),
		log:     log,
		stopped: make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.runSafely(task)
		case <-p.stopped:
			return
		}
	}
}

func (p *Pool) runSafely(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("worker task panicked", "panic", r)
		}
	}()
	task()
}

// Submit enqueues task for execution. It blocks if the queue is full,
// matching a bounded-elastic deployment's backpressure rather than
// dropping work.
func (p *Pool) Submit(task Task) {
	select {
	case p.tasks <- task:
	case <-p.stopped:
	}
}

// Stop signals every worker to exit after finishing its current task and
// waits for them to drain.
func (p *Pool) Stop() {
	close(p.stopped)
	p.wg.Wait()
}

// Package workerpool is a bounded goroutine pool with a fixed-size task
// queue. A pool of one worker doubles as an ordered asynchronous executor:
// the session uses it to issue portal injections off the drain loop while
// preserving submission order.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/wayrdp/wayrdp/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool.
type Task func()

// Pool runs submitted tasks on a fixed set of workers.
type Pool struct {
	queue     chan Task
	wg        sync.WaitGroup
	accepting atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}
	rejected  atomic.Uint64
}

// New creates a pool with workers goroutines and a task queue of queueSize.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		queue:    make(chan Task, queueSize),
		stopChan: make(chan struct{}),
	}
	p.accepting.Store(true)

	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task without blocking. Returns false if the pool is
// stopped or the queue is full. wg.Add happens before the enqueue attempt
// so Drain cannot race a task that is about to be queued.
func (p *Pool) Submit(task Task) bool {
	if !p.accepting.Load() {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		p.rejected.Add(1)
		return false
	}
}

// Rejected returns the number of tasks refused on overflow.
func (p *Pool) Rejected() uint64 {
	return p.rejected.Load()
}

// Drain stops accepting work and waits for queued and in-flight tasks,
// bounded by ctx. Workers exit once the queue is closed.
func (p *Pool) Drain(ctx context.Context) {
	p.accepting.Store(false)
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("Worker pool drain timed out")
	}

	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

// runTask executes one task with panic recovery; wg.Done pairs with the
// Add in Submit.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}

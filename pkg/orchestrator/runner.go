package orchestrator

import (
	"errors"
	"sync"
)

// ErrRunnerStopped is returned when a task is submitted after shutdown.
var ErrRunnerStopped = errors.New("runner is stopped")

// Runner is a fixed-size worker pool executing power-state and other
// background tasks off the request goroutine. Completion flows back to
// the order ledger from inside the task itself.
type Runner struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRunner starts a pool of workers.
func NewRunner(workers int) *Runner {
	if workers <= 0 {
		workers = 10
	}

	r := &Runner{
		tasks: make(chan func(), workers*4),
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for task := range r.tasks {
				task()
			}
		}()
	}

	return r
}

// Submit enqueues a task for execution. It blocks when the queue is
// full rather than dropping work. The read lock is held across the
// send so Shutdown cannot close the channel under a blocked sender.
func (r *Runner) Submit(task func()) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRunnerStopped
	}

	r.tasks <- task
	return nil
}

// Shutdown stops accepting tasks and waits for in-flight tasks to
// finish.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.tasks)
	r.mu.Unlock()

	r.wg.Wait()
}

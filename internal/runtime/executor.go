// Package runtime schedules strategy execution: a Runtime drives one strategy
// from its tick and notification triggers, and an Executor decides where that
// work runs. The serial executor runs work on the runtime's own loop
// goroutine; the pool executor fans work from many runtimes across a fixed
// set of workers.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var execLog = logrus.WithField("component", "executor")

// Task is one unit of strategy work.
type Task struct {
	Name string
	Do   func(ctx context.Context)
}

// Executor runs tasks on behalf of runtimes.
type Executor interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
	// Submit enqueues a task; false means the task was not accepted.
	Submit(task Task) bool
}

// Serial runs every task inline on the submitting goroutine. With it, a
// runtime's notify-then-run cadence executes entirely on the runtime loop.
type Serial struct{}

func (Serial) Start(ctx context.Context)      {}
func (Serial) Stop(ctx context.Context) error { return nil }

func (Serial) Submit(task Task) bool {
	if task.Do == nil {
		return false
	}
	// The runtime substitutes its loop context for nil.
	task.Do(nil)
	return true
}

// Pool executes tasks from a bounded queue on a fixed set of workers. Tasks
// from different runtimes run in parallel; per-strategy serialization is the
// runtime's job, not the pool's.
type Pool struct {
	workers int

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once
}

// NewPool creates a pool with the given queue capacity and worker count.
func NewPool(buffer, workers int) *Pool {
	if buffer <= 0 {
		buffer = 1024
	}
	if workers <= 0 {
		workers = 8
	}
	return &Pool{
		workers: workers,
		ch:      make(chan Task, buffer),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		p.mu.Lock()
		p.ctx, p.cancel = context.WithCancel(ctx)
		p.mu.Unlock()

		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				for {
					select {
					case <-p.ctx.Done():
						return
					case task := <-p.ch:
						if task.Do == nil {
							continue
						}
						func() {
							defer func() {
								if r := recover(); r != nil {
									execLog.Errorf("task panic: worker=%d name=%s panic=%v", workerID, task.Name, r)
								}
							}()
							task.Do(p.ctx)
						}()
					}
				}
			}(i)
		}

		execLog.Infof("pool started (workers=%d buffer=%d)", p.workers, cap(p.ch))
	})
}

// Stop cancels the workers and waits for them within ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		execLog.Info("pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool stop timed out: %w", ctx.Err())
	}
}

func (p *Pool) Submit(task Task) bool {
	select {
	case p.ch <- task:
		return true
	default:
		execLog.Warnf("pool queue full, dropping task: %s", task.Name)
		return false
	}
}

// QueueLen reports the backlog, for monitoring.
func (p *Pool) QueueLen() int {
	return len(p.ch)
}

// Package coio offloads blocking reads to background goroutines so the
// calling task only suspends at an explicit await point. Task objects are
// pooled; concurrency is bounded by a weighted semaphore.
package coio

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is one unit of offloaded work. Obtain with Pool.AllocTask, run with
// Pool.Run. If the caller abandons a task (context cancelled mid-read), the
// OnAbandon hook runs on the worker after Fn finishes, and the task returns
// itself to the pool.
type Task struct {
	// Fn is the work to run on a worker.
	Fn func() error

	// OnAbandon releases resources the caller pinned for the read. Called
	// only when the caller gave up before completion.
	OnAbandon func()

	pool *Pool
	done chan struct{}
	err  error
}

// Pool runs tasks with bounded concurrency.
type Pool struct {
	sem   *semaphore.Weighted
	tasks sync.Pool
}

// NewPool creates a pool allowing workers concurrent tasks.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{sem: semaphore.NewWeighted(int64(workers))}
	p.tasks.New = func() any {
		return &Task{pool: p, done: make(chan struct{}, 1)}
	}
	return p
}

// AllocTask takes a task object from the pool.
func (p *Pool) AllocTask() *Task {
	t := p.tasks.Get().(*Task)
	t.Fn = nil
	t.OnAbandon = nil
	t.err = nil
	return t
}

// FreeTask returns a task object to the pool.
func (p *Pool) FreeTask(t *Task) {
	t.Fn = nil
	t.OnAbandon = nil
	p.tasks.Put(t)
}

// Run submits the task and awaits completion. The cleanup contract mirrors
// the ownership transfer: when Run returns nil the caller still owns its
// pinned resources; on any error (submit failure, task failure, or caller
// cancellation) OnAbandon is invoked by the pool, on the worker side if the
// task is still in flight.
func (p *Pool) Run(ctx context.Context, t *Task) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		if t.OnAbandon != nil {
			t.OnAbandon()
		}
		p.FreeTask(t)
		return err
	}
	go func() {
		t.err = t.Fn()
		p.sem.Release(1)
		t.done <- struct{}{}
	}()

	select {
	case <-t.done:
		err := t.err
		if err != nil && t.OnAbandon != nil {
			t.OnAbandon()
		}
		p.FreeTask(t)
		return err
	case <-ctx.Done():
		// Lifetime transfers to the worker.
		go func() {
			<-t.done
			if t.OnAbandon != nil {
				t.OnAbandon()
			}
			p.FreeTask(t)
		}()
		return ctx.Err()
	}
}

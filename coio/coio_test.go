package coio

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

func TestRunCompletes(t *testing.T) {
	p := NewPool(2)
	t.Run("success", func(t *testing.T) {
		ran := false
		task := p.AllocTask()
		task.Fn = func() error { ran = true; return nil }
		if err := p.Run(context.Background(), task); err != nil {
			t.Fatalf("run: %v", err)
		}
		if !ran {
			t.Error("task did not run")
		}
	})
	t.Run("failure", func(t *testing.T) {
		boom := errors.New("boom")
		abandoned := false
		task := p.AllocTask()
		task.Fn = func() error { return boom }
		task.OnAbandon = func() { abandoned = true }
		if err := p.Run(context.Background(), task); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if !abandoned {
			t.Error("failed task must release the caller's pins")
		}
	})
}

func TestRunMany(t *testing.T) {
	p := NewPool(4)
	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := p.AllocTask()
			task.Fn = func() error { counter.Add(1); return nil }
			if err := p.Run(context.Background(), task); err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := counter.Load(); got != 64 {
		t.Errorf("expected 64 runs, got %d", got)
	}
}

// A caller that gives up mid-read transfers cleanup to the worker: the
// abandon hook must still run exactly once, after the work finishes.
func TestRunAbandonedOnCancel(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	abandoned := make(chan struct{})

	task := p.AllocTask()
	task.Fn = func() error {
		<-release
		return nil
	}
	task.OnAbandon = func() { close(abandoned) }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := p.Run(ctx, task); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	select {
	case <-abandoned:
		t.Fatal("abandon hook ran before the task finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-abandoned:
	case <-time.After(time.Second):
		t.Fatal("abandon hook never ran")
	}
}

func TestRunCancelledBeforeSubmit(t *testing.T) {
	p := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	abandoned := false
	task := p.AllocTask()
	task.Fn = func() error { t.Error("must not run"); return nil }
	task.OnAbandon = func() { abandoned = true }
	if err := p.Run(ctx, task); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !abandoned {
		t.Error("abandon hook must run when the task never starts")
	}
}

package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sinkRecorder struct {
	mu     sync.Mutex
	errors map[string][]error
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{errors: make(map[string][]error)}
}

func (r *sinkRecorder) sink(task string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[task] = append(r.errors[task], err)
}

func (r *sinkRecorder) count(task string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors[task])
}

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

func TestQueueRunsTasks(t *testing.T) {
	q := NewQueue(2, 16, discardLogger(), nil)
	defer q.Close(context.Background())

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		if !q.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}) {
			t.Fatalf("submit %d dropped", i)
		}
	}
	q.Wait()

	if n.Load() != 10 {
		t.Errorf("ran %d tasks, want 10", n.Load())
	}
}

func TestQueueReportsErrors(t *testing.T) {
	rec := newSinkRecorder()
	q := NewQueue(1, 4, discardLogger(), rec.sink)
	defer q.Close(context.Background())

	q.Submit("fails", func(context.Context) error { return errors.New("boom") })
	q.Submit("panics", func(context.Context) error { panic("oops") })
	q.Wait()

	if rec.count("fails") != 1 {
		t.Errorf("fails reported %d times, want 1", rec.count("fails"))
	}
	if rec.count("panics") != 1 {
		t.Errorf("panics reported %d times, want 1", rec.count("panics"))
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	rec := newSinkRecorder()
	q := NewQueue(1, 1, discardLogger(), rec.sink)

	release := make(chan struct{})
	started := make(chan struct{})
	q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if !q.Submit("buffered", func(context.Context) error { return nil }) {
		t.Fatal("second task should fit in the buffer")
	}
	if q.Submit("dropped", func(context.Context) error { return nil }) {
		t.Error("third task should be dropped")
	}
	close(release)
	q.Wait()

	errs := rec.errors["dropped"]
	if len(errs) != 1 || !errors.Is(errs[0], ErrQueueFull) {
		t.Errorf("dropped errors = %v, want [ErrQueueFull]", errs)
	}
	if err := q.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestQueueRejectsAfterClose(t *testing.T) {
	rec := newSinkRecorder()
	q := NewQueue(1, 1, discardLogger(), rec.sink)
	q.Close(context.Background())

	if q.Submit("late", func(context.Context) error { return nil }) {
		t.Error("submit after close should fail")
	}
	if rec.count("late") != 1 {
		t.Errorf("late reported %d times, want 1", rec.count("late"))
	}
	// Closing twice is a no-op.
	if err := q.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

func TestSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	s := NewScheduler(discardLogger(), nil)

	var n atomic.Int32
	first := make(chan struct{}, 1)
	s.Every("tick", 10*time.Millisecond, func(context.Context) error {
		if n.Add(1) == 1 {
			first <- struct{}{}
		}
		return nil
	})
	s.Start()

	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("job did not run at start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Shutdown()

	if n.Load() < 3 {
		t.Errorf("job ran %d times, want at least 3", n.Load())
	}
	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	if n.Load() != after {
		t.Error("job kept running after Shutdown")
	}
}

func TestSchedulerReportsErrors(t *testing.T) {
	rec := newSinkRecorder()
	s := NewScheduler(discardLogger(), rec.sink)

	done := make(chan struct{})
	var once sync.Once
	s.Every("broken", time.Hour, func(context.Context) error {
		once.Do(func() { close(done) })
		return errors.New("sweep failed")
	})
	s.Start()
	<-done
	s.Shutdown()

	if rec.count("broken") != 1 {
		t.Errorf("broken reported %d times, want 1", rec.count("broken"))
	}
}

func TestSchedulerSkipsDisabledJob(t *testing.T) {
	s := NewScheduler(discardLogger(), nil)
	s.Every("off", 0, func(context.Context) error {
		t.Error("disabled job ran")
		return nil
	})
	s.Start()
	s.Shutdown()

	if len(s.jobs) != 0 {
		t.Errorf("jobs = %d, want 0", len(s.jobs))
	}
}

package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shutdown(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestQueue_RunsJobs(t *testing.T) {
	q := NewQueue(testLogger(), 3, 10)
	q.Start(context.Background())

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		if !q.Enqueue("count", func(ctx context.Context) error {
			completed.Add(1)
			return nil
		}) {
			t.Fatalf("failed to enqueue job %d", i)
		}
	}
	shutdown(t, q)

	if completed.Load() != 5 {
		t.Fatalf("expected 5 completed jobs, got %d", completed.Load())
	}
	stats := q.Stats()
	if stats.Enqueued != 5 || stats.Succeeded != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestQueue_ErrorHandler(t *testing.T) {
	q := NewQueue(testLogger(), 2, 5)
	var failedName atomic.Value
	q.SetErrorHandler(func(name string, err error) {
		failedName.Store(name)
	})
	q.Start(context.Background())

	q.Enqueue("ok", func(ctx context.Context) error { return nil })
	q.Enqueue("send-otp", func(ctx context.Context) error { return errors.New("smtp down") })
	shutdown(t, q)

	stats := q.Stats()
	if stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if failedName.Load() != "send-otp" {
		t.Fatalf("expected error handler to receive job name, got %v", failedName.Load())
	}
}

func TestQueue_PanicRecovery(t *testing.T) {
	q := NewQueue(testLogger(), 1, 5)
	q.Start(context.Background())

	q.Enqueue("boom", func(ctx context.Context) error {
		panic("intentional panic")
	})
	var executed atomic.Bool
	q.Enqueue("after", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})
	shutdown(t, q)

	if q.Stats().Panics != 1 {
		t.Fatalf("expected 1 panic, got %d", q.Stats().Panics)
	}
	if !executed.Load() {
		t.Fatalf("worker should survive a panicking job")
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(testLogger(), 1, 1)
	q.Start(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	q.Enqueue("block", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	if !q.Enqueue("fill", func(ctx context.Context) error { return nil }) {
		t.Fatalf("expected buffer slot to accept job")
	}
	if q.Enqueue("overflow", func(ctx context.Context) error { return nil }) {
		t.Fatalf("expected enqueue to fail when queue is full")
	}

	close(block)
	shutdown(t, q)

	if q.Stats().Dropped != 1 {
		t.Fatalf("expected 1 dropped job, got %d", q.Stats().Dropped)
	}
}

func TestQueue_ShutdownDrainsAndRejects(t *testing.T) {
	q := NewQueue(testLogger(), 2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	var completed atomic.Int32
	for i := 0; i < 6; i++ {
		q.Enqueue("slow", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			completed.Add(1)
			return nil
		})
	}
	cancel()
	shutdown(t, q)

	if completed.Load() != 6 {
		t.Fatalf("expected queued jobs to finish after cancel, got %d", completed.Load())
	}
	if q.Enqueue("late", func(ctx context.Context) error { return nil }) {
		t.Fatalf("should not accept jobs after shutdown")
	}
}

func TestQueue_ShutdownTimeout(t *testing.T) {
	q := NewQueue(testLogger(), 1, 1)
	q.Start(context.Background())

	block := make(chan struct{})
	defer close(block)
	q.Enqueue("stuck", func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.Shutdown(ctx); err == nil {
		t.Fatalf("expected shutdown timeout")
	}
}

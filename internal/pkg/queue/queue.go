// Package queue 提供进程内的后台任务派发：验证码邮件、联系表单邮件与领域事件
// 都经由这里异步执行，HTTP 请求不等待 SMTP 或 Kafka。
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"civicvoice/internal/pkg/metrics"
)

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// ErrorHandler 任务失败回调，name 为入队时的任务名。
type ErrorHandler func(name string, err error)

type task struct {
	name string
	run  Job
}

// Queue 固定 worker 池 + 有界缓冲。队列满时直接丢弃，不阻塞调用方。
type Queue struct {
	logger       *slog.Logger
	workers      int
	jobs         chan task
	errorHandler ErrorHandler
	jobTimeout   time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool
	mu     sync.RWMutex

	stats queueStats
}

type queueStats struct {
	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 统计快照。
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Panics    int64 `json:"panics"`
	Pending   int   `json:"pending"`
}

// NewQueue 创建队列。workers、capacity 至少为 1。
func NewQueue(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		logger:     logger,
		workers:    workers,
		jobs:       make(chan task, capacity),
		jobTimeout: 30 * time.Second,
	}
}

// SetErrorHandler 设置失败回调。
func (q *Queue) SetErrorHandler(handler ErrorHandler) {
	q.errorHandler = handler
}

// SetJobTimeout 设置单个任务的执行超时，<= 0 表示不限制。
func (q *Queue) SetJobTimeout(d time.Duration) {
	q.jobTimeout = d
}

// Start 启动 worker。任务使用 ctx 派生的上下文执行；关闭时已入队的任务会被处理完。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for t := range q.jobs {
		metrics.DispatchQueueDepth.Set(float64(len(q.jobs)))
		q.execute(ctx, t, id)
	}
	q.logger.Debug("worker exit on closed channel", slog.Int("worker_id", id))
}

func (q *Queue) execute(ctx context.Context, t task, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			metrics.DispatchJobsTotal.WithLabelValues("panicked").Inc()
			q.logger.Error("job panic recovered",
				slog.String("job", t.name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	// 关闭阶段父 ctx 可能已取消，仍让剩余任务有机会完成。
	jobCtx := context.WithoutCancel(ctx)
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, q.jobTimeout)
		defer cancel()
	}

	if err := t.run(jobCtx); err != nil {
		q.stats.failed.Add(1)
		metrics.DispatchJobsTotal.WithLabelValues("failed").Inc()
		q.logger.Warn("job failed",
			slog.String("job", t.name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		if q.errorHandler != nil {
			q.errorHandler(t.name, err)
		}
		return
	}
	q.stats.succeeded.Add(1)
	metrics.DispatchJobsTotal.WithLabelValues("succeeded").Inc()
}

// Enqueue 非阻塞入队。队列已关闭或已满时返回 false。
func (q *Queue) Enqueue(name string, job Job) bool {
	if job == nil {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		q.logger.Warn("queue is closed, reject job", slog.String("job", name))
		return false
	}

	select {
	case q.jobs <- task{name: name, run: job}:
		q.stats.enqueued.Add(1)
		metrics.DispatchQueueDepth.Set(float64(len(q.jobs)))
		return true
	default:
		q.stats.dropped.Add(1)
		metrics.DispatchJobsTotal.WithLabelValues("dropped").Inc()
		q.logger.Warn("queue full, drop job",
			slog.String("job", name),
			slog.Int("capacity", cap(q.jobs)))
		return false
	}
}

// Shutdown 拒绝新任务并等待已入队任务完成，超出 ctx 期限时返回错误。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed.CompareAndSwap(false, true) {
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue shutdown completed")
		return nil
	case <-ctx.Done():
		q.logger.Error("queue shutdown timeout", slog.Int("pending", len(q.jobs)))
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
}

// Stats 返回统计快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.stats.enqueued.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Dropped:   q.stats.dropped.Load(),
		Panics:    q.stats.panics.Load(),
		Pending:   len(q.jobs),
	}
}

// Workers 返回 worker 数量。
func (q *Queue) Workers() int {
	return q.workers
}

// Package scheduler 运行周期性维护任务：清理长期未激活的账号。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"civicvoice/internal/pkg/metrics"

	"github.com/robfig/cron/v3"
)

// Purger 删除 before 之前创建且未激活的账号，由 store.UserStore 实现。
type Purger interface {
	PurgeUnverified(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler 基于 cron 表达式定期执行清理。
type Scheduler struct {
	purger  Purger
	logger  *slog.Logger
	ttl     time.Duration
	timeout time.Duration
	cron    *cron.Cron
	now     func() time.Time
}

// NewScheduler 创建调度器。spec 支持标准 5 段表达式与 "@every 1h" 等描述符。
//
// 参数:
//
//	purger: 账号存储
//	logger: 日志记录器
//	spec: cron 表达式
//	ttl: 未激活账号保留时长
func NewScheduler(purger Purger, logger *slog.Logger, spec string, ttl time.Duration) (*Scheduler, error) {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		purger:  purger,
		logger:  logger,
		ttl:     ttl,
		timeout: time.Minute,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid cleanup spec %q: %w", spec, err)
	}
	return s, nil
}

// Start 在后台启动 cron。
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("cleanup scheduler started", slog.String("unverified_ttl", s.ttl.String()))
}

// Stop 停止调度并等待正在执行的任务，最多等到 ctx 结束。
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("cleanup scheduler stop timeout")
	}
}

// RunOnce 立即执行一次清理，返回删除数量。
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl)
	n, err := s.purger.PurgeUnverified(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.UnverifiedPurgedTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("purged unverified accounts",
			slog.Int64("count", n),
			slog.Time("created_before", cutoff))
	}
	return n, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("purge unverified failed", slog.String("error", err.Error()))
	}
}

// Package store 定义用户与反馈的持久化接口，并提供 gorm 与 MongoDB 两种实现。
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"civicvoice/internal/config"
	"civicvoice/internal/model"
)

var (
	// ErrNotFound 记录不存在（或条件更新未命中）。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一约束（邮箱已存在）。
	ErrDuplicate = errors.New("duplicate record")
)

// UserStore 用户读写。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	// ActivateUser 仅当 id、otp 匹配且账号未激活时，将其标记为已验证并清空验证码。
	ActivateUser(ctx context.Context, id, otp string) error
	UpdateOTP(ctx context.Context, id, otp string, expiresAt, sentAt time.Time) error
	UpdateAvatar(ctx context.Context, id, avatar string) error
	SetAdmin(ctx context.Context, email string, isAdmin bool) error
	// PurgeUnverified 删除 before 之前创建且仍未激活的账号，返回删除数量。
	PurgeUnverified(ctx context.Context, before time.Time) (int64, error)
}

// FeedbackFilter 反馈列表查询条件。
type FeedbackFilter struct {
	Status  model.FeedbackStatus
	Service string
	Region  string
	Email   string
	Limit   int
	Offset  int
}

// FeedbackStats 仪表盘聚合结果。
type FeedbackStats struct {
	Total         int64                          `json:"total"`
	ByStatus      map[model.FeedbackStatus]int64 `json:"by_status"`
	AverageRating float64                        `json:"average_rating"`
}

// FeedbackStore 反馈读写。
type FeedbackStore interface {
	CreateFeedback(ctx context.Context, fb *model.Feedback) error
	ListFeedback(ctx context.Context, filter FeedbackFilter) ([]model.Feedback, int64, error)
	UpdateFeedbackStatus(ctx context.Context, id string, status model.FeedbackStatus) (*model.Feedback, error)
	// FeedbackStats 统计反馈；email 为空表示全局统计。
	FeedbackStats(ctx context.Context, email string) (*FeedbackStats, error)
}

// Store 组合全部存储能力。
type Store interface {
	UserStore
	FeedbackStore
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open 根据配置打开对应后端。
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case config.DriverMySQL:
		s, err = OpenMySQL(cfg.DSN)
	case config.DriverMongo:
		s, err = OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if logger != nil {
		logger.Info("store opened", slog.String("driver", cfg.Driver))
	}
	return s, nil
}

func newStats() *FeedbackStats {
	stats := &FeedbackStats{ByStatus: make(map[model.FeedbackStatus]int64, len(model.FeedbackStatuses))}
	for _, s := range model.FeedbackStatuses {
		stats.ByStatus[s] = 0
	}
	return stats
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

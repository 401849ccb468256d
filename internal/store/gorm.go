package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civicvoice/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// GormStore 基于 gorm 的关系型实现（生产 MySQL，测试 SQLite）。
type GormStore struct {
	db *gorm.DB
}

// OpenMySQL 连接 MySQL。
func OpenMySQL(dsn string) (*GormStore, error) {
	return OpenGorm(mysql.Open(dsn))
}

// OpenGorm 用任意 gorm 方言打开存储。
func OpenGorm(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStore 包装一个已有连接。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB 返回底层连接。
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate 自动迁移表结构。
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.User{}, &model.Feedback{})
}

func (s *GormStore) Ping(ctx context.Context) error {
	var one int
	return s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateUser(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) ActivateUser(ctx context.Context, id, otp string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND otp = ? AND is_verified = ?", id, otp, false).
		Updates(map[string]interface{}{
			"is_verified":    true,
			"otp":            "",
			"otp_expires_at": nil,
			"otp_sent_at":    nil,
		})
	if res.Error != nil {
		return fmt.Errorf("activate user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpdateOTP(ctx context.Context, id, otp string, expiresAt, sentAt time.Time) error {
	return s.updateUser(ctx, id, map[string]interface{}{
		"otp":            otp,
		"otp_expires_at": expiresAt,
		"otp_sent_at":    sentAt,
	})
}

func (s *GormStore) UpdateAvatar(ctx context.Context, id, avatar string) error {
	return s.updateUser(ctx, id, map[string]interface{}{"avatar": avatar})
}

func (s *GormStore) SetAdmin(ctx context.Context, email string, isAdmin bool) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Update("is_admin", isAdmin)
	if res.Error != nil {
		return fmt.Errorf("set admin: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.mustExist(ctx, &model.User{}, "email = ?", email)
	}
	return nil
}

func (s *GormStore) PurgeUnverified(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("is_verified = ? AND created_at < ?", false, before).
		Delete(&model.User{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge unverified: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) updateUser(ctx context.Context, id string, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.mustExist(ctx, &model.User{}, "id = ?", id)
	}
	return nil
}

// mustExist 区分“未命中”与“值未变化”：MySQL 对未改变的行返回 0 affected。
func (s *GormStore) mustExist(ctx context.Context, m interface{}, query string, args ...interface{}) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(m).Where(query, args...).Count(&count).Error; err != nil {
		return fmt.Errorf("check existence: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateFeedback(ctx context.Context, fb *model.Feedback) error {
	if err := s.db.WithContext(ctx).Create(fb).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (s *GormStore) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]model.Feedback, int64, error) {
	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&model.Feedback{})
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.Service != "" {
			q = q.Where("service = ?", filter.Service)
		}
		if filter.Region != "" {
			q = q.Where("region = ?", filter.Region)
		}
		if filter.Email != "" {
			q = q.Where("email = ?", filter.Email)
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count feedback: %w", err)
	}

	items := []model.Feedback{}
	if err := scoped().Order("created_at DESC").
		Limit(normalizeLimit(filter.Limit)).
		Offset(filter.Offset).
		Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("list feedback: %w", err)
	}
	return items, total, nil
}

func (s *GormStore) UpdateFeedbackStatus(ctx context.Context, id string, status model.FeedbackStatus) (*model.Feedback, error) {
	res := s.db.WithContext(ctx).Model(&model.Feedback{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("update feedback status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.mustExist(ctx, &model.Feedback{}, "id = ?", id); err != nil {
			return nil, err
		}
	}
	var fb model.Feedback
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&fb).Error; err != nil {
		return nil, translate(err)
	}
	return &fb, nil
}

type statusCount struct {
	Status model.FeedbackStatus
	Count  int64
}

func (s *GormStore) FeedbackStats(ctx context.Context, email string) (*FeedbackStats, error) {
	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&model.Feedback{})
		if email != "" {
			q = q.Where("email = ?", email)
		}
		return q
	}

	var rows []statusCount
	if err := scoped().Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	stats := newStats()
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}
	if stats.Total == 0 {
		return stats, nil
	}

	var avg struct{ Avg float64 }
	if err := scoped().Select("AVG(rating) AS avg").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("average rating: %w", err)
	}
	stats.AverageRating = avg.Avg
	return stats, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

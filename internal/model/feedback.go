package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FeedbackStatus 反馈处理状态。
type FeedbackStatus string

const (
	StatusPending     FeedbackStatus = "pending"
	StatusUnderReview FeedbackStatus = "under_review"
	StatusInProgress  FeedbackStatus = "in_progress"
	StatusResolved    FeedbackStatus = "resolved"
	StatusRejected    FeedbackStatus = "rejected"
)

// FeedbackStatuses 按处理流程排列的全部状态。
var FeedbackStatuses = []FeedbackStatus{
	StatusPending,
	StatusUnderReview,
	StatusInProgress,
	StatusResolved,
	StatusRejected,
}

// Valid 判断状态是否合法。
func (s FeedbackStatus) Valid() bool {
	for _, v := range FeedbackStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Priority 反馈优先级。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid 判断优先级是否合法。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Feedback 表示一条市民反馈。
//
// 提交时状态固定为 pending，之后只由管理员流程修改。
type Feedback struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" bson:"_id" json:"id"`
	UserID     *string        `gorm:"type:varchar(36);index" bson:"user_id,omitempty" json:"user_id,omitempty"` // 登录提交时关联的用户
	Name       string         `gorm:"type:varchar(100);not null" bson:"name" json:"name"`
	Email      string         `gorm:"type:varchar(191);index;not null" bson:"email" json:"email,omitempty"`
	Service    string         `gorm:"type:varchar(64);index;not null" bson:"service" json:"service"` // 服务领域（见 Services）
	Rating     int            `gorm:"not null" bson:"rating" json:"rating"`                          // 1-5
	Comment    string         `gorm:"type:text;not null" bson:"comment" json:"comment"`
	Status     FeedbackStatus `gorm:"type:varchar(20);index;default:pending" bson:"status" json:"status"`
	Region     string         `gorm:"type:varchar(64);index" bson:"region" json:"region"`
	Priority   Priority       `gorm:"type:varchar(16);default:medium" bson:"priority" json:"priority"`
	Attachment string         `gorm:"type:varchar(255)" bson:"attachment,omitempty" json:"attachment,omitempty"` // 附件相对路径
	CreatedAt  time.Time      `gorm:"index" bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at" json:"updated_at"`
}

// BeforeCreate 在插入前补全 ID 与默认状态。
func (f *Feedback) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = StatusPending
	}
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
	return nil
}

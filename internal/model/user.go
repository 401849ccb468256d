package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 表示平台注册用户。
//
// 同一结构同时用于 gorm（MySQL/SQLite）与 MongoDB 两种存储后端，
// ID 统一使用 UUID 字符串。
type User struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" bson:"_id" json:"id"`                 // 用户 ID
	Name         string     `gorm:"type:varchar(100);not null" bson:"name" json:"name"`               // 姓名
	Email        string     `gorm:"type:varchar(191);uniqueIndex;not null" bson:"email" json:"email"` // 邮箱（唯一，小写）
	Password     string     `gorm:"not null" bson:"password" json:"-"`                                // bcrypt 哈希
	IsAdmin      bool       `gorm:"default:false" bson:"is_admin" json:"is_admin"`                    // 是否管理员
	IsVerified   bool       `gorm:"default:false;index" bson:"is_verified" json:"is_verified"`        // 邮箱是否已验证
	OTP          string     `gorm:"column:otp;type:varchar(16)" bson:"otp,omitempty" json:"-"`        // 邮箱验证码
	OTPExpiresAt *time.Time `gorm:"column:otp_expires_at" bson:"otp_expires_at,omitempty" json:"-"`   // 验证码过期时间
	OTPSentAt    *time.Time `gorm:"column:otp_sent_at" bson:"otp_sent_at,omitempty" json:"-"`         // 验证码发送时间
	Avatar       string     `gorm:"type:varchar(255)" bson:"avatar,omitempty" json:"avatar"`          // 头像相对路径
	CreatedAt    time.Time  `gorm:"index" bson:"created_at" json:"created_at"`                        // 创建时间
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`                                     // 更新时间
}

// BeforeCreate 在插入前补全 ID。
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// OTPExpired 判断当前验证码是否已过期（没有过期时间视为过期）。
func (u *User) OTPExpired(now time.Time) bool {
	return u.OTPExpiresAt == nil || now.After(*u.OTPExpiresAt)
}

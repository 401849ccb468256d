// Package notify 负责对外发送邮件：注册验证码与联系表单转发。
package notify

import (
	"context"
)

// ContactMessage 联系表单内容。
type ContactMessage struct {
	Name    string
	Email   string
	Subject string
	Message string
}

// Mailer 邮件发送接口，由 HTTP 层通过后台队列调用。
type Mailer interface {
	// SendOTP 向用户发送 6 位验证码。
	SendOTP(ctx context.Context, toEmail, name, code string) error
	// SendContact 将联系表单转发到客服邮箱。
	SendContact(ctx context.Context, msg ContactMessage) error
}

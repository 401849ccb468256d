package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"civicvoice/internal/config"
	"civicvoice/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

// ErrEmailConfigMissing SMTP 未配置。
var ErrEmailConfigMissing = errors.New("email config missing")

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 基于 SMTP 的 Mailer 实现。
type EmailNotifier struct {
	cfg    config.EmailConfig
	otpTTL time.Duration
	logger *slog.Logger
	sender sender
}

// NewEmailNotifier 创建邮件发送器。otpTTL 仅用于邮件正文中的有效期提示。
func NewEmailNotifier(cfg config.EmailConfig, otpTTL time.Duration, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{
		cfg:    cfg,
		otpTTL: otpTTL,
		logger: logger,
		sender: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
	}
}

func (n *EmailNotifier) configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.FromEmail != ""
}

// SendOTP 发送邮箱验证码。
func (n *EmailNotifier) SendOTP(ctx context.Context, toEmail, name, code string) error {
	if !n.configured() {
		metrics.EmailsTotal.WithLabelValues("otp", "skipped").Inc()
		return ErrEmailConfigMissing
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := n.buildOTPMessage(toEmail, name, code)
	if err := n.sender.DialAndSend(m); err != nil {
		metrics.EmailsTotal.WithLabelValues("otp", "failed").Inc()
		return fmt.Errorf("send email: %w", err)
	}
	metrics.EmailsTotal.WithLabelValues("otp", "sent").Inc()
	n.logger.Info("verification email sent", slog.String("to", toEmail))
	return nil
}

// SendContact 转发联系表单到 SupportEmail，Reply-To 设为提交者。
func (n *EmailNotifier) SendContact(ctx context.Context, msg ContactMessage) error {
	if !n.configured() || n.cfg.SupportEmail == "" {
		metrics.EmailsTotal.WithLabelValues("contact", "skipped").Inc()
		return ErrEmailConfigMissing
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := n.buildContactMessage(msg)
	if err := n.sender.DialAndSend(m); err != nil {
		metrics.EmailsTotal.WithLabelValues("contact", "failed").Inc()
		return fmt.Errorf("send email: %w", err)
	}
	metrics.EmailsTotal.WithLabelValues("contact", "sent").Inc()
	n.logger.Info("contact email forwarded", slog.String("from", msg.Email))
	return nil
}

func (n *EmailNotifier) buildOTPMessage(toEmail, name, code string) *gomail.Message {
	minutes := int(n.otpTTL.Minutes())
	if minutes <= 0 {
		minutes = 10
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[CivicVoice] Verify your email")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Welcome to CivicVoice, %s</h2>
    <p>Your verification code is:</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>The code expires in %d minutes.</p>
  </div>
</body>
</html>`, html.EscapeString(name), code, minutes)
	m.SetBody("text/html", body)
	m.AddAlternative("text/plain", fmt.Sprintf("Your CivicVoice verification code is %s (valid for %d minutes).", code, minutes))
	return m
}

func (n *EmailNotifier) buildContactMessage(msg ContactMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.SupportEmail)
	m.SetAddressHeader("Reply-To", msg.Email, msg.Name)
	m.SetHeader("Subject", "[CivicVoice contact] "+msg.Subject)
	m.SetBody("text/plain", fmt.Sprintf("From: %s <%s>\n\n%s\n", msg.Name, msg.Email, msg.Message))
	return m
}

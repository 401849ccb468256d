package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"civicvoice/internal/api/validate"
	"civicvoice/internal/model"
	"civicvoice/internal/store"

	"golang.org/x/crypto/bcrypt"
)

// SeedAdmin 确保配置中的管理员账号存在、已激活并具有管理员权限。
// 未配置 AdminEmail 时什么也不做；账号已存在时不修改密码。
func SeedAdmin(ctx context.Context, users store.UserStore, email, password string, logger *slog.Logger) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	existing, err := users.FindUserByEmail(ctx, email)
	if err == nil {
		if existing.IsAdmin {
			return nil
		}
		if err := users.SetAdmin(ctx, email, true); err != nil {
			return fmt.Errorf("promote admin: %w", err)
		}
		logger.Info("existing account promoted to admin", slog.String("email", email))
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("query admin: %w", err)
	}
	if password == "" {
		return fmt.Errorf("admin password is required to create %s", email)
	}
	if !validate.FitsBcrypt(password) {
		return fmt.Errorf("admin password must be at most %d bytes", validate.MaxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin := &model.User{
		Name:       "Administrator",
		Email:      email,
		Password:   string(hash),
		IsAdmin:    true,
		IsVerified: true,
	}
	if err := users.CreateUser(ctx, admin); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return users.SetAdmin(ctx, email, true)
		}
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Info("admin account created", slog.String("email", email))
	return nil
}

// EnsureAdmin 按配置中的 admin_email / admin_password 初始化管理员。
func (s *Server) EnsureAdmin(ctx context.Context) error {
	return SeedAdmin(ctx, s.store, s.cfg.Security.AdminEmail, s.cfg.Security.AdminPassword, s.logger)
}

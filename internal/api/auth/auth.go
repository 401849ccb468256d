// Package auth 提供注册、邮箱验证、登录与会话相关接口。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"civicvoice/internal/api/middleware"
	"civicvoice/internal/api/validate"
	"civicvoice/internal/model"
	"civicvoice/internal/pkg/events"
	"civicvoice/internal/pkg/metrics"
	"civicvoice/internal/pkg/notify"
	"civicvoice/internal/pkg/queue"
	"civicvoice/internal/pkg/token"
	"civicvoice/internal/pkg/upload"
	"civicvoice/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	msgInvalidOTP         = "invalid email or otp"
	msgInvalidCredentials = "invalid email or password"
	msgOTPSent            = "if the account exists and is not activated, a new code has been sent"
)

// Dispatcher 后台任务派发，由 queue.Queue 实现。
type Dispatcher interface {
	Enqueue(name string, job queue.Job) bool
}

// Revoker 注销令牌，由 session.Blocklist 实现。
type Revoker interface {
	Revoke(ctx context.Context, jti string, exp time.Time) error
}

// FileStore 头像存储，由 upload.Store 实现。
type FileStore interface {
	SaveFile(fh *multipart.FileHeader, subdir string, allowed []string) (string, error)
	Remove(rel string) error
}

// Options Handler 依赖。Events 为空时不投递事件。
type Options struct {
	Store          store.UserStore
	Tokens         *token.Manager
	Mailer         notify.Mailer
	Dispatcher     Dispatcher
	Events         events.Publisher
	Revoker        Revoker
	Files          FileStore
	OTPTTL         time.Duration
	ResendInterval time.Duration
	Logger         *slog.Logger
}

// Handler 认证接口。
type Handler struct {
	store          store.UserStore
	tokens         *token.Manager
	mailer         notify.Mailer
	dispatcher     Dispatcher
	events         events.Publisher
	revoker        Revoker
	files          FileStore
	otpTTL         time.Duration
	resendInterval time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewHandler 创建 Auth Handler。
func NewHandler(opts Options) *Handler {
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 10 * time.Minute
	}
	if opts.ResendInterval <= 0 {
		opts.ResendInterval = time.Minute
	}
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	return &Handler{
		store:          opts.Store,
		tokens:         opts.Tokens,
		mailer:         opts.Mailer,
		dispatcher:     opts.Dispatcher,
		events:         opts.Events,
		revoker:        opts.Revoker,
		files:          opts.Files,
		otpTTL:         opts.OTPTTL,
		resendInterval: opts.ResendInterval,
		logger:         opts.Logger,
		now:            time.Now,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,pwbytes,strongpw"`
}

type activateRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,otp"`
}

type signinRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// SessionResponse 激活与登录成功的响应体。
type SessionResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Register 创建未激活账号并发送验证码。不返回令牌。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validate.Respond(c, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if len([]rune(name)) < 2 {
		validate.Fail(c, "name", "must be at least 2 characters")
		return
	}
	email := normalizeEmail(req.Email)
	ctx := c.Request.Context()

	_, err := h.store.FindUserByEmail(ctx, email)
	if err == nil {
		h.conflict(c, email)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.internalError(c, "query user failed", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internalError(c, "hash password failed", err)
		return
	}
	code, err := generateCode()
	if err != nil {
		h.internalError(c, "generate code failed", err)
		return
	}
	now := h.now().UTC()
	exp := now.Add(h.otpTTL)

	user := &model.User{
		Name:         name,
		Email:        email,
		Password:     string(hash),
		OTP:          code,
		OTPExpiresAt: &exp,
		OTPSentAt:    &now,
	}
	if err := h.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			h.conflict(c, email)
			return
		}
		h.internalError(c, "create user failed", err)
		return
	}

	h.sendOTP(user.Email, user.Name, code)
	h.publish(events.Event{
		Type: events.UserRegistered,
		Key:  user.ID,
		Data: gin.H{"id": user.ID, "email": user.Email},
	})
	metrics.AuthEventsTotal.WithLabelValues("register", "ok").Inc()
	if h.logger != nil {
		h.logger.Info("user registered", slog.String("email", email))
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "registration successful, check your email for the verification code",
		"name":    user.Name,
		"email":   user.Email,
	})
}

// Activate 校验验证码并激活账号，成功后签发令牌。
//
// 未知邮箱、错误或过期的验证码、已激活账号都返回同一个 401。
func (h *Handler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validate.Respond(c, err)
		return
	}
	email := normalizeEmail(req.Email)
	ctx := c.Request.Context()

	user, err := h.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.rejectOTP(c, email, "unknown email")
			return
		}
		h.internalError(c, "query user failed", err)
		return
	}
	if user.IsVerified || user.OTP == "" {
		h.rejectOTP(c, email, "not pending activation")
		return
	}
	if subtle.ConstantTimeCompare([]byte(user.OTP), []byte(req.OTP)) != 1 {
		h.rejectOTP(c, email, "otp mismatch")
		return
	}
	if user.OTPExpired(h.now()) {
		h.rejectOTP(c, email, "otp expired")
		return
	}

	if err := h.store.ActivateUser(ctx, user.ID, req.OTP); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// 并发激活中的失败方。
			h.rejectOTP(c, email, "lost activation race")
			return
		}
		h.internalError(c, "activate user failed", err)
		return
	}
	user.IsVerified = true
	user.OTP = ""
	user.OTPExpiresAt = nil
	user.OTPSentAt = nil

	h.publish(events.Event{
		Type: events.UserActivated,
		Key:  user.ID,
		Data: gin.H{"id": user.ID, "email": user.Email},
	})
	metrics.AuthEventsTotal.WithLabelValues("activate", "ok").Inc()
	if h.logger != nil {
		h.logger.Info("account activated", slog.String("email", email))
	}
	h.respondSession(c, user)
}

// Signin 校验密码并签发令牌。密码正确但未激活时返回 403。
func (h *Handler) Signin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validate.Respond(c, err)
		return
	}
	email := normalizeEmail(req.Email)

	user, err := h.store.FindUserByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.rejectCredentials(c)
			return
		}
		h.internalError(c, "query user failed", err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		h.rejectCredentials(c)
		return
	}
	if !user.IsVerified {
		metrics.AuthEventsTotal.WithLabelValues("signin", "not_activated").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "account not activated"})
		return
	}

	metrics.AuthEventsTotal.WithLabelValues("signin", "ok").Inc()
	if h.logger != nil {
		h.logger.Info("user signed in", slog.String("email", email), slog.Bool("admin", user.IsAdmin))
	}
	h.respondSession(c, user)
}

// ResendOTP 重新发送验证码。不存在或已激活的邮箱得到相同的 200。
func (h *Handler) ResendOTP(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validate.Respond(c, err)
		return
	}
	email := normalizeEmail(req.Email)
	ctx := c.Request.Context()

	user, err := h.store.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.internalError(c, "query user failed", err)
		return
	}
	if err != nil || user.IsVerified {
		c.JSON(http.StatusOK, gin.H{"message": msgOTPSent})
		return
	}

	now := h.now().UTC()
	if user.OTPSentAt != nil {
		if elapsed := now.Sub(*user.OTPSentAt); elapsed < h.resendInterval {
			metrics.AuthEventsTotal.WithLabelValues("resend", "too_early").Inc()
			middleware.TooManyRequests(c, h.resendInterval-elapsed)
			return
		}
	}

	code, err := generateCode()
	if err != nil {
		h.internalError(c, "generate code failed", err)
		return
	}
	if err := h.store.UpdateOTP(ctx, user.ID, code, now.Add(h.otpTTL), now); err != nil {
		h.internalError(c, "save verification code failed", err)
		return
	}
	h.sendOTP(user.Email, user.Name, code)

	metrics.AuthEventsTotal.WithLabelValues("resend", "ok").Inc()
	if h.logger != nil {
		h.logger.Info("verification code resent", slog.String("email", email))
	}
	c.JSON(http.StatusOK, gin.H{"message": msgOTPSent})
}

// Me 返回当前用户资料。
func (h *Handler) Me(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.ErrUnauthorized})
		return
	}
	user, err := h.store.FindUserByID(c.Request.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, "query user failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout 将当前令牌加入黑名单直到其过期。始终返回 200。
func (h *Handler) Logout(c *gin.Context) {
	if claims, ok := middleware.ClaimsFrom(c); ok && h.revoker != nil && claims.ExpiresAt != nil {
		if err := h.revoker.Revoke(c.Request.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			if h.logger != nil {
				h.logger.Warn("revoke token failed", slog.String("error", err.Error()))
			}
		} else {
			metrics.AuthEventsTotal.WithLabelValues("logout", "ok").Inc()
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Avatar 上传头像并返回携带新头像的令牌。
func (h *Handler) Avatar(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.ErrUnauthorized})
		return
	}
	if h.files == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads disabled"})
		return
	}
	fh, err := c.FormFile("avatar")
	if err != nil {
		validate.Fail(c, "avatar", "is required")
		return
	}
	rel, err := h.files.SaveFile(fh, "avatars", upload.ImageTypes)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrTooLarge):
			validate.Fail(c, "avatar", "file is too large")
		case errors.Is(err, upload.ErrUnsupportedType):
			validate.Fail(c, "avatar", "must be a png, jpeg, gif or webp image")
		default:
			h.internalError(c, "save avatar failed", err)
		}
		return
	}

	ctx := c.Request.Context()
	user, err := h.store.FindUserByID(ctx, claims.Subject)
	if err != nil {
		_ = h.files.Remove(rel)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, "query user failed", err)
		return
	}
	if err := h.store.UpdateAvatar(ctx, user.ID, rel); err != nil {
		_ = h.files.Remove(rel)
		h.internalError(c, "update avatar failed", err)
		return
	}
	if old := user.Avatar; old != "" && old != rel {
		if err := h.files.Remove(old); err != nil && h.logger != nil {
			h.logger.Warn("remove old avatar failed", slog.String("path", old), slog.String("error", err.Error()))
		}
	}
	user.Avatar = rel

	signed, _, err := h.tokens.Issue(user)
	if err != nil {
		h.internalError(c, "sign token failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"avatar": rel, "token": signed})
}

func (h *Handler) respondSession(c *gin.Context, user *model.User) {
	signed, _, err := h.tokens.Issue(user)
	if err != nil {
		h.internalError(c, "sign token failed", err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Token: signed, User: user})
}

func (h *Handler) sendOTP(email, name, code string) {
	if h.mailer == nil || h.dispatcher == nil {
		return
	}
	ok := h.dispatcher.Enqueue("send-otp", func(ctx context.Context) error {
		return h.mailer.SendOTP(ctx, email, name, code)
	})
	if !ok && h.logger != nil {
		h.logger.Warn("verification email not queued", slog.String("email", email))
	}
}

func (h *Handler) publish(evt events.Event) {
	if h.dispatcher == nil {
		return
	}
	evt.OccurredAt = h.now().UTC()
	h.dispatcher.Enqueue("publish-"+evt.Type, func(ctx context.Context) error {
		return h.events.Publish(ctx, evt)
	})
}

func (h *Handler) conflict(c *gin.Context, email string) {
	metrics.AuthEventsTotal.WithLabelValues("register", "conflict").Inc()
	if h.logger != nil {
		h.logger.Info("registration rejected, email exists", slog.String("email", email))
	}
	c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
}

func (h *Handler) rejectOTP(c *gin.Context, email, reason string) {
	metrics.AuthEventsTotal.WithLabelValues("activate", "rejected").Inc()
	if h.logger != nil {
		h.logger.Info("activation rejected", slog.String("email", email), slog.String("reason", reason))
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidOTP})
}

func (h *Handler) rejectCredentials(c *gin.Context) {
	metrics.AuthEventsTotal.WithLabelValues("signin", "rejected").Inc()
	c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials})
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, slog.String("error", err.Error()))
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateCode 生成 6 位数字验证码。
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

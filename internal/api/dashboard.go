package api

import (
	"context"
	"net/http"
	"strings"

	"civicvoice/internal/api/middleware"
	"civicvoice/internal/api/validate"
	"civicvoice/internal/model"
	"civicvoice/internal/pkg/notify"
	"civicvoice/internal/store"

	"github.com/gin-gonic/gin"
)

const recentFeedbackLimit = 10

type contactRequest struct {
	Name    string `json:"name" binding:"required,min=2,max=50"`
	Email   string `json:"email" binding:"required,email"`
	Subject string `json:"subject" binding:"required,min=3,max=120"`
	Message string `json:"message" binding:"required,min=10,max=2000"`
}

// Dashboard 仪表盘响应。
type Dashboard struct {
	Scope  string               `json:"scope"` // mine / all
	Stats  *store.FeedbackStats `json:"stats"`
	Recent []model.Feedback     `json:"recent"`
}

func (s *Server) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": model.Services})
}

// handleDashboard 普通用户只统计自己邮箱提交的反馈，管理员统计全部。
func (s *Server) handleDashboard(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.ErrUnauthorized})
		return
	}
	ctx := c.Request.Context()

	scope, email := "mine", claims.Email
	if claims.IsAdmin {
		scope, email = "all", ""
	}
	stats, err := s.store.FeedbackStats(ctx, email)
	if err != nil {
		s.internalError(c, "feedback stats failed", err)
		return
	}
	recent, _, err := s.store.ListFeedback(ctx, store.FeedbackFilter{Email: claims.Email, Limit: recentFeedbackLimit})
	if err != nil {
		s.internalError(c, "recent feedback failed", err)
		return
	}
	c.JSON(http.StatusOK, Dashboard{Scope: scope, Stats: stats, Recent: recent})
}

func (s *Server) handleContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validate.Respond(c, err)
		return
	}
	msg := notify.ContactMessage{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.ToLower(strings.TrimSpace(req.Email)),
		Subject: strings.TrimSpace(req.Subject),
		Message: strings.TrimSpace(req.Message),
	}
	if s.mailer != nil {
		s.dispatch("send-contact", func(ctx context.Context) error {
			return s.mailer.SendContact(ctx, msg)
		})
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "thank you, your message has been received"})
}

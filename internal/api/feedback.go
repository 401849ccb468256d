package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"civicvoice/internal/api/middleware"
	"civicvoice/internal/api/validate"
	"civicvoice/internal/model"
	"civicvoice/internal/pkg/events"
	"civicvoice/internal/pkg/metrics"
	"civicvoice/internal/pkg/upload"
	"civicvoice/internal/store"

	"github.com/gin-gonic/gin"
)

// feedbackRequest 同时支持 JSON 与 multipart 表单。
type feedbackRequest struct {
	Name     string `json:"name" form:"name" binding:"required,min=2,max=50"`
	Email    string `json:"email" form:"email" binding:"required,email"`
	Service  string `json:"service" form:"service" binding:"required,service"`
	Rating   int    `json:"rating" form:"rating" binding:"required,min=1,max=5"`
	Comment  string `json:"comment" form:"comment" binding:"required,min=10,max=1000"`
	Region   string `json:"region" form:"region" binding:"required,min=2,max=60"`
	Priority string `json:"priority" form:"priority" binding:"omitempty,priority"`
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required,status"`
}

// FeedbackPage 反馈分页结果。
type FeedbackPage struct {
	Items []model.Feedback `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBind(&req); err != nil {
		validate.Respond(c, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Comment = strings.TrimSpace(req.Comment)
	req.Region = strings.TrimSpace(req.Region)
	if len([]rune(req.Name)) < 2 {
		validate.Fail(c, "name", "must be at least 2 characters")
		return
	}
	if len([]rune(req.Comment)) < 10 {
		validate.Fail(c, "comment", "must be at least 10 characters")
		return
	}
	if len([]rune(req.Region)) < 2 {
		validate.Fail(c, "region", "must be at least 2 characters")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	ctx := c.Request.Context()

	fingerprint := []string{email, req.Service, req.Comment}
	if s.deduper != nil {
		seen, err := s.deduper.Seen(ctx, fingerprint...)
		if err != nil {
			s.logger.Warn("feedback dedup check failed", slog.String("error", err.Error()))
		} else if seen {
			metrics.FeedbackDuplicateTotal.Inc()
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate feedback"})
			return
		}
	}

	attachment, ok := s.saveAttachment(c)
	if !ok {
		s.forget(ctx, fingerprint)
		return
	}

	fb := &model.Feedback{
		Name:       req.Name,
		Email:      email,
		Service:    req.Service,
		Rating:     req.Rating,
		Comment:    req.Comment,
		Region:     req.Region,
		Priority:   model.Priority(req.Priority),
		Status:     model.StatusPending,
		Attachment: attachment,
	}
	if claims, ok := middleware.ClaimsFrom(c); ok {
		uid := claims.Subject
		fb.UserID = &uid
	}
	if err := s.store.CreateFeedback(ctx, fb); err != nil {
		s.forget(ctx, fingerprint)
		if attachment != "" && s.files != nil {
			_ = s.files.Remove(attachment)
		}
		s.internalError(c, "create feedback failed", err)
		return
	}

	metrics.FeedbackSubmittedTotal.WithLabelValues(fb.Service).Inc()
	s.publish(events.Event{
		Type: events.FeedbackSubmitted,
		Key:  fb.ID,
		Data: gin.H{"id": fb.ID, "service": fb.Service, "rating": fb.Rating, "region": fb.Region, "priority": fb.Priority},
	})
	s.logger.Info("feedback submitted",
		slog.String("id", fb.ID),
		slog.String("service", fb.Service),
		slog.Int("rating", fb.Rating))
	c.JSON(http.StatusCreated, gin.H{"id": fb.ID, "status": fb.Status})
}

// saveAttachment 保存可选附件。返回 false 表示已写出错误响应。
func (s *Server) saveAttachment(c *gin.Context) (string, bool) {
	if c.ContentType() != "multipart/form-data" {
		return "", true
	}
	fh, err := c.FormFile("attachment")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", true
		}
		validate.Fail(c, "attachment", "could not be read")
		return "", false
	}
	if s.files == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads disabled"})
		return "", false
	}
	rel, err := s.files.SaveFile(fh, "attachments", upload.AttachmentTypes)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrTooLarge):
			validate.Fail(c, "attachment", "file is too large")
		case errors.Is(err, upload.ErrUnsupportedType):
			validate.Fail(c, "attachment", "must be an image or a pdf")
		default:
			s.internalError(c, "save attachment failed", err)
		}
		return "", false
	}
	return rel, true
}

func (s *Server) forget(ctx context.Context, fingerprint []string) {
	if s.deduper == nil {
		return
	}
	if err := s.deduper.Forget(ctx, fingerprint...); err != nil {
		s.logger.Warn("feedback dedup forget failed", slog.String("error", err.Error()))
	}
}

func (s *Server) handleListFeedback(c *gin.Context) {
	page := parseQueryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := parseQueryInt(c, "limit", 20)
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	filter := store.FeedbackFilter{
		Status:  model.FeedbackStatus(c.Query("status")),
		Service: c.Query("service"),
		Region:  c.Query("region"),
		Limit:   limit,
		Offset:  (page - 1) * limit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		validate.Fail(c, "status", "must be a valid feedback status")
		return
	}

	items, total, err := s.store.ListFeedback(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, "list feedback failed", err)
		return
	}

	claims, ok := middleware.ClaimsFrom(c)
	if !ok || !claims.IsAdmin {
		for i := range items {
			items[i].Email = ""
			items[i].UserID = nil
		}
	}
	c.JSON(http.StatusOK, FeedbackPage{Items: items, Total: total, Page: page, Limit: limit})
}

func (s *Server) handleUpdateFeedbackStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validate.Respond(c, err)
		return
	}
	id := c.Param("id")
	status := model.FeedbackStatus(req.Status)

	fb, err := s.store.UpdateFeedbackStatus(c.Request.Context(), id, status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feedback not found"})
			return
		}
		s.internalError(c, "update feedback status failed", err)
		return
	}

	claims, _ := middleware.ClaimsFrom(c)
	s.publish(events.Event{
		Type: events.FeedbackStatusChanged,
		Key:  fb.ID,
		Data: gin.H{"id": fb.ID, "status": fb.Status, "changed_by": claims.Subject},
	})
	s.logger.Info("feedback status changed",
		slog.String("id", fb.ID),
		slog.String("status", string(fb.Status)),
		slog.String("admin", claims.Email))
	c.JSON(http.StatusOK, gin.H{"feedback": fb})
}

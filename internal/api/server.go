// Package api 组装 HTTP 路由与依赖，提供反馈、仪表盘、联系表单等接口。
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"civicvoice/internal/api/auth"
	"civicvoice/internal/api/middleware"
	"civicvoice/internal/api/scheduler"
	"civicvoice/internal/api/validate"
	"civicvoice/internal/config"
	"civicvoice/internal/pkg/dedup"
	"civicvoice/internal/pkg/events"
	"civicvoice/internal/pkg/metrics"
	"civicvoice/internal/pkg/notify"
	"civicvoice/internal/pkg/queue"
	"civicvoice/internal/pkg/ratelimit"
	"civicvoice/internal/pkg/session"
	"civicvoice/internal/pkg/token"
	"civicvoice/internal/pkg/upload"
	"civicvoice/internal/store"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装 API 服务的依赖与路由。
//
// 存储、Redis、Kafka 与后台队列在 NewServer 中建立，Shutdown 时按相反顺序释放。
type Server struct {
	cfg            *config.Config
	logger         *slog.Logger
	store          store.Store
	rdb            *redis.Client
	router         *gin.Engine
	auth           *auth.Handler
	tokens         *token.Manager
	revocations    middleware.RevocationChecker
	limiter        middleware.Allower // 认证接口
	contactLimiter middleware.Allower // 联系表单，与认证接口分开计数
	deduper        Deduper
	dispatcher     Dispatcher
	mailer         notify.Mailer
	events         events.Publisher
	files          auth.FileStore
	cleanup        *scheduler.Scheduler
}

// Deduper 反馈去重，由 dedup.Guard 实现。
type Deduper interface {
	Seen(ctx context.Context, parts ...string) (bool, error)
	Forget(ctx context.Context, parts ...string) error
}

// Dispatcher 后台任务队列，由 queue.Queue 实现。
type Dispatcher interface {
	auth.Dispatcher
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开存储（MySQL 或 MongoDB）并迁移
// 2. 连接 Redis
// 3. 连接 Kafka（未配置 brokers 时事件写入 Redis Stream）
// 4. 创建后台队列、清理任务与 Gin 路由
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	var publisher events.Publisher = events.NewStreamPublisher(rdb, cfg.Kafka.TopicPrefix+":events", logger)
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, logger)
		if err != nil {
			_ = rdb.Close()
			_ = st.Close()
			return nil, err
		}
		publisher = kp
	}

	q := queue.NewQueue(logger, cfg.App.DispatchWorkers, cfg.App.DispatchQueueSize)
	metrics.InitMetrics(q.Workers())

	cleanup, err := scheduler.NewScheduler(st, logger, cfg.App.CleanupSpec, cfg.App.UnverifiedTTL)
	if err != nil {
		_ = publisher.Close()
		_ = rdb.Close()
		_ = st.Close()
		return nil, err
	}

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		store:          st,
		rdb:            rdb,
		tokens:         token.NewManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL),
		revocations:    session.NewBlocklist(rdb),
		limiter:        ratelimit.NewLimiter(rdb, logger, "auth", cfg.App.RateLimit, cfg.App.RateBurst),
		contactLimiter: ratelimit.NewLimiter(rdb, logger, "contact", cfg.App.RateLimit, cfg.App.RateBurst),
		deduper:        dedup.NewGuard(rdb, cfg.App.FeedbackDedupWindow),
		dispatcher:     q,
		mailer:         notify.NewEmailNotifier(cfg.Email, cfg.Security.OTPTTL, logger),
		events:         publisher,
		files:          upload.NewStore(cfg.App.UploadDir, cfg.App.MaxUploadBytes),
		cleanup:        cleanup,
	}
	s.setupRouter()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Start 启动后台队列与清理任务。
func (s *Server) Start(ctx context.Context) {
	if s.dispatcher != nil {
		s.dispatcher.Start(ctx)
	}
	if s.cleanup != nil {
		s.cleanup.Start()
	}
}

// Shutdown 停止清理任务、排空后台队列，然后关闭 Kafka、Redis 与存储。
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.cleanup != nil {
		s.cleanup.Stop(ctx)
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close events: %w", err))
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) setupRouter() {
	validate.Register()
	if s.events == nil {
		s.events = events.NopPublisher{}
	}
	s.auth = auth.NewHandler(auth.Options{
		Store:          s.store,
		Tokens:         s.tokens,
		Mailer:         s.mailer,
		Dispatcher:     s.dispatcher,
		Events:         s.events,
		Revoker:        s.revoker(),
		Files:          s.files,
		OTPTTL:         s.cfg.Security.OTPTTL,
		ResendInterval: s.cfg.Security.OTPResendInterval,
		Logger:         s.logger,
	})

	if s.cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))
	r.MaxMultipartMemory = 8 << 20
	s.router = r
	s.registerRoutes()
}

func (s *Server) revoker() auth.Revoker {
	if r, ok := s.revocations.(auth.Revoker); ok {
		return r
	}
	return nil
}

// registerRoutes 注册所有路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)
	if s.cfg.App.UploadDir != "" {
		s.router.Static("/uploads", s.cfg.App.UploadDir)
	}

	requireAuth := middleware.AuthMiddleware(s.tokens, s.revocations, s.logger)
	optionalAuth := middleware.OptionalAuth(s.tokens, s.revocations, s.logger)

	api := s.router.Group("/api", gzip.Gzip(gzip.DefaultCompression))

	authGroup := api.Group("/auth")
	limited := authGroup.Group("", s.rateLimited(s.limiter)...)
	limited.POST("/register", s.auth.Register)
	limited.POST("/activate", s.auth.Activate)
	limited.POST("/signin", s.auth.Signin)
	limited.POST("/resend-otp", s.auth.ResendOTP)
	authGroup.POST("/logout", optionalAuth, s.auth.Logout)
	authGroup.GET("/me", requireAuth, s.auth.Me)
	authGroup.POST("/avatar", requireAuth, s.auth.Avatar)

	api.GET("/services", s.handleServices)
	api.POST("/feedback", optionalAuth, s.handleSubmitFeedback)
	api.GET("/feedback", optionalAuth, s.handleListFeedback)
	api.PATCH("/feedback/:id/status", requireAuth, middleware.AdminOnly(), s.handleUpdateFeedbackStatus)
	api.GET("/dashboard", requireAuth, s.handleDashboard)
	api.POST("/contact", append(s.rateLimited(s.contactLimiter), s.handleContact)...)
}

func (s *Server) rateLimited(limiter middleware.Allower) []gin.HandlerFunc {
	if limiter == nil {
		return nil
	}
	return []gin.HandlerFunc{middleware.RateLimit(limiter, s.logger)}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check: store", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "store"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.logger.Warn("health check: redis", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// dispatch 将任务交给后台队列，队列满时丢弃并记录。
func (s *Server) dispatch(name string, job queue.Job) {
	if s.dispatcher == nil {
		return
	}
	if !s.dispatcher.Enqueue(name, job) {
		s.logger.Warn("background job dropped", slog.String("job", name))
	}
}

func (s *Server) publish(evt events.Event) {
	evt.OccurredAt = time.Now().UTC()
	s.dispatch("publish-"+evt.Type, func(ctx context.Context) error {
		return s.events.Publish(ctx, evt)
	})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// parseQueryInt 解析整数查询参数，缺失或非法时返回默认值。
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}

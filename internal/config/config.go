package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 存储后端类型。
const (
	DriverMySQL = "mysql"
	DriverMongo = "mongo"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Kafka    KafkaConfig    `json:"kafka"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                 string        `json:"env"`                   // 运行环境: local / prod
	LogLevel            string        `json:"log_level"`             // 日志级别: debug / info / warn / error
	HTTPAddr            string        `json:"http_addr"`             // API 服务监听地址
	UploadDir           string        `json:"upload_dir"`            // 头像与附件保存目录
	MaxUploadBytes      int64         `json:"max_upload_bytes"`      // 单个上传文件大小上限
	DispatchWorkers     int           `json:"dispatch_workers"`      // 后台发送（邮件/事件）worker 数
	DispatchQueueSize   int           `json:"dispatch_queue_size"`   // 后台发送队列容量
	RateLimit           float64       `json:"rate_limit"`            // 认证接口限流速率（token/s）
	RateBurst           float64       `json:"rate_burst"`            // 限流桶容量
	FeedbackDedupWindow time.Duration `json:"feedback_dedup_window"` // 重复反馈判定窗口（如 "10m"）
	UnverifiedTTL       time.Duration `json:"unverified_ttl"`        // 未激活账号保留时长（如 "48h"）
	CleanupSpec         string        `json:"cleanup_spec"`          // 清理任务 cron 表达式
}

// DatabaseConfig 存储后端配置。
type DatabaseConfig struct {
	Driver   string `json:"driver"`    // mysql / mongo
	DSN      string `json:"dsn"`       // MySQL 连接字符串
	MongoURI string `json:"mongo_uri"` // MongoDB 连接串
	MongoDB  string `json:"mongo_db"`  // MongoDB 数据库名
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件发送配置。
type EmailConfig struct {
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPass     string `json:"smtp_pass"`
	FromEmail    string `json:"from_email"`
	SupportEmail string `json:"support_email"` // 联系表单的收件地址
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret         string        `json:"jwt_secret"`          // JWT 签名密钥
	TokenTTL          time.Duration `json:"token_ttl"`           // 会话令牌有效期
	OTPTTL            time.Duration `json:"otp_ttl"`             // 验证码有效期
	OTPResendInterval time.Duration `json:"otp_resend_interval"` // 重发验证码的最小间隔
	AdminEmail        string        `json:"admin_email"`         // 启动时确保存在的管理员账号（可选）
	AdminPassword     string        `json:"admin_password"`
}

// KafkaConfig 领域事件投递配置。Brokers 为空时事件写入 Redis Stream "<topic_prefix>:events"。
type KafkaConfig struct {
	Brokers     []string `json:"brokers"`
	TopicPrefix string   `json:"topic_prefix"`
}

// Load 从 JSON 文件加载配置。
//
// 它会先尝试加载当前目录下的 .env，再读取 configs/config.json；
// 文件不存在时使用默认值，最后由环境变量覆盖。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	_ = godotenv.Load()

	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, cfg.Validate()
}

// Validate 检查配置中互相依赖的字段。
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", DriverMySQL)
		}
	case DriverMongo:
		if c.Database.MongoURI == "" || c.Database.MongoDB == "" {
			return fmt.Errorf("database.mongo_uri and database.mongo_db are required for driver %q", DriverMongo)
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.App.Env == "prod" && c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("security.jwt_secret must be set in prod")
	}
	return nil
}

const defaultJWTSecret = "dev_secret_change_me"

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                 "local",
			LogLevel:            "info",
			HTTPAddr:            ":8080",
			UploadDir:           "uploads",
			MaxUploadBytes:      5 << 20,
			DispatchWorkers:     4,
			DispatchQueueSize:   256,
			RateLimit:           1,
			RateBurst:           5,
			FeedbackDedupWindow: 10 * time.Minute,
			UnverifiedTTL:       48 * time.Hour,
			CleanupSpec:         "@every 1h",
		},
		Database: DatabaseConfig{
			Driver:   DriverMySQL,
			DSN:      "root:password@tcp(localhost:3306)/civicvoice?parseTime=true&loc=Local",
			MongoURI: "mongodb://localhost:27017",
			MongoDB:  "civicvoice",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret:         defaultJWTSecret,
			TokenTTL:          24 * time.Hour,
			OTPTTL:            10 * time.Minute,
			OTPResendInterval: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			TopicPrefix: "civicvoice",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	d := getDefaultConfig()

	setString(&cfg.App.Env, d.App.Env)
	setString(&cfg.App.LogLevel, d.App.LogLevel)
	setString(&cfg.App.HTTPAddr, d.App.HTTPAddr)
	setString(&cfg.App.UploadDir, d.App.UploadDir)
	setString(&cfg.App.CleanupSpec, d.App.CleanupSpec)
	if cfg.App.MaxUploadBytes <= 0 {
		cfg.App.MaxUploadBytes = d.App.MaxUploadBytes
	}
	if cfg.App.DispatchWorkers <= 0 {
		cfg.App.DispatchWorkers = d.App.DispatchWorkers
	}
	if cfg.App.DispatchQueueSize <= 0 {
		cfg.App.DispatchQueueSize = d.App.DispatchQueueSize
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = d.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = d.App.RateBurst
	}
	if cfg.App.FeedbackDedupWindow == 0 {
		cfg.App.FeedbackDedupWindow = d.App.FeedbackDedupWindow
	}
	if cfg.App.UnverifiedTTL == 0 {
		cfg.App.UnverifiedTTL = d.App.UnverifiedTTL
	}

	setString(&cfg.Database.Driver, d.Database.Driver)
	if cfg.Database.Driver == DriverMySQL {
		setString(&cfg.Database.DSN, d.Database.DSN)
	}
	setString(&cfg.Database.MongoDB, d.Database.MongoDB)
	setString(&cfg.Redis.Addr, d.Redis.Addr)
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = d.Email.SMTPPort
	}

	setString(&cfg.Security.JWTSecret, d.Security.JWTSecret)
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = d.Security.TokenTTL
	}
	if cfg.Security.OTPTTL == 0 {
		cfg.Security.OTPTTL = d.Security.OTPTTL
	}
	if cfg.Security.OTPResendInterval == 0 {
		cfg.Security.OTPResendInterval = d.Security.OTPResendInterval
	}
	setString(&cfg.Kafka.TopicPrefix, d.Kafka.TopicPrefix)
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.AutomaticEnv()

	_ = v.BindEnv("db_host", "DB_HOST")
	_ = v.BindEnv("db_password", "DB_PASSWORD")
	_ = v.BindEnv("mongo_uri", "MONGO_URI", "MONGODB_URI")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("smtp_pass", "SMTP_PASS")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("admin_password", "ADMIN_PASSWORD")
	_ = v.BindEnv("kafka_brokers", "KAFKA_BROKERS", "KAFKA_BROKER")

	if s := os.Getenv("APP_ENV"); s != "" {
		cfg.App.Env = s
	}
	if s := os.Getenv("APP_LOG_LEVEL"); s != "" {
		cfg.App.LogLevel = s
	}
	if s := os.Getenv("APP_HTTP_ADDR"); s != "" {
		cfg.App.HTTPAddr = s
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.App.HTTPAddr = ":" + port
	}
	if s := os.Getenv("APP_UPLOAD_DIR"); s != "" {
		cfg.App.UploadDir = s
	}
	if s := os.Getenv("APP_MAX_UPLOAD_BYTES"); s != "" {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			cfg.App.MaxUploadBytes = i
		}
	}
	if s := os.Getenv("APP_DISPATCH_WORKERS"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.App.DispatchWorkers = i
		}
	}
	if s := os.Getenv("APP_DISPATCH_QUEUE_SIZE"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.App.DispatchQueueSize = i
		}
	}
	if s := os.Getenv("APP_RATE_LIMIT"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if s := os.Getenv("APP_RATE_BURST"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	overrideDuration("APP_FEEDBACK_DEDUP_WINDOW", &cfg.App.FeedbackDedupWindow)
	overrideDuration("APP_UNVERIFIED_TTL", &cfg.App.UnverifiedTTL)
	if s := os.Getenv("APP_CLEANUP_SPEC"); s != "" {
		cfg.App.CleanupSpec = s
	}

	if s := os.Getenv("DB_DRIVER"); s != "" {
		cfg.Database.Driver = strings.ToLower(s)
	}
	if s := v.GetString("mongo_uri"); s != "" {
		cfg.Database.MongoURI = s
	}
	if s := os.Getenv("MONGO_DB"); s != "" {
		cfg.Database.MongoDB = s
	}
	if s := os.Getenv("DB_DSN"); s != "" {
		cfg.Database.DSN = s
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if s := v.GetString("db_host"); s != "" {
			parsed.Addr = s + ":" + getenvDefault("DB_PORT", parsed.Addr, "3306")
		} else if s := os.Getenv("DB_PORT"); s != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + s
		}
		if s := os.Getenv("DB_USER"); s != "" {
			parsed.User = s
		}
		if s := v.GetString("db_password"); s != "" {
			parsed.Passwd = s
		}
		if s := os.Getenv("DB_NAME"); s != "" {
			parsed.DBName = s
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if s := v.GetString("redis_addr"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := v.GetString("redis_password"); s != "" {
		cfg.Redis.Password = s
	}

	if s := os.Getenv("SMTP_HOST"); s != "" {
		cfg.Email.SMTPHost = s
	}
	if s := os.Getenv("SMTP_PORT"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if s := os.Getenv("SMTP_USER"); s != "" {
		cfg.Email.SMTPUser = s
	}
	if s := v.GetString("smtp_pass"); s != "" {
		cfg.Email.SMTPPass = s
	}
	if s := os.Getenv("SMTP_FROM"); s != "" {
		cfg.Email.FromEmail = s
	}
	if s := os.Getenv("SUPPORT_EMAIL"); s != "" {
		cfg.Email.SupportEmail = s
	}

	if s := v.GetString("jwt_secret"); s != "" {
		cfg.Security.JWTSecret = s
	}
	if s := os.Getenv("ADMIN_EMAIL"); s != "" {
		cfg.Security.AdminEmail = strings.ToLower(strings.TrimSpace(s))
	}
	if s := v.GetString("admin_password"); s != "" {
		cfg.Security.AdminPassword = s
	}
	overrideDuration("TOKEN_TTL", &cfg.Security.TokenTTL)
	overrideDuration("OTP_TTL", &cfg.Security.OTPTTL)
	overrideDuration("OTP_RESEND_INTERVAL", &cfg.Security.OTPResendInterval)

	if s := v.GetString("kafka_brokers"); s != "" {
		cfg.Kafka.Brokers = splitList(s)
	}
	if s := os.Getenv("KAFKA_TOPIC_PREFIX"); s != "" {
		cfg.Kafka.TopicPrefix = s
	}
}

func overrideDuration(key string, dst *time.Duration) {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if s := os.Getenv(envKey); s != "" {
		return s
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn != "" {
		if parsed, err := mysql.ParseDSN(dsn); err == nil {
			return parsed
		}
	}
	cfg := mysql.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = "localhost:3306"
	cfg.DBName = "civicvoice"
	cfg.ParseTime = true
	return cfg
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		FeedbackDedupWindow string `json:"feedback_dedup_window"`
		UnverifiedTTL       string `json:"unverified_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationField("feedback_dedup_window", aux.FeedbackDedupWindow, &a.FeedbackDedupWindow); err != nil {
		return err
	}
	return parseDurationField("unverified_ttl", aux.UnverifiedTTL, &a.UnverifiedTTL)
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		FeedbackDedupWindow string `json:"feedback_dedup_window"`
		UnverifiedTTL       string `json:"unverified_ttl"`
		*Alias
	}{
		FeedbackDedupWindow: a.FeedbackDedupWindow.String(),
		UnverifiedTTL:       a.UnverifiedTTL.String(),
		Alias:               (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		TokenTTL          string `json:"token_ttl"`
		OTPTTL            string `json:"otp_ttl"`
		OTPResendInterval string `json:"otp_resend_interval"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationField("token_ttl", aux.TokenTTL, &s.TokenTTL); err != nil {
		return err
	}
	if err := parseDurationField("otp_ttl", aux.OTPTTL, &s.OTPTTL); err != nil {
		return err
	}
	return parseDurationField("otp_resend_interval", aux.OTPResendInterval, &s.OTPResendInterval)
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	type Alias SecurityConfig
	return json.Marshal(&struct {
		TokenTTL          string `json:"token_ttl"`
		OTPTTL            string `json:"otp_ttl"`
		OTPResendInterval string `json:"otp_resend_interval"`
		*Alias
	}{
		TokenTTL:          s.TokenTTL.String(),
		OTPTTL:            s.OTPTTL.String(),
		OTPResendInterval: s.OTPResendInterval.String(),
		Alias:             (*Alias)(&s),
	})
}

func parseDurationField(name, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s format: %w", name, err)
	}
	*dst = d
	return nil
}

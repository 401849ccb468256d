package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Security.TokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %s", cfg.Security.TokenTTL)
	}
	if cfg.Database.Driver != DriverMySQL {
		t.Fatalf("expected mysql driver, got %q", cfg.Database.Driver)
	}
	if cfg.Security.OTPTTL != 10*time.Minute {
		t.Fatalf("expected 10m otp ttl, got %s", cfg.Security.OTPTTL)
	}
}

func TestLoad_FileDurationsAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "app": {"http_addr": ":9000", "feedback_dedup_window": "30s"},
  "database": {"driver": "mongo", "mongo_uri": "mongodb://db:27017"},
  "security": {"token_ttl": "2h", "jwt_secret": "s3cret"}
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":9000" {
		t.Fatalf("unexpected http addr %q", cfg.App.HTTPAddr)
	}
	if cfg.App.FeedbackDedupWindow != 30*time.Second {
		t.Fatalf("unexpected dedup window %s", cfg.App.FeedbackDedupWindow)
	}
	if cfg.Security.TokenTTL != 2*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.Security.TokenTTL)
	}
	if cfg.Security.OTPResendInterval != time.Minute {
		t.Fatalf("expected default resend interval, got %s", cfg.Security.OTPResendInterval)
	}
	if cfg.Database.MongoDB != "civicvoice" {
		t.Fatalf("expected default mongo db, got %q", cfg.Database.MongoDB)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"security": {"otp_ttl": "soon"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DB_HOST", "mysql.internal")
	t.Setenv("DB_NAME", "civic_test")
	t.Setenv("PORT", "7070")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Security.JWTSecret != "from-env" {
		t.Fatalf("expected jwt secret override, got %q", cfg.Security.JWTSecret)
	}
	if cfg.Security.OTPTTL != 5*time.Minute {
		t.Fatalf("expected otp ttl override, got %s", cfg.Security.OTPTTL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.App.HTTPAddr != ":7070" {
		t.Fatalf("expected PORT override, got %q", cfg.App.HTTPAddr)
	}
	parsed := parseMySQLDSN(cfg.Database.DSN)
	if parsed.Addr != "mysql.internal:3306" || parsed.DBName != "civic_test" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
}

func TestValidate(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.App.Env = "prod"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected default secret to be rejected in prod")
	}

	cfg = getDefaultConfig()
	cfg.Database.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

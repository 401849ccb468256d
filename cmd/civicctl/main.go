// civicctl 是 CivicVoice 的运维命令行工具。
//
// 直接操作存储的命令（migrate / user / feedback）读取与 API 服务相同的配置；
// health 与 signin 通过 HTTP 客户端访问正在运行的服务。
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"civicvoice/internal/config"
	"civicvoice/internal/pkg/logger"
	"civicvoice/internal/store"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	version    = "dev"
)

// openStore 打开配置指定的存储，测试中会被替换。
var openStore = func(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	return store.Open(ctx, cfg.Database, log)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "civicctl",
		Short: "Operations CLI for the CivicVoice API",
		Long: `civicctl runs maintenance tasks against the CivicVoice database and
talks to a running API server.

Examples:
  # Apply schema migrations
  civicctl migrate

  # Grant admin rights
  civicctl user promote ops@example.com

  # Check a remote server
  civicctl health --server https://civicvoice.example.com`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default configs/config.json)")
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "CivicVoice API base URL")

	root.AddCommand(newMigrateCmd(), newUserCmd(), newFeedbackCmd(), newEventsCmd(), newHealthCmd(), newSigninCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.Load()
}

// withStore 加载配置、打开存储并执行 fn，结束后关闭存储。
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store, cfg *config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cmd.ErrOrStderr(), cfg.App.LogLevel)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(ctx, st, cfg)
}

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}

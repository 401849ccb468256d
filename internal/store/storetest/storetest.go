// Package storetest 提供基于内存 SQLite 的存储，用于各包测试。
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"civicvoice/internal/store"

	"gorm.io/driver/sqlite"
)

var seq atomic.Int64

// NewSQLite 返回一个已迁移的独立内存库，测试结束时关闭。
func NewSQLite(t testing.TB) *store.GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	s, err := store.OpenGorm(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// 内存库只保留一个连接，避免 shared cache 下的表锁错误
	sqlDB, err := s.DB().DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

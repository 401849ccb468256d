// Package dedup 在时间窗口内拦截重复提交的反馈。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "civicvoice:dedup:feedback:"

// Guard 用 SETNX 记录内容指纹，窗口内同一指纹只放行一次。
type Guard struct {
	rdb    *redis.Client
	window time.Duration
}

func NewGuard(rdb *redis.Client, window time.Duration) *Guard {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Guard{
		rdb:    rdb,
		window: window,
	}
}

// Seen 返回 true 表示窗口内已有相同内容。首次出现时记录指纹。
func (g *Guard) Seen(ctx context.Context, parts ...string) (bool, error) {
	if g == nil || g.rdb == nil || len(parts) == 0 {
		return false, nil
	}
	ok, err := g.rdb.SetNX(ctx, keyPrefix+fingerprint(parts), "1", g.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Forget 删除指纹，用于写库失败后允许重试。
func (g *Guard) Forget(ctx context.Context, parts ...string) error {
	if g == nil || g.rdb == nil || len(parts) == 0 {
		return nil
	}
	if err := g.rdb.Del(ctx, keyPrefix+fingerprint(parts)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func fingerprint(parts []string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\x1f")))
	return hex.EncodeToString(sum[:])
}

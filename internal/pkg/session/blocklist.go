// Package session 维护已注销令牌的黑名单。
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "civicvoice:revoked:"

// Blocklist 以 jti 为键记录被注销的令牌，键的过期时间与令牌本身一致。
type Blocklist struct {
	rdb *redis.Client
	now func() time.Time
}

func NewBlocklist(rdb *redis.Client) *Blocklist {
	return &Blocklist{rdb: rdb, now: time.Now}
}

// Revoke 将 jti 加入黑名单直到 exp。已过期的令牌无需记录。
func (b *Blocklist) Revoke(ctx context.Context, jti string, exp time.Time) error {
	if b == nil || b.rdb == nil || jti == "" {
		return nil
	}
	ttl := exp.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	if err := b.rdb.Set(ctx, keyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked 查询 jti 是否已注销。
func (b *Blocklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if b == nil || b.rdb == nil || jti == "" {
		return false, nil
	}
	err := b.rdb.Get(ctx, keyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked: %w", err)
	}
	return true, nil
}

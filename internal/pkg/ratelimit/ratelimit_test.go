package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter_AllowReducesTokens(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewLimiter(rdb, nil, "basic", 10, 2)
	ok, _, err := limiter.Allow(context.Background(), "1.2.3.4")
	if err != nil || !ok {
		t.Fatalf("allow: ok=%v err=%v", ok, err)
	}

	tokensStr, err := rdb.HGet(context.Background(), limiter.bucketKey("1.2.3.4"), "tokens").Result()
	if err != nil {
		t.Fatalf("hget tokens: %v", err)
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		t.Fatalf("parse tokens: %v", err)
	}
	if tokens > 1.1 {
		t.Fatalf("expected tokens to decrease, got %.2f", tokens)
	}
}

func TestLimiter_RejectsWithRetryAfter(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	fixed := time.Unix(1_700_000_000, 0)
	limiter := NewLimiter(rdb, nil, "otp", 1.0/60, 1)
	limiter.now = func() time.Time { return fixed }

	if ok, _, err := limiter.Allow(context.Background(), "abel@x.com"); err != nil || !ok {
		t.Fatalf("first allow: ok=%v err=%v", ok, err)
	}
	ok, wait, err := limiter.Allow(context.Background(), "abel@x.com")
	if err != nil {
		t.Fatalf("second allow: %v", err)
	}
	if ok {
		t.Fatalf("expected second request to be limited")
	}
	if wait < 59*time.Second || wait > 61*time.Second {
		t.Fatalf("expected ~60s retry, got %s", wait)
	}

	limiter.now = func() time.Time { return fixed.Add(61 * time.Second) }
	if ok, _, err := limiter.Allow(context.Background(), "abel@x.com"); err != nil || !ok {
		t.Fatalf("expected refill after interval: ok=%v err=%v", ok, err)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewLimiter(rdb, nil, "ip", 1, 1)
	ctx := context.Background()
	if ok, _, _ := limiter.Allow(ctx, "a"); !ok {
		t.Fatalf("expected a allowed")
	}
	if ok, _, _ := limiter.Allow(ctx, "b"); !ok {
		t.Fatalf("expected b allowed")
	}
	if ok, _, _ := limiter.Allow(ctx, "a"); ok {
		t.Fatalf("expected a limited")
	}
}

func TestLimiter_ConcurrentAllow(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewLimiter(rdb, nil, "concurrent", 0.001, 5)
	fixed := time.UnixMilli(1_700_000_000_000)
	limiter.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := limiter.Allow(context.Background(), "same")
			mu.Lock()
			defer mu.Unlock()
			if err == nil && ok {
				success++
			}
		}()
	}
	wg.Wait()

	if success != 5 {
		t.Fatalf("expected 5 successes, got %d", success)
	}
}

func TestLimiter_OutOfOrderClockDoesNotRefillTwice(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	// 每毫秒补充 1 个令牌
	limiter := NewLimiter(rdb, nil, "clock", 1000, 5)
	base := time.UnixMilli(1_700_000_000_000)
	at := func(offsetMs int64) {
		limiter.now = func() time.Time { return base.Add(time.Duration(offsetMs) * time.Millisecond) }
	}
	ctx := context.Background()

	at(10)
	for i := 0; i < 5; i++ {
		if ok, _, err := limiter.Allow(ctx, "k"); !ok || err != nil {
			t.Fatalf("call %d: expected allowed, err=%v", i, err)
		}
	}
	at(0)
	if ok, _, _ := limiter.Allow(ctx, "k"); ok {
		t.Fatalf("expected limited with an older clock")
	}
	at(5)
	if ok, _, _ := limiter.Allow(ctx, "k"); ok {
		t.Fatalf("milliseconds before the stored timestamp must not refill the bucket")
	}
	at(11)
	if ok, _, _ := limiter.Allow(ctx, "k"); !ok {
		t.Fatalf("expected one token after 1ms past the stored timestamp")
	}
	if ok, _, _ := limiter.Allow(ctx, "k"); ok {
		t.Fatalf("expected limited after spending the refilled token")
	}
}

func TestLimiter_DisabledAllowsAll(t *testing.T) {
	var limiter *Limiter
	if ok, _, err := limiter.Allow(context.Background(), "x"); !ok || err != nil {
		t.Fatalf("nil limiter should allow")
	}
	limiter = NewLimiter(nil, nil, "", 0, 0)
	if ok, _, err := limiter.Allow(context.Background(), "x"); !ok || err != nil {
		t.Fatalf("zero-rate limiter should allow")
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func closeRedis(t *testing.T, rdb *redis.Client) {
	t.Helper()
	if err := rdb.Close(); err != nil {
		t.Fatalf("close redis: %v", err)
	}
}

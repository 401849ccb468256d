package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newGuard(t *testing.T, window time.Duration) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})
	return NewGuard(rdb, window), s
}

func TestGuard_Seen(t *testing.T) {
	g, _ := newGuard(t, time.Minute)
	ctx := context.Background()

	seen, err := g.Seen(ctx, "abel@x.com", "health", "Long queues")
	if err != nil {
		t.Fatalf("first seen: %v", err)
	}
	if seen {
		t.Fatalf("expected first submission to pass")
	}

	seen, err = g.Seen(ctx, " ABEL@x.com", "health", "long queues ")
	if err != nil {
		t.Fatalf("second seen: %v", err)
	}
	if !seen {
		t.Fatalf("expected normalized duplicate to be caught")
	}

	seen, err = g.Seen(ctx, "abel@x.com", "water", "Long queues")
	if err != nil {
		t.Fatalf("other service: %v", err)
	}
	if seen {
		t.Fatalf("expected different service to pass")
	}
}

func TestGuard_WindowExpiresAndForget(t *testing.T) {
	g, s := newGuard(t, time.Minute)
	ctx := context.Background()

	if seen, _ := g.Seen(ctx, "a", "b"); seen {
		t.Fatalf("expected first to pass")
	}
	s.FastForward(2 * time.Minute)
	if seen, _ := g.Seen(ctx, "a", "b"); seen {
		t.Fatalf("expected window expiry to allow resubmission")
	}

	if err := g.Forget(ctx, "a", "b"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if seen, _ := g.Seen(ctx, "a", "b"); seen {
		t.Fatalf("expected forget to allow resubmission")
	}
}

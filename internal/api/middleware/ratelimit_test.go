package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeLimiter struct {
	allow bool
	wait  time.Duration
	err   error
}

func (f fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return f.allow, f.wait, f.err
}

func (f fakeLimiter) Scope() string { return "test" }

func rateLimitedRouter(l Allower) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", RateLimit(l, testLogger()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRateLimit(t *testing.T) {
	cases := []struct {
		name     string
		limiter  fakeLimiter
		wantCode int
		retry    string
	}{
		{"allowed", fakeLimiter{allow: true}, http.StatusOK, ""},
		{"limited", fakeLimiter{allow: false, wait: 1500 * time.Millisecond}, http.StatusTooManyRequests, "2"},
		{"redis error", fakeLimiter{err: errors.New("down")}, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			rateLimitedRouter(tc.limiter).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			if got := w.Header().Get("Retry-After"); got != tc.retry {
				t.Fatalf("expected Retry-After %q, got %q", tc.retry, got)
			}
			if tc.wantCode == http.StatusTooManyRequests && w.Body.String() != `{"error":"too many requests","retry_after":2}` {
				t.Fatalf("unexpected body %s", w.Body.String())
			}
		})
	}
}

package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"civicvoice/internal/model"
	"civicvoice/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

type fakeRevocations struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[jti], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthRouter(tokens *token.Manager, rev RevocationChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	protected := r.Group("/", AuthMiddleware(tokens, rev, testLogger()))
	protected.GET("/me", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject})
	})
	protected.GET("/admin", AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/optional", OptionalAuth(tokens, rev, testLogger()), func(c *gin.Context) {
		if _, ok := ClaimsFrom(c); ok {
			c.String(http.StatusOK, "user")
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return r
}

func doGet(r http.Handler, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func issue(t *testing.T, m *token.Manager, admin bool) (string, *token.Claims) {
	t.Helper()
	raw, claims, err := m.Issue(&model.User{ID: "u-1", Email: "abel@x.com", IsAdmin: admin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return raw, claims
}

func TestAuthMiddleware_UniformRejection(t *testing.T) {
	tokens := token.NewManager("secret", time.Hour)
	rev := &fakeRevocations{revoked: map[string]bool{}}
	r := newAuthRouter(tokens, rev)

	valid, _ := issue(t, tokens, false)
	revokedTok, revokedClaims := issue(t, tokens, false)
	rev.revoked[revokedClaims.ID] = true
	otherKey, _ := issue(t, token.NewManager("other", time.Hour), false)

	w := doGet(r, "/me", "Bearer "+valid)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid token, got %d", w.Code)
	}

	expected := `{"error":"invalid or missing token"}`
	for name, header := range map[string]string{
		"missing":     "",
		"no scheme":   valid,
		"basic":       "Basic abc",
		"malformed":   "Bearer not.a.jwt",
		"wrong key":   "Bearer " + otherKey,
		"revoked":     "Bearer " + revokedTok,
		"empty token": "Bearer ",
	} {
		w := doGet(r, "/me", header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, w.Code)
		}
		if w.Body.String() != expected {
			t.Fatalf("%s: unexpected body %s", name, w.Body.String())
		}
	}
}

func TestAuthMiddleware_RevocationFailureFailsOpen(t *testing.T) {
	tokens := token.NewManager("secret", time.Hour)
	r := newAuthRouter(tokens, &fakeRevocations{err: errors.New("redis down")})
	raw, _ := issue(t, tokens, false)

	if w := doGet(r, "/me", "Bearer "+raw); w.Code != http.StatusOK {
		t.Fatalf("expected fail-open on revocation error, got %d", w.Code)
	}
}

func TestAdminOnly(t *testing.T) {
	tokens := token.NewManager("secret", time.Hour)
	r := newAuthRouter(tokens, nil)
	citizen, _ := issue(t, tokens, false)
	admin, _ := issue(t, tokens, true)

	if w := doGet(r, "/admin", "Bearer "+citizen); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", w.Code)
	}
	if w := doGet(r, "/admin", "Bearer "+admin); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", w.Code)
	}
	if w := doGet(r, "/admin", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestOptionalAuth(t *testing.T) {
	tokens := token.NewManager("secret", time.Hour)
	r := newAuthRouter(tokens, nil)
	raw, _ := issue(t, tokens, false)

	if w := doGet(r, "/optional", ""); w.Body.String() != "anonymous" {
		t.Fatalf("expected anonymous, got %s", w.Body.String())
	}
	if w := doGet(r, "/optional", "Bearer garbage"); w.Code != http.StatusOK || w.Body.String() != "anonymous" {
		t.Fatalf("bad token should be ignored, got %d %s", w.Code, w.Body.String())
	}
	if w := doGet(r, "/optional", "Bearer "+raw); w.Body.String() != "user" {
		t.Fatalf("expected user, got %s", w.Body.String())
	}
}

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"civicvoice/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// ErrUnauthorized 所有认证失败共用的响应体。
const ErrUnauthorized = "invalid or missing token"

// TokenParser 校验并解析令牌。
type TokenParser interface {
	Parse(raw string) (*token.Claims, error)
}

// RevocationChecker 查询令牌是否已注销。
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthMiddleware 要求有效的 Bearer 令牌，并将 claims 写入上下文。
//
// 缺失、格式错误、签名错误、过期与已注销的令牌返回完全相同的 401。
// 黑名单查询失败时放行（令牌自身的过期仍然生效）。
func AuthMiddleware(tokens TokenParser, revoked RevocationChecker, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, tokens, revoked, logger)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// OptionalAuth 有合法令牌时写入 claims，否则按匿名请求继续。
func OptionalAuth(tokens TokenParser, revoked RevocationChecker, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := authenticate(c, tokens, revoked, logger); ok {
			c.Set(claimsKey, claims)
		}
		c.Next()
	}
}

// AdminOnly 必须在 AuthMiddleware 之后使用。
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized})
			return
		}
		if !claims.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// ClaimsFrom 读取认证中间件写入的 claims。
func ClaimsFrom(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok && claims != nil
}

// BearerToken 提取 Authorization 头中的令牌，格式不符返回空串。
func BearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func authenticate(c *gin.Context, tokens TokenParser, revoked RevocationChecker, logger *slog.Logger) (*token.Claims, bool) {
	raw := BearerToken(c)
	if raw == "" {
		return nil, false
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		return nil, false
	}
	if revoked == nil {
		return claims, true
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	isRevoked, err := revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		if logger != nil {
			logger.Warn("revocation check failed", slog.String("error", err.Error()))
		}
		return claims, true
	}
	return claims, !isRevoked
}

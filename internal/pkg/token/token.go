// Package token 签发与校验会话 JWT。
package token

import (
	"errors"
	"fmt"
	"time"

	"civicvoice/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken 缺失、格式错误、签名错误或已过期的令牌。
var ErrInvalidToken = errors.New("invalid token")

const issuer = "civicvoice"

// Claims 会话令牌声明。Subject 为用户 ID，ID (jti) 用于注销。
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
	Avatar  string `json:"avatar,omitempty"`
}

// Manager 使用 HS256 签发和解析令牌。
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager 创建令牌管理器，ttl <= 0 时使用 24 小时。
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL 返回令牌有效期。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue 为用户签发新令牌。
func (m *Manager) Issue(user *model.User) (string, *Claims, error) {
	if user == nil || user.ID == "" {
		return "", nil, fmt.Errorf("issue token: empty user")
	}
	now := m.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Email:   user.Email,
		Name:    user.Name,
		IsAdmin: user.IsAdmin,
		Avatar:  user.Avatar,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse 校验签名、算法、签发方与过期时间。所有失败都归为 ErrInvalidToken。
func (m *Manager) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}
	return claims, nil
}

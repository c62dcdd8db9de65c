// Package auth verifies bearer JWTs on the HTTP API. The token subject becomes
// the owner used by agent create and override checks.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	xerrors "AgentHub/internal/errors"
)

var (
	ErrMissingToken = xerrors.New(xerrors.CodeUnauthenticated, "缺少 bearer token")
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthenticated, "token 无效")
)

// Subject 是通过认证的调用方。
type Subject struct {
	ID    string
	Roles []string
}

// HasRole 判断调用方是否具备指定角色。
func (s *Subject) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claims 是 API token 携带的声明。
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Verifier 使用 HS256 共享密钥签发与校验 token。
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier 创建校验器。secret 为空时返回配置错误。
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "jwt_secret 不能为空")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue 为 subject 签发 token，供运维脚本与测试使用。
func (v *Verifier) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "签发 token 失败")
	}
	return signed, nil
}

// Verify 解析并校验 token，返回其中的调用方。
func (v *Verifier) Verify(token string) (*Subject, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, xerrors.Wrap(xerrors.CodeUnauthenticated, err, "token 已过期")
		}
		return nil, xerrors.Wrap(xerrors.CodeUnauthenticated, err, "token 无效")
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Subject{ID: claims.Subject, Roles: claims.Roles}, nil
}

// BearerToken 从 Authorization 头中提取 token。
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken は署名不正・形式不正・アルゴリズム不一致のトークンで返される。
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired は有効期限切れのトークンで返される。
	ErrTokenExpired = errors.New("token expired")
)

// Claims はローカル発行するセッショントークンのクレーム。
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256で署名したセッショントークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。ttlは発行するトークンの有効期間。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はユーザーIDとメールアドレスを埋め込んだトークンを発行する。
func (i *TokenIssuer) Issue(userID, email string) (token string, expiresAt time.Time, err error) {
	now := i.now().UTC()
	expiresAt = now.Add(i.ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify はトークンの署名と有効期限を検証してクレームを返す。
// 期限切れはErrTokenExpired、それ以外の失敗はErrInvalidTokenでラップして返す。
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

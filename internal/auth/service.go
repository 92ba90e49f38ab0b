// Package auth は外部IdPへの認証委譲とセッショントークンの発行を提供する。
package auth

import (
	"context"
	"fmt"
	"time"
)

// RegisterResult は登録結果。
type RegisterResult struct {
	User                 ProviderUser
	RequiresConfirmation bool
}

// LoginResult はログイン結果。Tokenはローカル発行のセッショントークン。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      ProviderUser
}

// Service は登録・ログインのビジネスロジックを提供する。
// ユーザー情報はIdPが保持し、本サービスはトークン発行のみを行う。
type Service struct {
	provider IdentityProvider
	issuer   *TokenIssuer
}

// NewService はServiceを生成する。
func NewService(provider IdentityProvider, issuer *TokenIssuer) *Service {
	return &Service{provider: provider, issuer: issuer}
}

// Register はIdPでユーザーを登録する。
// IdPがセッションを返さなかった場合はメール確認が必要とみなす。
// IdPが拒否した場合は*ProviderErrorをそのまま返す。
func (s *Service) Register(ctx context.Context, email, password string) (*RegisterResult, error) {
	res, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{
		User:                 res.User,
		RequiresConfirmation: !res.HasSession,
	}, nil
}

// Login はIdPでパスワード認証を行い、成功したらセッショントークンを発行する。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	res, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.issuer.Issue(res.User.ID, res.User.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      res.User,
	}, nil
}

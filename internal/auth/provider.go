package auth

import (
	"context"
	"fmt"
)

// ProviderUser は外部IdPが返すユーザー情報。
type ProviderUser struct {
	ID    string
	Email string
}

// SignUpResult はサインアップの結果。
// HasSessionがfalseの場合、IdP側でメール確認が必要。
type SignUpResult struct {
	User       ProviderUser
	HasSession bool
}

// SignInResult はパスワードサインインの結果。
type SignInResult struct {
	User ProviderUser
}

// IdentityProvider はユーザー登録とパスワード認証を委譲する外部IdPのインターフェース。
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*SignInResult, error)
}

// ProviderError はIdPが要求を拒否したことを表す。
// Messageはクライアントにそのまま返してよい文言。
type ProviderError struct {
	Message string
	Status  int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider error (status %d): %s", e.Status, e.Message)
}

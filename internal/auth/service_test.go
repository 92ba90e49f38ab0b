package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

// --- モック定義 ---

type mockProvider struct {
	signUpFn func(ctx context.Context, email, password string) (*SignUpResult, error)
	signInFn func(ctx context.Context, email, password string) (*SignInResult, error)
}

func (m *mockProvider) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockProvider) SignInWithPassword(ctx context.Context, email, password string) (*SignInResult, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func TestService_Register_RequiresConfirmation(t *testing.T) {
	provider := &mockProvider{
		signUpFn: func(_ context.Context, email, _ string) (*SignUpResult, error) {
			return &SignUpResult{User: ProviderUser{ID: "u-1", Email: email}, HasSession: false}, nil
		},
	}
	svc := NewService(provider, NewTokenIssuer("secret", time.Hour))

	res, err := svc.Register(context.Background(), "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !res.RequiresConfirmation {
		t.Error("RequiresConfirmation should be true when no session is returned")
	}
	if res.User.ID != "u-1" {
		t.Errorf("User.ID = %q", res.User.ID)
	}
}

func TestService_Register_ProviderErrorPassesThrough(t *testing.T) {
	provider := &mockProvider{
		signUpFn: func(context.Context, string, string) (*SignUpResult, error) {
			return nil, &ProviderError{Message: "User already registered", Status: 422}
		},
	}
	svc := NewService(provider, NewTokenIssuer("secret", time.Hour))

	_, err := svc.Register(context.Background(), "a@example.com", "secret1")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
}

func TestService_Login_IssuesVerifiableToken(t *testing.T) {
	provider := &mockProvider{
		signInFn: func(_ context.Context, email, _ string) (*SignInResult, error) {
			return &SignInResult{User: ProviderUser{ID: "u-9", Email: email}}, nil
		},
	}
	issuer := NewTokenIssuer("secret", time.Hour)
	svc := NewService(provider, issuer)

	res, err := svc.Login(context.Background(), "login@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	claims, err := issuer.Verify(res.Token)
	if err != nil {
		t.Fatalf("issued token should verify: %v", err)
	}
	if claims.UserID != "u-9" || claims.Email != "login@example.com" {
		t.Errorf("claims = %+v", claims)
	}
	if res.User.ID != "u-9" {
		t.Errorf("User.ID = %q", res.User.ID)
	}
}

func TestService_Login_ProviderError(t *testing.T) {
	provider := &mockProvider{
		signInFn: func(context.Context, string, string) (*SignInResult, error) {
			return nil, &ProviderError{Message: "Invalid login credentials", Status: 400}
		},
	}
	svc := NewService(provider, NewTokenIssuer("secret", time.Hour))

	res, err := svc.Login(context.Background(), "x@example.com", "secret1")
	if res != nil {
		t.Error("expected nil result")
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Message != "Invalid login credentials" {
		t.Errorf("err = %v", err)
	}
}

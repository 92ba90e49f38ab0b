package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestSupabase(t *testing.T, handler http.HandlerFunc) *SupabaseProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSupabaseProvider(SupabaseConfig{
		URL:        srv.URL + "/",
		AnonKey:    "anon-key",
		HTTPClient: srv.Client(),
	})
}

func TestSupabaseProvider_SignUp_WithoutSession(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/v1/signup" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("apikey header = %q", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "new@example.com" || body["password"] != "secret1" {
			t.Errorf("unexpected body: %v", body)
		}

		// メール確認が必要な場合はユーザーオブジェクトがトップレベルで返る
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "sb-user-1",
			"email": "new@example.com",
		})
	})

	res, err := p.SignUp(context.Background(), "new@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if res.User.ID != "sb-user-1" || res.User.Email != "new@example.com" {
		t.Errorf("User = %+v", res.User)
	}
	if res.HasSession {
		t.Error("HasSession should be false without access_token")
	}
}

func TestSupabaseProvider_SignUp_WithSession(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "sb-access",
			"user":         map[string]any{"id": "sb-user-2", "email": "a@example.com"},
		})
	})

	res, err := p.SignUp(context.Background(), "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if !res.HasSession {
		t.Error("HasSession should be true")
	}
	if res.User.ID != "sb-user-2" {
		t.Errorf("User.ID = %q", res.User.ID)
	}
}

func TestSupabaseProvider_SignUp_ProviderError(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"code":       422,
			"error_code": "user_already_exists",
			"msg":        "User already registered",
		})
	})

	_, err := p.SignUp(context.Background(), "dup@example.com", "secret1")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %T (%v)", err, err)
	}
	if perr.Message != "User already registered" {
		t.Errorf("Message = %q", perr.Message)
	}
	if perr.Status != http.StatusUnprocessableEntity {
		t.Errorf("Status = %d", perr.Status)
	}
}

func TestSupabaseProvider_SignIn_Success(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "sb-access",
			"user":         map[string]any{"id": "sb-user-3", "email": "login@example.com"},
		})
	})

	res, err := p.SignInWithPassword(context.Background(), "login@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword failed: %v", err)
	}
	if res.User.ID != "sb-user-3" || res.User.Email != "login@example.com" {
		t.Errorf("User = %+v", res.User)
	}
}

func TestSupabaseProvider_SignIn_InvalidCredentials(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
	})

	_, err := p.SignInWithPassword(context.Background(), "x@example.com", "wrongpw")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %T (%v)", err, err)
	}
	if perr.Message != "Invalid login credentials" {
		t.Errorf("Message = %q", perr.Message)
	}
}

func TestSupabaseProvider_ErrorWithoutBody_UsesStatusText(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := p.SignInWithPassword(context.Background(), "x@example.com", "secret1")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if perr.Message != "Service Unavailable" {
		t.Errorf("Message = %q", perr.Message)
	}
}

func TestSupabaseProvider_MalformedSuccessBody(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := p.SignInWithPassword(context.Background(), "x@example.com", "secret1")
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		t.Error("malformed response must not be reported as a provider refusal")
	}
}

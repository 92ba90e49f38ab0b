package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultSupabaseTimeout = 10 * time.Second

// SupabaseConfig はSupabase Authプロバイダーの設定。
type SupabaseConfig struct {
	URL     string // プロジェクトURL（例: https://xxxx.supabase.co）
	AnonKey string

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
}

// SupabaseProvider はSupabase Auth(GoTrue)のREST APIでユーザー登録とログインを行う。
type SupabaseProvider struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewSupabaseProvider はSupabaseProviderを生成する。
func NewSupabaseProvider(config SupabaseConfig) *SupabaseProvider {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSupabaseTimeout}
	}
	return &SupabaseProvider{
		baseURL: strings.TrimRight(config.URL, "/") + "/auth/v1",
		anonKey: config.AnonKey,
		client:  client,
	}
}

// supabaseUser はGoTrueのユーザーオブジェクト。
type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// supabaseSessionResponse はセッション付きのレスポンス。
// メール確認が必要なサインアップではユーザーオブジェクトがトップレベルで返る。
type supabaseSessionResponse struct {
	AccessToken string        `json:"access_token"`
	User        *supabaseUser `json:"user"`

	ID    string `json:"id"`
	Email string `json:"email"`
}

// supabaseErrorResponse はGoTrueのエラーレスポンス。バージョンによってキーが異なる。
type supabaseErrorResponse struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func (e supabaseErrorResponse) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignUp はメールアドレスとパスワードでユーザーを登録する。
func (p *SupabaseProvider) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	var resp supabaseSessionResponse
	if err := p.post(ctx, "/signup", email, password, &resp); err != nil {
		return nil, err
	}

	user := resp.User
	if user == nil {
		user = &supabaseUser{ID: resp.ID, Email: resp.Email}
	}
	if user.ID == "" {
		return nil, fmt.Errorf("empty user id in signup response")
	}

	return &SignUpResult{
		User:       ProviderUser{ID: user.ID, Email: user.Email},
		HasSession: resp.AccessToken != "",
	}, nil
}

// SignInWithPassword はパスワード認証を行う。
func (p *SupabaseProvider) SignInWithPassword(ctx context.Context, email, password string) (*SignInResult, error) {
	var resp supabaseSessionResponse
	if err := p.post(ctx, "/token?grant_type=password", email, password, &resp); err != nil {
		return nil, err
	}

	if resp.User == nil || resp.User.ID == "" {
		return nil, fmt.Errorf("empty user in token response")
	}

	return &SignInResult{
		User: ProviderUser{ID: resp.User.ID, Email: resp.User.Email},
	}, nil
}

// post は認証情報をJSONでPOSTし、成功時のレスポンスをoutにデコードする。
// IdPが2xx以外を返した場合は*ProviderErrorを返す。
func (p *SupabaseProvider) post(ctx context.Context, path, email, password string, out any) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Authorization", "Bearer "+p.anonKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read identity provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e supabaseErrorResponse
		_ = json.Unmarshal(body, &e)
		msg := e.text()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ProviderError{Message: msg, Status: resp.StatusCode}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse identity provider response: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityProvider = (*SupabaseProvider)(nil)

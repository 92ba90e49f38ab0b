package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/scriptlabs/internal/auth"
	"github.com/hitoshi/scriptlabs/internal/config"
	"github.com/hitoshi/scriptlabs/internal/lab"
	"github.com/hitoshi/scriptlabs/internal/metrics"
	"github.com/hitoshi/scriptlabs/internal/middleware"
	"github.com/hitoshi/scriptlabs/internal/model"
	"github.com/hitoshi/scriptlabs/internal/ratelimit"
	"github.com/hitoshi/scriptlabs/internal/security"
)

const testSecret = "test-secret-key-for-handler"

// --- モック定義 ---

// memLabRepo はrepository.LabRepositoryのインメモリ実装。
type memLabRepo struct {
	mu     sync.Mutex
	nextID int64
	labs   []*model.Lab
}

func (m *memLabRepo) matches(l *model.Lab, userID, search string) bool {
	if l.UserID != userID {
		return false
	}
	if search == "" {
		return true
	}
	s := strings.ToLower(search)
	return strings.Contains(strings.ToLower(l.Title), s) || strings.Contains(strings.ToLower(l.Description), s)
}

func (m *memLabRepo) List(_ context.Context, userID string, params model.ListParams) ([]*model.Lab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Lab
	for i := len(m.labs) - 1; i >= 0; i-- {
		if m.matches(m.labs[i], userID, params.Search) {
			c := *m.labs[i]
			out = append(out, &c)
		}
	}
	start := min(params.Offset(), len(out))
	end := min(start+params.Limit, len(out))
	return out[start:end], nil
}

func (m *memLabRepo) Count(_ context.Context, userID, search string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.labs {
		if m.matches(l, userID, search) {
			n++
		}
	}
	return n, nil
}

func (m *memLabRepo) FindByIDAndUser(_ context.Context, id int64, userID string) (*model.Lab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.labs {
		if l.ID == id && l.UserID == userID {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memLabRepo) ExistsDuplicate(_ context.Context, userID, title, description string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.ContainsFunc(m.labs, func(l *model.Lab) bool {
		return l.UserID == userID && l.Title == title && l.Description == description
	}), nil
}

func (m *memLabRepo) Create(_ context.Context, l *model.Lab) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now().UTC()
	l.ID = m.nextID
	l.CreatedAt = now
	l.UpdatedAt = now
	c := *l
	m.labs = append(m.labs, &c)
	return nil
}

func (m *memLabRepo) Update(_ context.Context, id int64, userID string, patch model.LabPatch) (*model.Lab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.labs {
		if l.ID == id && l.UserID == userID {
			if patch.Title != nil {
				l.Title = *patch.Title
			}
			if patch.Description != nil {
				l.Description = *patch.Description
			}
			l.UpdatedAt = time.Now().UTC()
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memLabRepo) Delete(_ context.Context, id int64, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, l := range m.labs {
		if l.ID == id && l.UserID == userID {
			m.labs = slices.Delete(m.labs, i, i+1)
			return true, nil
		}
	}
	return false, nil
}

// mockProvider はauth.IdentityProviderのモック。
type mockProvider struct {
	signUpFn func(ctx context.Context, email, password string) (*auth.SignUpResult, error)
	signInFn func(ctx context.Context, email, password string) (*auth.SignInResult, error)
}

func (m *mockProvider) SignUp(ctx context.Context, email, password string) (*auth.SignUpResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return nil, &auth.ProviderError{Message: "sign up disabled", Status: http.StatusBadRequest}
}

func (m *mockProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.SignInResult, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, &auth.ProviderError{Message: "Invalid login credentials", Status: http.StatusBadRequest}
}

// mockLabService はLabServiceInterfaceのモック。ストア障害の再現に使う。
type mockLabService struct {
	listFn   func(ctx context.Context, userID string, params model.ListParams) (*model.LabPage, error)
	getFn    func(ctx context.Context, userID string, id int64) (*model.Lab, error)
	createFn func(ctx context.Context, userID string, in model.LabInput) (*model.Lab, error)
	updateFn func(ctx context.Context, userID string, id int64, patch model.LabPatch) (*model.Lab, error)
	deleteFn func(ctx context.Context, userID string, id int64) error
}

func (m *mockLabService) List(ctx context.Context, userID string, params model.ListParams) (*model.LabPage, error) {
	return m.listFn(ctx, userID, params)
}

func (m *mockLabService) Get(ctx context.Context, userID string, id int64) (*model.Lab, error) {
	return m.getFn(ctx, userID, id)
}

func (m *mockLabService) Create(ctx context.Context, userID string, in model.LabInput) (*model.Lab, error) {
	return m.createFn(ctx, userID, in)
}

func (m *mockLabService) Update(ctx context.Context, userID string, id int64, patch model.LabPatch) (*model.Lab, error) {
	return m.updateFn(ctx, userID, id, patch)
}

func (m *mockLabService) Delete(ctx context.Context, userID string, id int64) error {
	return m.deleteFn(ctx, userID, id)
}

// --- テスト用ルーター ---

type testEnv struct {
	router   http.Handler
	issuer   *auth.TokenIssuer
	provider *mockProvider
	repo     *memLabRepo
	stats    *metrics.Collector
}

type testOption func(*RouterDeps)

func withEnv(env string) testOption {
	return func(d *RouterDeps) { d.Env = env }
}

func withLabService(s LabServiceInterface) testOption {
	return func(d *RouterDeps) { d.LabService = s }
}

func withPolicies(p ratelimit.Policies) testOption {
	return func(d *RouterDeps) { d.Policies = p }
}

// newTestEnv は本番と同じミドルウェアチェーンを持つルーターを組み立てる。
func newTestEnv(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := ratelimit.NewMemoryStore(time.Minute)
	t.Cleanup(store.Stop)

	reg := prometheus.NewRegistry()
	stats := metrics.NewCollector(reg)
	issuer := auth.NewTokenIssuer(testSecret, time.Hour)
	provider := &mockProvider{}
	repo := &memLabRepo{}

	deps := &RouterDeps{
		Env:            config.EnvTest,
		Version:        "1.2.3",
		AllowedOrigins: []string{"http://localhost:5173"},
		Logger:         logger,
		Responder:      middleware.NewErrorResponder(logger, config.EnvTest),
		Verifier:       issuer,
		RateLimiter:    middleware.NewRateLimiter(store, middleware.RateLimiterConfig{Logger: logger}),
		Policies: ratelimit.NewPolicies(ratelimit.PolicyConfig{
			Window:       time.Minute,
			MaxRequests:  1000,
			MaxAuth:      1000,
			StrictWindow: time.Hour,
			StrictMax:    1000,
			RelaxedMax:   1000,
		}),
		Sanitizer:   security.NewSanitizer(),
		Stats:       stats,
		Gatherer:    reg,
		AuthService: auth.NewService(provider, issuer),
		LabService:  lab.NewService(repo),
	}
	for _, opt := range opts {
		opt(deps)
	}
	if deps.Env != config.EnvTest {
		deps.Responder = middleware.NewErrorResponder(logger, deps.Env)
	}

	return &testEnv{
		router:   NewRouter(deps),
		issuer:   issuer,
		provider: provider,
		repo:     repo,
		stats:    stats,
	}
}

// token はuserIDのセッショントークンを発行する。
func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := e.issuer.Issue(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return tok
}

// do はリクエストを送信する。bodyがnilでなければJSONにエンコードする。
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createLab はラボを作成し、作成されたラボを返す。
func (e *testEnv) createLab(t *testing.T, token, title, description string) model.Lab {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/labs", token, map[string]any{"title": title, "description": description})
	if w.Code != http.StatusCreated {
		t.Fatalf("create lab: status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data model.Lab `json:"data"`
	}
	decode(t, w, &resp)
	return resp.Data
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

// errorBody はエラーレスポンスの主要フィールド。
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   struct {
		Message    string `json:"message"`
		Code       string `json:"code"`
		RetryAfter int    `json:"retryAfter"`
		Stack      string `json:"stack"`
	} `json:"error"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Path      string `json:"path"`
	Method    string `json:"method"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	decode(t, w, &body)
	return body
}

func newRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

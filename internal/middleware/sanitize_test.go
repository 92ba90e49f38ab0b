package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/scriptlabs/internal/config"
	"github.com/hitoshi/scriptlabs/internal/security"
)

func newSanitizeHandler(t *testing.T, maxBody int64, next http.Handler) http.Handler {
	t.Helper()
	responder := NewErrorResponder(slog.New(slog.NewJSONHandler(io.Discard, nil)), config.EnvTest)
	return NewSanitizeMiddleware(security.NewSanitizer(), maxBody, responder)(next)
}

func TestSanitizeMiddleware_CleansJSONBody(t *testing.T) {
	var gotBody map[string]any
	var gotRaw string
	handler := newSanitizeHandler(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = BodyFromContext(r.Context())
		raw, _ := io.ReadAll(r.Body)
		gotRaw = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"title":"<script>alert(1)</script>Clean","description":"  <b>bold</b> text ","meta":{"tags":["<i>x</i>"],"n":3}}`
	req := httptest.NewRequest(http.MethodPost, "/api/labs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotBody["title"] != "Clean" {
		t.Errorf("title = %q, want Clean", gotBody["title"])
	}
	if gotBody["description"] != "bold text" {
		t.Errorf("description = %q, want %q", gotBody["description"], "bold text")
	}
	meta := gotBody["meta"].(map[string]any)
	if tags := meta["tags"].([]any); tags[0] != "x" {
		t.Errorf("nested tag = %v, want x", tags[0])
	}
	if meta["n"] != 3.0 {
		t.Errorf("number should pass through, got %v", meta["n"])
	}
	if strings.Contains(gotRaw, "script") {
		t.Errorf("r.Body should be replaced with sanitized JSON, got %s", gotRaw)
	}
}

func TestSanitizeMiddleware_CleansQuery(t *testing.T) {
	var gotSearch string
	handler := newSanitizeHandler(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSearch = r.URL.Query().Get("search")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/labs?search=%3Cscript%3Ex%3C%2Fscript%3Echem&page=2", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotSearch != "chem" {
		t.Errorf("search = %q, want chem", gotSearch)
	}
}

func TestSanitizeMiddleware_InvalidJSON(t *testing.T) {
	called := false
	handler := newSanitizeHandler(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/labs", strings.NewReader(`{"title":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if called {
		t.Error("next handler should not be called")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	body := decodeErrorBody(t, w)
	if body.Error.Code != "INVALID_JSON" {
		t.Errorf("code = %q, want INVALID_JSON", body.Error.Code)
	}
}

func TestSanitizeMiddleware_BodyTooLarge(t *testing.T) {
	handler := newSanitizeHandler(t, 16, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/labs", bytes.NewReader(bytes.Repeat([]byte("a"), 64)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestSanitizeMiddleware_SkipsNonJSONAndEmptyBodies(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
	}{
		{"空ボディ", "", "application/json"},
		{"フォーム送信", "title=<b>x</b>", "application/x-www-form-urlencoded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			handler := newSanitizeHandler(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = BodyFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/labs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if len(got) != 0 {
				t.Errorf("body = %v, want empty", got)
			}
		})
	}
}

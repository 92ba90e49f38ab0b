package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("未指定なら生成する", func(t *testing.T) {
		var ctxID string
		handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxID = RequestIDFromContext(r.Context())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		got := w.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("X-Request-ID = %q, want UUID", got)
		}
		if ctxID != got {
			t.Errorf("context id = %q, header = %q", ctxID, got)
		}
	})

	t.Run("指定があれば引き継ぐ", func(t *testing.T) {
		handler := NewRequestIDMiddleware()(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
			t.Errorf("X-Request-ID = %q, want abc-123", got)
		}
	})

	t.Run("長すぎる値は置き換える", func(t *testing.T) {
		handler := NewRequestIDMiddleware()(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); len(got) > 128 {
			t.Errorf("X-Request-ID length = %d", len(got))
		}
	})
}

package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/scriptlabs/internal/config"
)

func TestRecoveryMiddleware_ReturnsEnvelope(t *testing.T) {
	responder := NewErrorResponder(slog.New(slog.NewJSONHandler(io.Discard, nil)), config.EnvTest)
	handler := NewRecoveryMiddleware(responder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected nil")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/labs", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body := decodeErrorBody(t, w)
	if body.Error.Message != "Something went wrong!" {
		t.Errorf("message = %q", body.Error.Message)
	}
	if body.Status != "error" {
		t.Errorf("status = %q, want error", body.Status)
	}
}

func TestRecoveryMiddleware_RepanicsAbortHandler(t *testing.T) {
	responder := NewErrorResponder(slog.New(slog.NewJSONHandler(io.Discard, nil)), config.EnvTest)
	handler := NewRecoveryMiddleware(responder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered = %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

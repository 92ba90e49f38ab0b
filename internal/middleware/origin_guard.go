package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/scriptlabs/internal/model"
)

// NewOriginGuardMiddleware は状態変更メソッド（POST, PUT, PATCH, DELETE）に対し、
// OriginとRefererヘッダーが許可オリジンのいずれかで始まることを検証するミドルウェアを返す。
// ヘッダー自体がないリクエスト（curlなど）は通す。
func NewOriginGuardMiddleware(allowedOrigins []string, responder *ErrorResponder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			referer := r.Header.Get("Referer")
			if !originAllowed(origin, allowedOrigins) || !originAllowed(referer, allowedOrigins) {
				slog.Warn("origin validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
					slog.String("referer", referer),
				)
				responder.Respond(w, r, model.NewAppErrorWithCode("Origin/Referer not allowed", http.StatusForbidden, model.ErrCodeOriginNotAllowed))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isStateChangingMethod はHTTPメソッドが状態を変更しうるかを判定する。
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func originAllowed(value string, allowed []string) bool {
	if value == "" {
		return true
	}
	for _, a := range allowed {
		if a != "" && strings.HasPrefix(value, a) {
			return true
		}
	}
	return false
}

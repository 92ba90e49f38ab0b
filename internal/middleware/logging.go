package middleware

import (
	"log/slog"
	"maps"
	"net/http"
	"time"
)

// redactedFields はボディをログに出す際に伏せるキー。
var redactedFields = []string{"password", "token"}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerから元のResponseWriterを辿れるようにする。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// LoggingConfig はリクエストログの設定。
type LoggingConfig struct {
	// LogBody がtrueの場合、GET以外のリクエストボディをpassword/tokenを伏せて出力する。
	LogBody bool
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、ip、user_agent、user_id（認証済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger, config LoggingConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, meta := withRequestMeta(r.Context())
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
				slog.String("ip", ClientIP(r)),
				slog.String("user_agent", r.UserAgent()),
			}

			if id := RequestIDFromContext(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if meta.userID != "" {
				attrs = append(attrs, slog.String("user_id", meta.userID))
			}
			if config.LogBody && r.Method != http.MethodGet && meta.body != nil {
				attrs = append(attrs, slog.Any("body", redactBody(meta.body)))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", attrs...)
		})
	}
}

// redactBody はトップレベルの機微なキーを伏せたコピーを返す。
func redactBody(body any) any {
	m, ok := body.(map[string]any)
	if !ok {
		return body
	}
	out := maps.Clone(m)
	for _, key := range redactedFields {
		if _, ok := out[key]; ok {
			out[key] = "[REDACTED]"
		}
	}
	return out
}

// NewSecurityLogMiddleware は機微な操作の試行を記録するミドルウェアを返す。
// operationはUSER_LOGINやDELETE_LABなどの操作名。
func NewSecurityLogMiddleware(logger *slog.Logger, operation string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attrs := []any{
				slog.String("operation", operation),
				slog.String("ip", ClientIP(r)),
				slog.String("user_agent", r.UserAgent()),
			}
			if id, ok := IdentityFromContext(r.Context()); ok {
				attrs = append(attrs, slog.String("user_id", id.UserID))
			}
			logger.Info("SECURITY: "+operation+" attempt", attrs...)

			next.ServeHTTP(w, r)
		})
	}
}

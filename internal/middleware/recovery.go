package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/hitoshi/scriptlabs/internal/model"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500の統一エラーレスポンスを返すミドルウェアを生成する。
func NewRecoveryMiddleware(responder *ErrorResponder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandlerはnet/httpが接続中断に使うため再送出する
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := string(debug.Stack())
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", stack),
				)

				appErr := &model.AppError{
					Message:    model.DefaultErrorMessage,
					StatusCode: http.StatusInternalServerError,
					Stack:      stack,
				}
				responder.Respond(w, r, fmt.Errorf("panic: %v: %w", rec, appErr))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const unmatchedRoute = "(unmatched)"

// StatsRecorder はリクエスト統計の記録先。metrics.Collectorが満たす。
type StatsRecorder interface {
	RecordRequest(endpoint string, statusCode int, duration time.Duration)
}

// NewStatsMiddleware はエンドポイントごとのリクエスト数、エラー数、処理時間を記録するミドルウェアを返す。
// エンドポイントは"METHOD ルートパターン"で集計し、パスパラメータごとに分散させない。
func NewStatsMiddleware(recorder StatsRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			recorder.RecordRequest(r.Method+" "+routePattern(r), rec.statusCode, time.Since(start))
		})
	}
}

// routePattern はchiがマッチしたルートパターンを返す。
// 未定義のパスは実パスを使わず1つにまとめ、集計キーが無制限に増えないようにする。
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

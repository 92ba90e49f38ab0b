package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/scriptlabs/internal/model"
	"github.com/hitoshi/scriptlabs/internal/ratelimit"
)

// RateLimiterConfig はレート制限ミドルウェアの設定を保持する。
type RateLimiterConfig struct {
	// LoopbackBypass がtrueの場合、上限を超えたループバックアドレスからのリクエストも通す。
	// リバースプロキシ配下では全リクエストがループバックに見えうるため本番では無効にすること。
	LoopbackBypass bool
	Logger         *slog.Logger
	// StoreErrorLogInterval はストア障害ログの最小間隔。0以下の場合は1分。
	StoreErrorLogInterval time.Duration
}

const defaultStoreErrorLogInterval = time.Minute

// RateLimiter はクライアントIPごとのレート制限ミドルウェアを生成する。
// カウンタ自体はratelimit.Storeが保持する。
type RateLimiter struct {
	store  ratelimit.Store
	config RateLimiterConfig

	// ストア障害中は全リクエストが失敗するため、ログを間引く
	storeErrorLog *rate.Sometimes
	// 間引いた件数
	suppressed atomic.Int64
}

// NewRateLimiter は新しいRateLimiterを生成する。
func NewRateLimiter(store ratelimit.Store, config RateLimiterConfig) *RateLimiter {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	interval := config.StoreErrorLogInterval
	if interval <= 0 {
		interval = defaultStoreErrorLogInterval
	}
	return &RateLimiter{
		store:         store,
		config:        config,
		storeErrorLog: &rate.Sometimes{First: 1, Interval: interval},
	}
}

// Middleware は指定ポリシーのレート制限ミドルウェアを返す。
// RateLimit-Limit/Remaining/Resetヘッダーを常に付与し、超過時は429を返す。
func (rl *RateLimiter) Middleware(policy ratelimit.Policy) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r)

			res, err := rl.store.Allow(r.Context(), policy, key)
			if err != nil {
				// ストア障害時はリクエストを止めない
				rl.logStoreError(policy, err)
				next.ServeHTTP(w, r)
				return
			}

			if res.Limit > 0 {
				resetSec := ceilSeconds(res.ResetAfter)
				w.Header().Set("RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("RateLimit-Reset", strconv.Itoa(resetSec))
			}

			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if rl.config.LoopbackBypass && isLoopback(key) {
				rl.config.Logger.Warn("rate limit bypass",
					slog.String("ip", key),
					slog.String("path", r.URL.Path),
					slog.String("policy", policy.Name),
				)
				next.ServeHTTP(w, r)
				return
			}

			rl.config.Logger.Warn("rate limit exceeded",
				slog.String("ip", key),
				slog.String("path", r.URL.Path),
				slog.String("policy", policy.Name),
			)
			writeRateLimitResponse(w, policy, res)
		})
	}
}

// logStoreError はストア障害をStoreErrorLogIntervalに1回だけ記録する。
// 記録しなかった件数は次のログのsuppressedに含める。
func (rl *RateLimiter) logStoreError(policy ratelimit.Policy, err error) {
	logged := false
	rl.storeErrorLog.Do(func() {
		logged = true
		rl.config.Logger.Error("rate limit store failed",
			slog.String("policy", policy.Name),
			slog.String("error", err.Error()),
			slog.Int64("suppressed", rl.suppressed.Swap(0)),
		)
	})
	if !logged {
		rl.suppressed.Add(1)
	}
}

// writeRateLimitResponse は429レスポンスを書き込む。
// ボディのretryAfterはポリシーの時間窓（秒）、Retry-Afterヘッダーは枠が回復するまでの秒数。
func writeRateLimitResponse(w http.ResponseWriter, policy ratelimit.Policy, res ratelimit.Result) {
	retryAfterSec := ceilSeconds(res.ResetAfter)
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))

	WriteJSON(w, http.StatusTooManyRequests, ErrorResponseBody{
		Success: false,
		Error: ErrorDetail{
			Message:    policy.Message,
			Code:       model.ErrCodeRateLimitExceeded,
			RetryAfter: int(math.Round(policy.Window.Seconds())),
		},
		Timestamp: Timestamp(),
	})
}

// ClientIP はレート制限のキーとなるクライアントIPを返す。
// X-Forwarded-Forがあれば先頭のアドレス、なければ接続元アドレスを使う。
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isLoopback は::1や::ffff:127.0.0.1を含むループバックアドレスかを判定する。
func isLoopback(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

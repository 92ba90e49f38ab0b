package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/scriptlabs/internal/config"
	"github.com/hitoshi/scriptlabs/internal/metrics"
	"github.com/hitoshi/scriptlabs/internal/middleware"
	"github.com/hitoshi/scriptlabs/internal/ratelimit"
	"github.com/hitoshi/scriptlabs/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Env            string
	Version        string
	AllowedOrigins []string
	// 開発環境で非GETリクエストのボディをログに出す
	LogBody bool
	Logger  *slog.Logger

	// ミドルウェア依存
	Responder   *middleware.ErrorResponder
	Verifier    middleware.TokenVerifier
	RateLimiter *middleware.RateLimiter
	Policies    ratelimit.Policies
	Sanitizer   *security.Sanitizer
	Stats       *metrics.Collector
	// nilなら/metricsを公開しない
	Gatherer prometheus.Gatherer

	AuthService AuthServiceInterface
	LabService  LabServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Stats → Recovery → SecurityHeaders → CORS → OriginGuard → Sanitize
//
// /api配下には全体のレート制限、/api/labs配下には認証ミドルウェアが加わる。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, middleware.LoggingConfig{LogBody: deps.LogBody}))
	r.Use(middleware.NewStatsMiddleware(deps.Stats))
	r.Use(middleware.NewRecoveryMiddleware(deps.Responder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins))
	r.Use(middleware.NewOriginGuardMiddleware(deps.AllowedOrigins, deps.Responder))
	r.Use(middleware.NewSanitizeMiddleware(deps.Sanitizer, middleware.DefaultMaxBodyBytes, deps.Responder))

	// サブルーターに引き継がせるため、ルート定義より前に設定する
	r.NotFound(notFound(deps.Responder))
	r.MethodNotAllowed(notFound(deps.Responder))

	authHandler := NewAuthHandler(deps.AuthService, deps.Responder)
	labHandler := NewLabHandler(deps.LabService, deps.Responder)
	requireAuth := middleware.NewAuthMiddleware(deps.Verifier)
	securityLog := func(operation string) func(http.Handler) http.Handler {
		return middleware.NewSecurityLogMiddleware(logger, operation)
	}

	r.With(deps.RateLimiter.Middleware(deps.Policies.Relaxed)).
		Get("/health", Health(deps.Version, deps.Env))

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware(deps.Policies.API))

		r.Route("/auth", func(r chi.Router) {
			r.With(
				deps.RateLimiter.Middleware(deps.Policies.Strict),
				securityLog("USER_REGISTRATION"),
			).Post("/register", authHandler.Register)
			r.With(
				deps.RateLimiter.Middleware(deps.Policies.Auth),
				securityLog("USER_LOGIN"),
			).Post("/login", authHandler.Login)
			r.With(securityLog("USER_LOGOUT")).Post("/logout", authHandler.Logout)

			r.With(requireAuth).Get("/me", authHandler.Me)
			r.With(requireAuth).Post("/verify-token", authHandler.VerifyToken)
		})

		r.Route("/labs", func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/", labHandler.List)
			r.Get("/search", labHandler.Search)
			r.With(securityLog("CREATE_LAB")).Post("/", labHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", labHandler.Get)
				r.With(securityLog("UPDATE_LAB")).Put("/", labHandler.Update)
				r.With(securityLog("DELETE_LAB")).Delete("/", labHandler.Delete)
			})
		})

		if deps.Env == config.EnvDevelopment {
			r.Get("/stats", Stats(deps.Stats))
		}
	})

	return r
}

// Package app は設定の読み込みから依存関係の組み立て、サーバーのライフサイクルまでを管理する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/scriptlabs/internal/auth"
	"github.com/hitoshi/scriptlabs/internal/config"
	"github.com/hitoshi/scriptlabs/internal/database"
	"github.com/hitoshi/scriptlabs/internal/handler"
	"github.com/hitoshi/scriptlabs/internal/lab"
	"github.com/hitoshi/scriptlabs/internal/logger"
	"github.com/hitoshi/scriptlabs/internal/metrics"
	"github.com/hitoshi/scriptlabs/internal/middleware"
	"github.com/hitoshi/scriptlabs/internal/ratelimit"
	"github.com/hitoshi/scriptlabs/internal/repository"
	"github.com/hitoshi/scriptlabs/internal/security"
)

const (
	shutdownTimeout     = 30 * time.Second
	rateLimitGCInterval = time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、実行環境に応じたレベルでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込みの失敗もJSONで出力できるよう先にログを初期化する
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	l := logger.SetupDefault(w, logger.LevelForEnv(cfg.Env))
	return cfg, l, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, l, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	l.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.Env),
		slog.String("port", cfg.Port),
		slog.String("version", cfg.Version),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, l)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, l)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.Options{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxOpenConns / 2,
		ConnMaxLifetime: 30 * time.Minute,
		RequireSSL:      cfg.DatabaseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	l.Info("database connection established")

	// 2. レート制限ストア
	store, closeStore, err := newRateLimitStore(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "scriptlabs"),
	)

	// 4. ルーター
	router := buildHandler(cfg, db, store, reg, l)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return serve(ctx, server, l)
}

// serve はサーバーを起動し、ctxのキャンセルでグレースフルシャットダウンする。
// Listenに失敗した場合はそのエラーを返す。
func serve(ctx context.Context, server *http.Server, l *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	l.Info("API server stopped gracefully")
	return nil
}

// buildHandler はサービスとミドルウェアを組み立ててルーターを返す。
// DBへの接続はリクエスト処理時まで行わない。
func buildHandler(cfg *config.Config, db *sql.DB, store ratelimit.Store, reg *prometheus.Registry, l *slog.Logger) http.Handler {
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiresIn)
	provider := auth.NewSupabaseProvider(auth.SupabaseConfig{
		URL:     cfg.SupabaseURL,
		AnonKey: cfg.SupabaseAnonKey,
	})

	labRepo := repository.NewPostgresLabRepo(db)

	if cfg.RateLimit.LoopbackBypass && cfg.IsProduction() {
		l.Warn("rate limit loopback bypass is enabled in production")
	}

	return handler.NewRouter(&handler.RouterDeps{
		Env:            cfg.Env,
		Version:        cfg.Version,
		AllowedOrigins: cfg.AllowedOrigins(),
		LogBody:        cfg.IsDevelopment(),
		Logger:         l,

		Responder: middleware.NewErrorResponder(l, cfg.Env),
		Verifier:  issuer,
		RateLimiter: middleware.NewRateLimiter(store, middleware.RateLimiterConfig{
			LoopbackBypass: cfg.RateLimit.LoopbackBypass,
			Logger:         l,
		}),
		Policies: ratelimit.NewPolicies(ratelimit.PolicyConfig{
			Window:       cfg.RateLimit.Window,
			MaxRequests:  cfg.RateLimit.MaxRequests,
			MaxAuth:      cfg.RateLimit.MaxAuth,
			StrictWindow: cfg.RateLimit.StrictWindow,
			StrictMax:    cfg.RateLimit.StrictMax,
			RelaxedMax:   cfg.RateLimit.RelaxedMax,
		}),
		Sanitizer: security.NewSanitizer(),
		Stats:     metrics.NewCollector(reg),
		Gatherer:  reg,

		AuthService: auth.NewService(provider, issuer),
		LabService:  lab.NewService(labRepo),
	})
}

// newRateLimitStore はREDIS_URLが設定されていればRedis、なければプロセス内メモリのストアを返す。
// 戻り値のcloseは終了時に呼び出す。
func newRateLimitStore(ctx context.Context, cfg *config.Config, l *slog.Logger) (ratelimit.Store, func(), error) {
	if cfg.RedisURL == "" {
		store := ratelimit.NewMemoryStore(rateLimitGCInterval)
		l.Info("rate limit store: memory")
		return store, store.Stop, nil
	}

	client, err := ratelimit.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open rate limit store: %w", err)
	}
	l.Info("rate limit store: redis", slog.String("redis_url", maskURL(cfg.RedisURL)))
	return ratelimit.NewRedisStore(client), func() { client.Close() }, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, l *slog.Logger) error {
	l.Info("running database migrations",
		slog.String("database_url", maskURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	l.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskURL は接続URLのパスワードを伏せる。解析できない場合は全体を伏せる。
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// defaultAllowedOrigins はCORS_ALLOWED_ORIGINS未設定時の許可オリジン。
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5173",
}

// RateLimitConfig はレート制限の閾値を保持する。
type RateLimitConfig struct {
	Window         time.Duration
	MaxRequests    int
	MaxAuth        int
	StrictWindow   time.Duration
	StrictMax      int
	RelaxedMax     int
	LoopbackBypass bool
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	Port    string
	Env     string
	Version string

	// Database
	DatabaseURL          string
	DatabaseSSL          bool
	DatabaseMaxOpenConns int

	// JWT
	JWTSecret    string
	JWTExpiresIn time.Duration

	// CORS
	CORSAllowedOrigins []string
	FrontendURL        string

	// Supabase
	SupabaseURL     string
	SupabaseAnonKey string

	// Rate Limit
	RateLimit RateLimitConfig
	RedisURL  string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はすべての不足名を含むエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load() // .envがなくてもよい

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.SupabaseURL = os.Getenv("SUPABASE_URL")
	if cfg.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	if cfg.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.Env = getEnvString("APP_ENV", EnvDevelopment)
	cfg.Port = getEnvString("PORT", "3000")
	cfg.Version = getEnvString("APP_VERSION", "1.0.0")
	cfg.DatabaseSSL = cfg.Env == EnvProduction
	cfg.DatabaseMaxOpenConns = getEnvInt("DATABASE_MAX_OPEN_CONNS", 10)
	cfg.JWTExpiresIn = getEnvDuration("JWT_EXPIRES_IN", 24*time.Hour)
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins)
	cfg.FrontendURL = getEnvString("FRONTEND_URL", "")
	cfg.RedisURL = getEnvString("REDIS_URL", "")

	dev := cfg.Env == EnvDevelopment
	cfg.RateLimit = RateLimitConfig{
		Window:         getEnvDuration("RATE_LIMIT_WINDOW", pick(dev, time.Minute, 15*time.Minute)),
		MaxRequests:    getEnvInt("RATE_LIMIT_MAX", pick(dev, 200, 100)),
		MaxAuth:        getEnvInt("RATE_LIMIT_AUTH_MAX", pick(dev, 50, 5)),
		StrictWindow:   getEnvDuration("RATE_LIMIT_STRICT_WINDOW", time.Hour),
		StrictMax:      getEnvInt("RATE_LIMIT_STRICT_MAX", pick(dev, 20, 3)),
		RelaxedMax:     getEnvInt("RATE_LIMIT_RELAXED_MAX", pick(dev, 500, 100)),
		LoopbackBypass: getEnvBool("RATE_LIMIT_LOOPBACK_BYPASS", dev),
	}

	return cfg, nil
}

// IsDevelopment は開発モードかを返す。
func (c *Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

// IsProduction は本番モードかを返す。
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// IsTest はテストモードかを返す。
func (c *Config) IsTest() bool { return c.Env == EnvTest }

// AllowedOrigins はCORSとOrigin/Referer検証で許可するオリジン一覧を返す。
// FRONTEND_URLが設定されていれば末尾に加える。
func (c *Config) AllowedOrigins() []string {
	origins := make([]string, 0, len(c.CORSAllowedOrigins)+1)
	origins = append(origins, c.CORSAllowedOrigins...)
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	return origins
}

func pick[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvDuration はtime.ParseDuration形式に加えて"7d"のような日数表記も受け付ける。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return defaultVal
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

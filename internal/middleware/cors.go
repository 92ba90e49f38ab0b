package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// NewCORSMiddleware は許可オリジンのリストに対するCORSミドルウェアを返す。
// credentials送信と共存するため、ワイルドカード(*)は使用しない。
// プリフライトリクエストはgo-chi/corsが応答し、後続のハンドラーには渡さない。
func NewCORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/hitoshi/scriptlabs/internal/auth"
	"github.com/hitoshi/scriptlabs/internal/model"
)

// TokenVerifier はベアラートークンの検証に必要なインターフェース。
// auth.TokenIssuerが満たす。
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// 呼び出し元情報をリクエストコンテキストに注入するミドルウェアを返す。
// 失敗時は理由によらず固定文言の401を返し、トークンやライブラリのエラーは返さない。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				writeUnauthorized(w, "No token provided", model.ErrCodeNoToken)
				return
			}

			// スキームは大文字小文字を区別せず、連続した空白も許容する
			parts := strings.Fields(header)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeUnauthorized(w, "Invalid token format", model.ErrCodeInvalidFormat)
				return
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				writeUnauthorized(w, "Invalid token", model.ErrCodeInvalidToken)
				return
			}

			id := model.Identity{
				UserID: claims.UserID,
				Email:  claims.Email,
			}
			if claims.ExpiresAt != nil {
				id.ExpiresAt = claims.ExpiresAt.Unix()
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message, code string) {
	WriteJSON(w, http.StatusUnauthorized, ErrorResponseBody{
		Message:   message,
		Success:   false,
		Error:     ErrorDetail{Message: message, Code: code},
		Timestamp: Timestamp(),
	})
}

package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/hitoshi/scriptlabs/internal/model"
	"github.com/hitoshi/scriptlabs/internal/security"
)

// DefaultMaxBodyBytes はリクエストボディの上限（10MiB）。
const DefaultMaxBodyBytes int64 = 10 << 20

// NewSanitizeMiddleware はJSONボディとクエリ文字列の全文字列値からHTMLを除去するミドルウェアを返す。
// デコード済みのボディはBodyFromContextで取得でき、r.Bodyもサニタイズ後の内容に置き換える。
// 不正なJSONは400、上限超過は413で応答する。
func NewSanitizeMiddleware(s *security.Sanitizer, maxBodyBytes int64, responder *ErrorResponder) func(next http.Handler) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery != "" {
				r.URL.RawQuery = s.SanitizeQuery(r.URL.Query()).Encode()
			}

			if r.Body == nil || r.Body == http.NoBody || !isJSONContent(r) {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				var maxBytesErr *http.MaxBytesError
				if errors.As(err, &maxBytesErr) {
					responder.Respond(w, r, err)
					return
				}
				responder.Respond(w, r, model.NewInvalidJSONError())
				return
			}
			if len(bytes.TrimSpace(raw)) == 0 {
				r.Body = http.NoBody
				next.ServeHTTP(w, r)
				return
			}

			var body any
			if err := json.Unmarshal(raw, &body); err != nil {
				responder.Respond(w, r, model.NewInvalidJSONError())
				return
			}
			body = s.SanitizeValue(body)

			cleaned, err := json.Marshal(body)
			if err != nil {
				responder.Respond(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(cleaned))
			r.ContentLength = int64(len(cleaned))

			next.ServeHTTP(w, r.WithContext(ContextWithBody(r.Context(), body)))
		})
	}
}

// isJSONContent はContent-TypeがJSON、または未指定かを判定する。
func isJSONContent(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

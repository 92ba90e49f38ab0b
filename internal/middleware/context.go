// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"

	"github.com/hitoshi/scriptlabs/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey  = contextKey("identity")
	bodyContextKey      = contextKey("body")
	requestIDContextKey = contextKey("request_id")
	requestMetaKey      = contextKey("request_meta")
)

// requestMeta は内側のミドルウェアが判明させた情報を外側のログに渡すための入れ物。
// 1リクエストにつき1つ生成され、そのリクエストのゴルーチンからのみ触られる。
type requestMeta struct {
	userID string
	body   any
}

func withRequestMeta(ctx context.Context) (context.Context, *requestMeta) {
	meta := &requestMeta{}
	return context.WithValue(ctx, requestMetaKey, meta), meta
}

func requestMetaFrom(ctx context.Context) *requestMeta {
	meta, _ := ctx.Value(requestMetaKey).(*requestMeta)
	return meta
}

// IdentityFromContext は認証ミドルウェアが注入した呼び出し元情報を取得する。
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || id.UserID == "" {
		return model.Identity{}, false
	}
	return id, true
}

// ContextWithIdentity はコンテキストに呼び出し元情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, id model.Identity) context.Context {
	if meta := requestMetaFrom(ctx); meta != nil {
		meta.userID = id.UserID
	}
	return context.WithValue(ctx, identityContextKey, id)
}

// BodyFromContext はサニタイズ済みのJSONボディを取得する。
// ボディがない、またはJSONオブジェクトでない場合は空のmapを返す。
func BodyFromContext(ctx context.Context) map[string]any {
	if body, ok := ctx.Value(bodyContextKey).(map[string]any); ok {
		return body
	}
	return map[string]any{}
}

// ContextWithBody はコンテキストにデコード済みのボディを注入する。
func ContextWithBody(ctx context.Context, body any) context.Context {
	if meta := requestMetaFrom(ctx); meta != nil {
		meta.body = body
	}
	return context.WithValue(ctx, bodyContextKey, body)
}

// RequestIDFromContext はリクエストIDを取得する。未設定なら空文字。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

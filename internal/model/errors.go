// Package model はドメインモデルとエラー分類を定義する。
package model

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// 定義済みエラーコード
const (
	ErrCodeNoToken           = "NO_TOKEN"
	ErrCodeInvalidFormat     = "INVALID_FORMAT"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidJSON       = "INVALID_JSON"
	ErrCodeLabNotFound       = "LAB_NOT_FOUND"
	ErrCodeDuplicateLab      = "DUPLICATE_LAB"
	ErrCodeRegistration      = "REGISTRATION_FAILED"
	ErrCodeLogin             = "LOGIN_FAILED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeEndpointNotFound  = "ENDPOINT_NOT_FOUND"
	ErrCodeOriginNotAllowed  = "CSRF_ORIGIN_REFERER"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
)

// DefaultErrorMessage はメッセージを持たないエラーに使う汎用メッセージ。
const DefaultErrorMessage = "Something went wrong!"

// AppError は分類済みの運用エラーを表す。
// HTTPステータスとクライアントに表示してよいメッセージを持つ。
type AppError struct {
	Message    string
	StatusCode int
	Code       string // 任意のエラーコード
	Stack      string // 生成時のスタックトレース（開発モードでのみ返却）
}

// NewAppError はAppErrorを生成する。
func NewAppError(message string, statusCode int) *AppError {
	return &AppError{
		Message:    message,
		StatusCode: statusCode,
		Stack:      string(debug.Stack()),
	}
}

// NewAppErrorWithCode はエラーコード付きのAppErrorを生成する。
func NewAppErrorWithCode(message string, statusCode int, code string) *AppError {
	e := NewAppError(message, statusCode)
	e.Code = code
	return e
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

// Status は4xxなら"fail"、それ以外は"error"を返す。
func (e *AppError) Status() string {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return "fail"
	}
	return "error"
}

// ValidationError は複数フィールドの検証失敗をまとめて保持する。
type ValidationError struct {
	Messages []string
}

// Error はすべての検証メッセージを連結して返す。
func (e *ValidationError) Error() string {
	return "Validation Error: " + strings.Join(e.Messages, ", ")
}

// Add は検証メッセージを追加する。
func (e *ValidationError) Add(msg string) {
	e.Messages = append(e.Messages, msg)
}

// HasErrors は1件以上のメッセージがあるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Messages) > 0
}

// OrNil はメッセージがなければnilを返す。
// 戻り値の型をerrorにしてtyped nilを避ける。
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

// NewLabNotFoundError は取得時のラボ未検出エラーを生成する。
// 存在しない場合と他ユーザー所有の場合を区別しない。
func NewLabNotFoundError() *AppError {
	return NewAppErrorWithCode("lab not found", 404, ErrCodeLabNotFound)
}

// NewLabNotFoundOrUnauthorizedError は更新・削除時のラボ未検出エラーを生成する。
func NewLabNotFoundOrUnauthorizedError() *AppError {
	return NewAppErrorWithCode("lab not found or unauthorized", 404, ErrCodeLabNotFound)
}

// NewDuplicateLabError は同一タイトル・説明のラボが既に存在する場合のエラーを生成する。
func NewDuplicateLabError() *AppError {
	return NewAppErrorWithCode("Lab with this title and description already exists", 409, ErrCodeDuplicateLab)
}

// NewInvalidJSONError はリクエストボディのJSON解析失敗エラーを生成する。
func NewInvalidJSONError() *AppError {
	return NewAppErrorWithCode("Invalid JSON in request body", 400, ErrCodeInvalidJSON)
}

package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/hitoshi/scriptlabs/internal/auth"
	"github.com/hitoshi/scriptlabs/internal/config"
	"github.com/hitoshi/scriptlabs/internal/model"
	"github.com/lib/pq"
)

// timestampLayout はレスポンスのtimestampに使うISO8601形式（ミリ秒、UTC）。
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp は現在時刻をレスポンス用の文字列で返す。
func Timestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

// ErrorDetail はエラーレスポンスのerrorフィールド。
type ErrorDetail struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Stack      string `json:"stack,omitempty"` // 開発モードのみ
	Error      string `json:"error,omitempty"` // 開発モードのみ
}

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	// 認証エラーのみトップレベルにもmessageを持つ
	Message   string      `json:"message,omitempty"`
	Success   bool        `json:"success"`
	Status    string      `json:"status,omitempty"`
	Error     ErrorDetail `json:"error"`
	Timestamp string      `json:"timestamp"`
	Path      string      `json:"path,omitempty"`
	Method    string      `json:"method,omitempty"`
}

// WriteJSON は任意の値をJSONで書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// ErrorResponder はハンドラーから渡されたエラーを分類し、統一フォーマットで応答する。
// 認証とレート制限の定型応答を除き、エラーレスポンスはこの型が生成する。
type ErrorResponder struct {
	logger *slog.Logger
	env    string
}

// NewErrorResponder はErrorResponderを生成する。
// envがdevelopmentならレスポンスにstackとerrorを含め、testならログを出力しない。
func NewErrorResponder(logger *slog.Logger, env string) *ErrorResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorResponder{logger: logger, env: env}
}

// Respond はerrを分類してエラーレスポンスを書き込む。
func (er *ErrorResponder) Respond(w http.ResponseWriter, r *http.Request, err error) {
	appErr := Normalize(err)

	if er.env != config.EnvTest {
		er.log(r, appErr, err)
	}

	body := ErrorResponseBody{
		Success: false,
		Status:  appErr.Status(),
		Error: ErrorDetail{
			Message: appErr.Message,
			Code:    appErr.Code,
		},
		Timestamp: Timestamp(),
		Path:      r.URL.Path,
		Method:    r.Method,
	}

	if er.env == config.EnvDevelopment {
		body.Error.Stack = appErr.Stack
		if body.Error.Stack == "" {
			body.Error.Stack = string(debug.Stack())
		}
		if err != nil {
			body.Error.Error = err.Error()
		}
	}

	WriteJSON(w, appErr.StatusCode, body)
}

func (er *ErrorResponder) log(r *http.Request, appErr *model.AppError, cause error) {
	level := slog.LevelError
	if appErr.StatusCode < 500 {
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", appErr.StatusCode),
		slog.String("message", appErr.Message),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	if er.env == config.EnvDevelopment && appErr.Stack != "" {
		attrs = append(attrs, slog.String("stack", appErr.Stack))
	}

	er.logger.Log(r.Context(), level, "request failed", attrs...)
}

// Normalize は既知のエラー形状を表示用のAppErrorに変換する。
// 分類できないエラーはメッセージを隠して500にする。
func Normalize(err error) *model.AppError {
	if err == nil {
		return model.NewAppError(model.DefaultErrorMessage, http.StatusInternalServerError)
	}

	var appErr *model.AppError
	if errors.As(err, &appErr) {
		if appErr.Message == "" {
			appErr.Message = model.DefaultErrorMessage
		}
		if appErr.StatusCode == 0 {
			appErr.StatusCode = http.StatusInternalServerError
		}
		return appErr
	}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return model.NewAppErrorWithCode(verr.Error(), http.StatusBadRequest, model.ErrCodeValidation)
	}

	// ErrTokenExpiredはErrInvalidTokenより先に判定する
	if errors.Is(err, auth.ErrTokenExpired) {
		return model.NewAppError("Your token has expired! Please log in again.", http.StatusUnauthorized)
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return model.NewAppError("Invalid token. Please log in again!", http.StatusUnauthorized)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return model.NewAppError("Duplicate entry detected", http.StatusBadRequest)
		case "23503": // foreign_key_violation
			return model.NewAppError("Related resource not found", http.StatusBadRequest)
		case "22P02": // invalid_text_representation
			return model.NewAppError("Resource not found", http.StatusNotFound)
		}
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return model.NewAppErrorWithCode("Request entity too large", http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge)
	}

	return model.NewAppError(model.DefaultErrorMessage, http.StatusInternalServerError)
}

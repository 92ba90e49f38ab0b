// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/scriptlabs/internal/auth"
	"github.com/hitoshi/scriptlabs/internal/middleware"
	"github.com/hitoshi/scriptlabs/internal/model"
	"github.com/hitoshi/scriptlabs/internal/validation"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*auth.RegisterResult, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
}

// AuthHandler は登録・ログインとトークン確認のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	responder *middleware.ErrorResponder
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, responder *middleware.ErrorResponder) *AuthHandler {
	return &AuthHandler{
		service:   service,
		responder: responder,
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type registerResponse struct {
	User                 userResponse `json:"user"`
	RequiresConfirmation bool         `json:"requiresConfirmation"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type meResponse struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Authenticated bool   `json:"authenticated"`
}

type verifyTokenResponse struct {
	Valid     bool   `json:"valid"`
	UserID    string `json:"user_id"`
	ExpiresAt any    `json:"expires_at"`
}

// Register はIdPでユーザーを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	creds, err := validation.AuthCredentials(middleware.BodyFromContext(r.Context()))
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}

	res, err := h.service.Register(r.Context(), creds.Email, creds.Password)
	if err != nil {
		var perr *auth.ProviderError
		if errors.As(err, &perr) {
			slog.Warn("registration rejected by identity provider", slog.String("error", perr.Message))
			h.responder.Respond(w, r, model.NewAppErrorWithCode(perr.Message, http.StatusBadRequest, model.ErrCodeRegistration))
			return
		}
		slog.Error("registration failed", slog.String("error", err.Error()))
		h.responder.Respond(w, r, model.NewAppError("Registration endpoint error", http.StatusInternalServerError))
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, successResponse{
		Success: true,
		Message: "User registered successfully",
		Data: registerResponse{
			User:                 userResponse{ID: res.User.ID, Email: res.User.Email},
			RequiresConfirmation: res.RequiresConfirmation,
		},
		Timestamp: middleware.Timestamp(),
	})
}

// Login はIdPでパスワード認証を行い、セッショントークンを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	creds, err := validation.AuthCredentials(middleware.BodyFromContext(r.Context()))
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}

	res, err := h.service.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		var perr *auth.ProviderError
		if errors.As(err, &perr) {
			slog.Warn("login rejected by identity provider", slog.String("error", perr.Message))
			h.responder.Respond(w, r, model.NewAppErrorWithCode(perr.Message, http.StatusUnauthorized, model.ErrCodeLogin))
			return
		}
		slog.Error("login failed", slog.String("error", err.Error()))
		h.responder.Respond(w, r, model.NewAppError("Login endpoint error", http.StatusInternalServerError))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: "Login successful",
		Data: loginResponse{
			Token: res.Token,
			User:  userResponse{ID: res.User.ID, Email: res.User.Email},
		},
		Timestamp: middleware.Timestamp(),
	})
}

// Logout はサーバー側では何もしない。トークンは失効させず、
// IdPのサインアウトはクライアント側で行う。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: "Logout should be handled via Supabase client-side",
		Data: map[string]string{
			"note": "Use Supabase auth.signOut() method on the frontend",
		},
		Timestamp: middleware.Timestamp(),
	})
}

// Me はトークンから復元した呼び出し元情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.responder.Respond(w, r, model.NewAppError("Failed to fetch user info", http.StatusInternalServerError))
		return
	}

	email := id.Email
	if email == "" {
		email = "N/A"
	}

	middleware.WriteJSON(w, http.StatusOK, successResponse{
		Success: true,
		Data: meResponse{
			UserID:        id.UserID,
			Email:         email,
			Authenticated: true,
		},
		Timestamp: middleware.Timestamp(),
	})
}

// VerifyToken は認証ミドルウェアを通過したことをもってトークンが有効であることを返す。
// POST /api/auth/verify-token
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.responder.Respond(w, r, model.NewAppError("Token verification failed", http.StatusUnauthorized))
		return
	}

	var expiresAt any = "N/A"
	if id.ExpiresAt != 0 {
		expiresAt = id.ExpiresAt
	}

	middleware.WriteJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: "Token is valid",
		Data: verifyTokenResponse{
			Valid:     true,
			UserID:    id.UserID,
			ExpiresAt: expiresAt,
		},
		Timestamp: middleware.Timestamp(),
	})
}

// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/fintrack/internal/auth"
	"github.com/hitoshi/fintrack/internal/model"
)

// 成功時のメッセージ
const messageTokenValid = "Token is valid"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.TokenResult, error)
	Login(ctx context.Context, email, password string) (*auth.TokenResult, error)
	ValidateToken(ctx context.Context, token string) (bool, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse はトークン発行結果のAPIレスポンス。
type tokenResponse struct {
	Token     string    `json:"token"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	PartnerID *string   `json:"partnerId"`
	Message   string    `json:"message"`
}

func toTokenResponse(res *auth.TokenResult) tokenResponse {
	return tokenResponse{
		Token:     res.Token,
		Type:      res.Type,
		ExpiresAt: res.ExpiresAt,
		UserID:    res.Account.ID,
		Name:      res.Account.Name,
		Email:     res.Account.Email,
		PartnerID: res.Account.PartnerID,
		Message:   res.Message,
	}
}

// Register はアカウント登録を処理する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTokenResponse(res))
}

// Login はパスワードログインを処理する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenResponse(res))
}

// Validate はAuthorizationヘッダーのトークンを検証する。
// GET /api/auth/validate
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Authorizationヘッダーが不正です"))
		return
	}

	valid, err := h.service.ValidateToken(r.Context(), strings.TrimSpace(token))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !valid {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: messageTokenValid})
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fintrack/internal/model"
	"github.com/hitoshi/fintrack/internal/user"
)

// 成功時のメッセージ
const (
	messagePasswordChanged = "Password changed successfully"
	messageAccountDeleted  = "Account deleted successfully"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, accountID string) (*model.Account, error)
	UpdateProfile(ctx context.Context, accountID string, in user.UpdateProfileInput) (*model.Account, error)
	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
	// Withdraw はパートナー連携を解除したうえでアカウントを削除する。
	Withdraw(ctx context.Context, accountID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type updateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	ID                         string    `json:"id"`
	Name                       string    `json:"name"`
	Email                      string    `json:"email"`
	PartnerID                  *string   `json:"partnerId"`
	PartnerRequestSentTo       *string   `json:"partnerRequestSentTo"`
	PartnerRequestReceivedFrom *string   `json:"partnerRequestReceivedFrom"`
	CreatedAt                  time.Time `json:"createdAt"`
	UpdatedAt                  time.Time `json:"updatedAt"`
}

func toProfileResponse(a *model.Account) profileResponse {
	return profileResponse{
		ID:                         a.ID,
		Name:                       a.Name,
		Email:                      a.Email,
		PartnerID:                  a.PartnerID,
		PartnerRequestSentTo:       a.PartnerRequestSentTo,
		PartnerRequestReceivedFrom: a.PartnerRequestReceivedFrom,
		CreatedAt:                  a.CreatedAt,
		UpdatedAt:                  a.UpdatedAt,
	}
}

// Me は認証済みアカウントのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}
	h.writeProfile(w, r, accountID)
}

// GetByID は指定アカウントのプロフィールを返す。
// GET /api/users/{id}
func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAccountID(w, r); !ok {
		return
	}
	h.writeProfile(w, r, chi.URLParam(r, "id"))
}

func (h *UserHandler) writeProfile(w http.ResponseWriter, r *http.Request, accountID string) {
	account, err := h.service.Profile(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(account))
}

// UpdateMe は名前とメールアドレスを更新する。
// PUT /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.service.UpdateProfile(r.Context(), accountID, user.UpdateProfileInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(account))
}

// ChangePassword はパスワードを変更する。
// POST /api/users/me/change-password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: messagePasswordChanged})
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), accountID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: messageAccountDeleted})
}

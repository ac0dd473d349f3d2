package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/fintrack/internal/model"
)

// PartnerServiceInterface はパートナーハンドラーが必要とするサービスインターフェース。
type PartnerServiceInterface interface {
	SendRequest(ctx context.Context, accountID, targetEmail string) (*model.PartnerResult, error)
	AcceptRequest(ctx context.Context, accountID string) (*model.PartnerResult, error)
	RejectRequest(ctx context.Context, accountID string) (*model.PartnerResult, error)
	CancelRequest(ctx context.Context, accountID string) (*model.PartnerResult, error)
	Unlink(ctx context.Context, accountID string) (*model.PartnerResult, error)
	Status(ctx context.Context, accountID string) (*model.PartnerStatus, error)
}

// PartnerHandler はパートナー連携のHTTPハンドラー。
type PartnerHandler struct {
	service PartnerServiceInterface
}

// NewPartnerHandler はPartnerHandlerを生成する。
func NewPartnerHandler(service PartnerServiceInterface) *PartnerHandler {
	return &PartnerHandler{service: service}
}

type partnerRequestBody struct {
	PartnerEmail string `json:"partnerEmail"`
}

// partnerInfoResponse は相手アカウントの公開情報。
type partnerInfoResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// partnerStatusResponse はパートナー状態のAPIレスポンス。
type partnerStatusResponse struct {
	CurrentPartner    *partnerInfoResponse `json:"currentPartner"`
	OutgoingRequest   *partnerInfoResponse `json:"outgoingRequest"`
	IncomingRequest   *partnerInfoResponse `json:"incomingRequest"`
	HasPartner        bool                 `json:"hasPartner"`
	HasPendingRequest bool                 `json:"hasPendingRequest"`
}

// partnerResultResponse は状態遷移のAPIレスポンス。
type partnerResultResponse struct {
	Message string                `json:"message"`
	Status  partnerStatusResponse `json:"status"`
}

func toPartnerInfoResponse(info *model.PartnerInfo) *partnerInfoResponse {
	if info == nil {
		return nil
	}
	return &partnerInfoResponse{
		ID:        info.ID,
		Name:      info.Name,
		Email:     info.Email,
		CreatedAt: info.CreatedAt,
	}
}

func toPartnerStatusResponse(s model.PartnerStatus) partnerStatusResponse {
	return partnerStatusResponse{
		CurrentPartner:    toPartnerInfoResponse(s.CurrentPartner),
		OutgoingRequest:   toPartnerInfoResponse(s.OutgoingRequest),
		IncomingRequest:   toPartnerInfoResponse(s.IncomingRequest),
		HasPartner:        s.HasPartner,
		HasPendingRequest: s.HasPendingRequest,
	}
}

// SendRequest はメールアドレスで指定した相手にパートナー申請を送る。
// POST /api/partner/request
func (h *PartnerHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	var req partnerRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}

	h.writeResult(w)(h.service.SendRequest(r.Context(), accountID, req.PartnerEmail))
}

// AcceptRequest は受信した申請を承認する。
// POST /api/partner/accept
func (h *PartnerHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.AcceptRequest)
}

// RejectRequest は受信した申請を拒否する。
// POST /api/partner/reject
func (h *PartnerHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.RejectRequest)
}

// CancelRequest は送信した申請を取り消す。
// DELETE /api/partner/request
func (h *PartnerHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.CancelRequest)
}

// Unlink はパートナーとの連携を解除する。
// DELETE /api/partner
func (h *PartnerHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Unlink)
}

// Status は現在のパートナー状態を返す。
// GET /api/partner/status
func (h *PartnerHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPartnerStatusResponse(*status))
}

func (h *PartnerHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, accountID string) (*model.PartnerResult, error),
) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}
	h.writeResult(w)(op(r.Context(), accountID))
}

func (h *PartnerHandler) writeResult(w http.ResponseWriter) func(*model.PartnerResult, error) {
	return func(res *model.PartnerResult, err error) {
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, partnerResultResponse{
			Message: res.Message,
			Status:  toPartnerStatusResponse(res.Status),
		})
	}
}

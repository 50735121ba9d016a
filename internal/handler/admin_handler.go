package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// MemberServiceInterface は管理者向け会員一覧が必要とするサービスインターフェース。
type MemberServiceInterface interface {
	ListMembers(ctx context.Context, tier string) (*membersResponse, error)
}

// AdminHandler は管理者向けのHTTPハンドラー。
// ルーターでmiddleware.RequireAdminの後に配置する。
type AdminHandler struct {
	service MemberServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service MemberServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// ListMembers は会員一覧を返す。
// GET /api/admin/members?tier=ouro
func (h *AdminHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListMembers(r.Context(), r.URL.Query().Get("tier"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/scriptlabs/internal/lab"
	"github.com/hitoshi/scriptlabs/internal/middleware"
	"github.com/hitoshi/scriptlabs/internal/model"
	"github.com/hitoshi/scriptlabs/internal/validation"
	"github.com/lib/pq"
)

// LabServiceInterface はラボハンドラーが必要とするサービスインターフェース。
type LabServiceInterface interface {
	List(ctx context.Context, userID string, params model.ListParams) (*model.LabPage, error)
	Get(ctx context.Context, userID string, id int64) (*model.Lab, error)
	Create(ctx context.Context, userID string, in model.LabInput) (*model.Lab, error)
	Update(ctx context.Context, userID string, id int64, patch model.LabPatch) (*model.Lab, error)
	Delete(ctx context.Context, userID string, id int64) error
}

// LabHandler はラボのCRUDのHTTPハンドラー。
// すべてのルートは認証ミドルウェアの後に配置する。
type LabHandler struct {
	service   LabServiceInterface
	responder *middleware.ErrorResponder
}

// NewLabHandler はLabHandlerを生成する。
func NewLabHandler(service LabServiceInterface, responder *middleware.ErrorResponder) *LabHandler {
	return &LabHandler{
		service:   service,
		responder: responder,
	}
}

// List は呼び出し元のラボ一覧を返す。
// GET /api/labs?search=&page=&limit=&sortBy=&sortOrder=
func (h *LabHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "search", false)
}

// Search はListと同じ意味で、検索語をqで受け取り応答にsearch_queryを含める。
// GET /api/labs/search?q=&page=&limit=
func (h *LabHandler) Search(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "q", true)
}

func (h *LabHandler) list(w http.ResponseWriter, r *http.Request, searchKey string, echoQuery bool) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	params, err := validation.ListQuery(r.URL.Query(), searchKey)
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), id.UserID, params)
	if err != nil {
		h.storeError(w, r, err, "Failed to fetch labs")
		return
	}

	resp := successResponse{
		Success: true,
		Data:    page.Labs,
		Pagination: &pagination{
			Page:       params.Page,
			Limit:      params.Limit,
			Total:      page.Total,
			TotalPages: page.TotalPages(params.Limit),
		},
		Timestamp: middleware.Timestamp(),
	}
	if echoQuery {
		resp.SearchQuery = &params.Search
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Get は呼び出し元が所有するラボを返す。
// GET /api/labs/{id}
func (h *LabHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	labID, err := validation.IDParam(chi.URLParam(r, "id"))
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}

	l, err := h.service.Get(r.Context(), id.UserID, labID)
	if err != nil {
		if errors.Is(err, lab.ErrNotFound) {
			h.responder.Respond(w, r, model.NewLabNotFoundError())
			return
		}
		h.storeError(w, r, err, "Failed to fetch lab")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, successResponse{
		Success:   true,
		Data:      l,
		Timestamp: middleware.Timestamp(),
	})
}

// Create はラボを作成する。
// POST /api/labs
func (h *LabHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	in, err := validation.LabCreate(middleware.BodyFromContext(r.Context()))
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}

	l, err := h.service.Create(r.Context(), id.UserID, in)
	if err != nil {
		if errors.Is(err, lab.ErrDuplicate) {
			h.responder.Respond(w, r, model.NewDuplicateLabError())
			return
		}
		h.storeError(w, r, err, "Failed to add lab")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, successResponse{
		Success:   true,
		Message:   "Lab added successfully",
		Data:      l,
		Timestamp: middleware.Timestamp(),
	})
}

// Update はラボのtitle/descriptionを部分更新する。
// PUT /api/labs/{id}
func (h *LabHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	labID, err := validation.IDParam(chi.URLParam(r, "id"))
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}
	patch, err := validation.LabUpdate(middleware.BodyFromContext(r.Context()))
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}

	l, err := h.service.Update(r.Context(), id.UserID, labID, patch)
	if err != nil {
		if errors.Is(err, lab.ErrNotFound) {
			h.responder.Respond(w, r, model.NewLabNotFoundOrUnauthorizedError())
			return
		}
		h.storeError(w, r, err, "Failed to update lab")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, successResponse{
		Success:   true,
		Message:   "lab updated successfully",
		Data:      l,
		Timestamp: middleware.Timestamp(),
	})
}

// Delete はラボを削除する。
// DELETE /api/labs/{id}
func (h *LabHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	labID, err := validation.IDParam(chi.URLParam(r, "id"))
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}

	if err := h.service.Delete(r.Context(), id.UserID, labID); err != nil {
		if errors.Is(err, lab.ErrNotFound) {
			h.responder.Respond(w, r, model.NewLabNotFoundOrUnauthorizedError())
			return
		}
		h.storeError(w, r, err, "Failed to delete lab")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, successResponse{
		Success:   true,
		Message:   "lab deleted successfully",
		Data:      map[string]int64{"id": labID},
		Timestamp: middleware.Timestamp(),
	})
}

// identity は認証ミドルウェアが注入した呼び出し元を返す。
// ルーティングの設定ミスで未認証のまま到達した場合は401を返す。
func (h *LabHandler) identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.responder.Respond(w, r, model.NewAppErrorWithCode("No token provided", http.StatusUnauthorized, model.ErrCodeNoToken))
		return model.Identity{}, false
	}
	return id, true
}

// storeError はストアのエラーを応答に変換する。
// 一意制約違反などDBが分類できるエラーはそのまま渡し、それ以外は操作ごとの固定文言の500にする。
func (h *LabHandler) storeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "23503", "22P02":
			h.responder.Respond(w, r, err)
			return
		}
	}

	slog.Error(message,
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	h.responder.Respond(w, r, model.NewAppError(message, http.StatusInternalServerError))
}

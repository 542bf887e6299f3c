package session

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mindease/client/internal/middleware"
	"github.com/zhouzirui/mindease/client/internal/service/companion"
	"github.com/zhouzirui/mindease/client/pkg/utils"
)

// Handler 会话生命周期的HTTP处理器
type Handler struct {
	store *companion.Store
}

func New(store *companion.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/start_session", h.handleStart)
	r.Put("/end_session/{sessionID}", h.handleEnd)
	r.Delete("/delete_session/{sessionID}", h.handleDelete)
	r.Get("/get_sessions", h.handleList)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	session := h.store.StartSession(middleware.UserID(r.Context()))
	utils.RespondSuccess(w, http.StatusCreated, "Session started", map[string]string{"session_id": session.ID})
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := h.store.EndSession(middleware.UserID(r.Context()), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "Session ended", nil)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSession(middleware.UserID(r.Context()), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "Session deleted", nil)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.Sessions(middleware.UserID(r.Context()))
	utils.RespondSuccess(w, http.StatusOK, "", map[string]any{"sessions": sessions})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, companion.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, companion.ErrSessionEnded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

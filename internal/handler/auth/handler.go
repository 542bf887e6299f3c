package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/middleware"
	"github.com/zhouzirui/mindease/client/internal/service/companion"
	"github.com/zhouzirui/mindease/client/pkg/utils"
)

// Handler 账号相关的HTTP处理器
type Handler struct {
	store *companion.Store
}

// New 创建账号处理器
func New(store *companion.Store) *Handler {
	return &Handler{store: store}
}

// RegisterPublic 注册无需令牌的路由
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/register", h.handleRegister)
}

// RegisterRoutes 注册需要令牌的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/get_user", h.handleGetUser)
	r.Get("/profile", h.handleProfile)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload api.Credentials
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	auth, err := h.store.Login(payload)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "Login successful", auth)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload api.Registration
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	auth, err := h.store.Register(payload)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondSuccess(w, http.StatusCreated, "Registration successful", auth)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.User(middleware.UserID(r.Context()))
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "", user)
}

// handleProfile 返回 {"user": {...}}，不带 envelope
func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.User(middleware.UserID(r.Context()))
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	user.UserID = ""
	utils.RespondJSON(w, http.StatusOK, map[string]api.User{"user": user})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, companion.ErrInvalidCredentials), errors.Is(err, companion.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, companion.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, companion.ErrMissingField), errors.Is(err, companion.ErrInvalidEmail), errors.Is(err, companion.ErrPasswordMismatch),
		errors.Is(err, companion.ErrPasswordTooLong):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

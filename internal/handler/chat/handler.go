package chat

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/middleware"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
	"github.com/zhouzirui/mindease/client/internal/service/companion"
	"github.com/zhouzirui/mindease/client/pkg/utils"
)

// maxUpload 限制单次上传的录音大小
const maxUpload = 25 << 20

// Handler 聊天与分析的HTTP处理器
type Handler struct {
	svc *companion.Service
}

// New 创建聊天处理器
func New(svc *companion.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze", h.handleAnalyze)
	r.Get("/get_chats/{sessionID}", h.handleGetChats)
	r.Get("/get_all_chats", h.handleGetAllChats)
	r.Get("/get_user_chat_history", h.handleChatHistory)
	r.Delete("/clear_chats/{sessionID}", h.handleClearChats)
	r.Get("/audio/{chatID}", h.handleAudio)
	r.Get("/get_mood_history", h.handleMoodHistory)
}

// handleAnalyze 同时接受 JSON 文本与 multipart 录音
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, err := parseAudioRequest(r)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		out, err := h.svc.AnalyzeAudio(r.Context(), userID, req)
		if err != nil {
			utils.RespondError(w, statusFor(err), err.Error())
			return
		}
		utils.RespondSuccess(w, http.StatusOK, "", out)
		return
	}

	var req api.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := h.svc.Analyze(r.Context(), userID, req)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "", out)
}

func parseAudioRequest(r *http.Request) (api.AudioRequest, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return api.AudioRequest{}, errors.New("invalid multipart form")
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		return api.AudioRequest{}, errors.New("audio file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUpload))
	if err != nil {
		return api.AudioRequest{}, errors.New("failed to read audio")
	}

	req := api.AudioRequest{
		SessionID: r.FormValue("session_id"),
		WAV:       data,
		Language:  r.FormValue("language"),
	}
	if raw := strings.TrimSpace(r.FormValue("conversation_history")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.ConversationHistory); err != nil {
			return api.AudioRequest{}, errors.New("invalid conversation_history")
		}
	}
	return req, nil
}

func (h *Handler) handleGetChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.svc.Store().Chats(middleware.UserID(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "", map[string][]chat.Record{"chats": chats})
}

func (h *Handler) handleGetAllChats(w http.ResponseWriter, r *http.Request) {
	chats := h.svc.Store().AllChats(middleware.UserID(r.Context()), false)
	utils.RespondSuccess(w, http.StatusOK, "", map[string][]chat.Record{"chats": chats})
}

func (h *Handler) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	chats := h.svc.Store().AllChats(middleware.UserID(r.Context()), true)
	utils.RespondSuccess(w, http.StatusOK, "", map[string][]chat.Record{"chat_history": chats})
}

func (h *Handler) handleClearChats(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Store().ClearChats(middleware.UserID(r.Context()), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "Chats cleared", nil)
}

// handleAudio 返回原始 WAV 字节
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Store().Audio(middleware.UserID(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleMoodHistory(w http.ResponseWriter, r *http.Request) {
	history := h.svc.Store().MoodHistory(middleware.UserID(r.Context()))
	utils.RespondSuccess(w, http.StatusOK, "", map[string][]chat.MoodEntry{"mood_history": history})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, companion.ErrSessionNotFound), errors.Is(err, companion.ErrChatNotFound), errors.Is(err, companion.ErrNoAudio):
		return http.StatusNotFound
	case errors.Is(err, companion.ErrSessionEnded):
		return http.StatusConflict
	case errors.Is(err, companion.ErrMissingField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

package utils

import (
	"encoding/json"
	"net/http"

	"github.com/zhouzirui/mindease/client/internal/observability"
)

// Envelope 是替身后端所有 JSON 响应的统一外层
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger := observability.Component("http")
		logger.Warn().Err(err).Msg("failed to encode response")
	}
}

// RespondSuccess 发送 status=success 的响应
func RespondSuccess(w http.ResponseWriter, status int, message string, data any) {
	RespondJSON(w, status, Envelope{Status: "success", Message: message, Data: data})
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Envelope{Status: "error", Message: message})
}

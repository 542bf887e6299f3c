package api

import (
	"time"

	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Credentials 是登录凭据。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration 对应注册表单。
type Registration struct {
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	DateOfBirth     string `json:"dateOfBirth,omitempty"`
	Gender          string `json:"gender,omitempty"`
}

// Auth 是登录或注册成功后返回的令牌。
type Auth struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

// User 是 /get_user 与 /profile 返回的用户资料。
type User struct {
	UserID      string `json:"user_id,omitempty"`
	FullName    string `json:"full_name"`
	Email       string `json:"email,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Gender      string `json:"gender,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// HistoryTurn 是随分析请求发送的 conversation_history 中的一条。
// Role 为 "user" 或 "assistant"。
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnalyzeRequest 是文本分析请求。
type AnalyzeRequest struct {
	SessionID           string        `json:"session_id"`
	Message             string        `json:"message"`
	Language            string        `json:"language,omitempty"`
	ConversationHistory []HistoryTurn `json:"conversation_history"`
}

// AudioRequest 是语音分析请求，WAV 以 multipart 上传。
type AudioRequest struct {
	SessionID           string
	WAV                 []byte
	Language            string
	ConversationHistory []HistoryTurn
}

// Analysis 是后端对一轮输入的分析结果。
type Analysis struct {
	ChatID    string          `json:"chat_id,omitempty"`
	Message   string          `json:"message"`
	Response  string          `json:"response"`
	MoodLabel string          `json:"mood_label"`
	SelfHelp  []chat.Resource `json:"self_help"`
}

// SessionSummary 是 /get_sessions 返回的一项。
type SessionSummary struct {
	SessionID string     `json:"session_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

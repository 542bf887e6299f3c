package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

// Login 用邮箱密码换取访问令牌。
func (c *Client) Login(ctx context.Context, creds Credentials) (Auth, error) {
	return call[Auth](ctx, c, "login", http.MethodPost, "/login", creds)
}

// Register 注册新用户，成功后同样返回令牌。
func (c *Client) Register(ctx context.Context, reg Registration) (Auth, error) {
	return call[Auth](ctx, c, "register", http.MethodPost, "/register", reg)
}

// StartSession 创建新的会话并返回其 ID。
func (c *Client) StartSession(ctx context.Context) (string, error) {
	data, err := call[struct {
		SessionID string `json:"session_id"`
	}](ctx, c, "start_session", http.MethodPost, "/start_session", struct{}{})
	if err != nil {
		return "", err
	}
	if data.SessionID == "" {
		return "", &NetworkError{Op: "start_session", Err: fmt.Errorf("response carried no session_id")}
	}
	return data.SessionID, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	_, err := call[json.RawMessage](ctx, c, "end_session", http.MethodPut, "/end_session/"+url.PathEscape(sessionID), nil)
	return err
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := call[json.RawMessage](ctx, c, "delete_session", http.MethodDelete, "/delete_session/"+url.PathEscape(sessionID), nil)
	return err
}

// GetSessions 列出用户的所有会话。
func (c *Client) GetSessions(ctx context.Context) ([]SessionSummary, error) {
	data, err := call[struct {
		Sessions []SessionSummary `json:"sessions"`
	}](ctx, c, "get_sessions", http.MethodGet, "/get_sessions", nil)
	return data.Sessions, err
}

// Analyze 提交文本消息。
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []HistoryTurn{}
	}
	return call[Analysis](ctx, c, "analyze", http.MethodPost, "/analyze", req)
}

// AnalyzeAudio 以 multipart 表单提交一段 WAV 录音。
func (c *Client) AnalyzeAudio(ctx context.Context, req AudioRequest) (Analysis, error) {
	const op = "analyze_audio"

	history := req.ConversationHistory
	if history == nil {
		history = []HistoryTurn{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return Analysis{}, fmt.Errorf("%s: encode history: %w", op, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"session_id", req.SessionID},
		{"language", req.Language},
		{"conversation_history", string(historyJSON)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return Analysis{}, fmt.Errorf("%s: %w", op, err)
		}
	}
	part, err := mw.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return Analysis{}, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := part.Write(req.WAV); err != nil {
		return Analysis{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return Analysis{}, fmt.Errorf("%s: %w", op, err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/analyze", &buf, mw.FormDataContentType())
	if err != nil {
		return Analysis{}, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := c.do(op, httpReq)
	if err != nil {
		return Analysis{}, err
	}
	return decodeEnvelope[Analysis](op, raw)
}

// GetChats 返回某个会话的历史记录。
func (c *Client) GetChats(ctx context.Context, sessionID string) ([]chat.Record, error) {
	data, err := call[struct {
		Chats []chat.Record `json:"chats"`
	}](ctx, c, "get_chats", http.MethodGet, "/get_chats/"+url.PathEscape(sessionID), nil)
	return data.Chats, err
}

// GetAllChats 返回用户保存的全部问答记录。
func (c *Client) GetAllChats(ctx context.Context) ([]chat.Record, error) {
	data, err := call[struct {
		Chats []chat.Record `json:"chats"`
	}](ctx, c, "get_all_chats", http.MethodGet, "/get_all_chats", nil)
	return data.Chats, err
}

// GetUserChatHistory 返回跨会话的记录，附带会话开始时间。
func (c *Client) GetUserChatHistory(ctx context.Context) ([]chat.Record, error) {
	data, err := call[struct {
		ChatHistory []chat.Record `json:"chat_history"`
	}](ctx, c, "get_user_chat_history", http.MethodGet, "/get_user_chat_history", nil)
	return data.ChatHistory, err
}

func (c *Client) ClearChats(ctx context.Context, sessionID string) error {
	_, err := call[json.RawMessage](ctx, c, "clear_chats", http.MethodDelete, "/clear_chats/"+url.PathEscape(sessionID), nil)
	return err
}

func (c *Client) GetUser(ctx context.Context) (User, error) {
	return call[User](ctx, c, "get_user", http.MethodGet, "/get_user", nil)
}

// Profile 读取 /profile；该接口直接返回 {"user": {...}}，不走 data 包装。
func (c *Client) Profile(ctx context.Context) (User, error) {
	const op = "profile"
	req, err := c.newRequest(ctx, http.MethodGet, "/profile", nil, "")
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := c.do(op, req)
	if err != nil {
		return User{}, err
	}
	var payload struct {
		User *User `json:"user"`
		Data struct {
			User *User `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return User{}, &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	switch {
	case payload.User != nil:
		return *payload.User, nil
	case payload.Data.User != nil:
		return *payload.Data.User, nil
	default:
		return User{}, &NetworkError{Op: op, Err: fmt.Errorf("response carried no user")}
	}
}

// GetMoodHistory 返回用户的情绪历史。
func (c *Client) GetMoodHistory(ctx context.Context) ([]chat.MoodEntry, error) {
	data, err := call[struct {
		MoodHistory []chat.MoodEntry `json:"mood_history"`
	}](ctx, c, "get_mood_history", http.MethodGet, "/get_mood_history", nil)
	return data.MoodHistory, err
}

// FetchAudio 下载某条聊天记录对应的原始音频。
func (c *Client) FetchAudio(ctx context.Context, chatID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/audio/"+url.PathEscape(chatID), nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch_audio: %w", err)
	}
	return c.do("fetch_audio", req)
}

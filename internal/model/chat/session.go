package chat

import "time"

// Session 是替身后端记录的一次会话。
type Session struct {
	ID        string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"start_time"`
	EndedAt   *time.Time `json:"end_time,omitempty"`
}

// Record 是一条问答记录：用户的消息与助手的回复。
type Record struct {
	ChatID    string `json:"chat_id"`
	SessionID string `json:"session_id,omitempty"`
	// SessionStartTime 只在跨会话的历史列表中填写
	SessionStartTime *time.Time `json:"session_start_time,omitempty"`
	Message          string     `json:"message"`
	Response         string     `json:"response"`
	MoodLabel        string     `json:"mood_label,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
	Audio            []byte     `json:"-"`
}

// Resource 是针对某种情绪推荐的自助链接。
type Resource struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// MoodEntry 是情绪历史中的一个点。
type MoodEntry struct {
	MoodLabel string    `json:"mood_label"`
	Timestamp time.Time `json:"timestamp"`
}

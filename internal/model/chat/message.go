package chat

import (
	"strings"
	"time"
)

// Sender 标识一条消息的发送方。
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"

	// legacySenderBot 是旧版本持久化数据里助手一方的取值。
	legacySenderBot Sender = "bot"
)

// NormalizeSender 把持久化或服务端传来的发送方统一为 user / assistant。
func NormalizeSender(raw string) Sender {
	switch Sender(strings.ToLower(strings.TrimSpace(raw))) {
	case SenderUser:
		return SenderUser
	case SenderAssistant, legacySenderBot:
		return SenderAssistant
	default:
		return Sender(raw)
	}
}

// AudioRef 指向一条语音消息的音频：本地录音字节和/或服务端聊天记录 ID，落盘时只保留 ID。
type AudioRef struct {
	RemoteID string `json:"remoteId,omitempty"`
	Local    []byte `json:"-"`
}

// LocalAudio 构造一个只含本地录音的引用。
func LocalAudio(data []byte) *AudioRef {
	ref := &AudioRef{}
	ref.SetLocal(data)
	return ref
}

// RemoteAudio 构造一个指向服务端音频的引用。
func RemoteAudio(chatID string) *AudioRef {
	ref := &AudioRef{}
	ref.SetRemote(chatID)
	return ref
}

// SetLocal 设置本地音频并清除远端引用。
func (a *AudioRef) SetLocal(data []byte) {
	a.Local = data
	a.RemoteID = ""
}

// SetRemote 设置远端引用并丢弃本地音频。
func (a *AudioRef) SetRemote(chatID string) {
	a.RemoteID = chatID
	a.Local = nil
}

// IsLocal 表示音频仍只存在于内存中。
func (a *AudioRef) IsLocal() bool {
	return a != nil && len(a.Local) > 0
}

// Message 是聊天记录里的一轮发言。
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Sender     Sender    `json:"sender"`
	Timestamp  time.Time `json:"timestamp"`
	Audio      *AudioRef `json:"audio,omitempty"`
	MoodLabel  string    `json:"moodLabel,omitempty"`
	RemoteID   string    `json:"remoteId,omitempty"`
	ImageRef   string    `json:"imageRef,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
}

// IsText 判断是否为普通文字消息（不含音频与图片）。
func (m Message) IsText() bool {
	return m.Audio == nil && m.ImageRef == ""
}

// Clone 返回一份不共享音频指针的副本。
func (m Message) Clone() Message {
	out := m
	if m.Audio != nil {
		audio := *m.Audio
		out.Audio = &audio
	}
	return out
}

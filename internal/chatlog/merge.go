package chatlog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

// MergeKey 决定本地消息与服务端消息何时视为同一条。
type MergeKey int

const (
	// MergeKeyTextSenderTimestamp 要求文本、发送方与时间戳都相同。
	MergeKeyTextSenderTimestamp MergeKey = iota
	// MergeKeyTextSender 只比较文本与发送方。
	MergeKeyTextSender
)

// ParseMergeKey 把配置值解析为合并策略。
func ParseMergeKey(raw string) MergeKey {
	if strings.EqualFold(strings.TrimSpace(raw), "text-sender") {
		return MergeKeyTextSender
	}
	return MergeKeyTextSenderTimestamp
}

func (k MergeKey) matches(local, server chat.Message) bool {
	if local.Text != server.Text || local.Sender != server.Sender {
		return false
	}
	// 服务端没给时间戳时只能按文本与发送方匹配
	if k == MergeKeyTextSender || server.Timestamp.IsZero() {
		return true
	}
	return local.Timestamp.Equal(server.Timestamp)
}

func merge(local, server []chat.Message, policy MergeKey, now time.Time) []chat.Message {
	used := make([]bool, len(local))
	out := make([]chat.Message, 0, len(local)+len(server))

	for _, s := range server {
		s.Sender = chat.NormalizeSender(string(s.Sender))
		idx := matchRemote(local, used, s)
		if idx < 0 {
			for i, m := range local {
				if !used[i] && m.RemoteID == "" && policy.matches(m, s) {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			if s.ID == "" {
				s.ID = uuid.NewString()
			}
			if s.Timestamp.IsZero() {
				s.Timestamp = now
			}
			out = append(out, s)
			continue
		}
		used[idx] = true
		out = append(out, preferServer(local[idx], s))
	}

	for i, m := range local {
		if !used[i] {
			out = append(out, m)
		}
	}

	sortByTimestamp(out)
	return out
}

// matchRemote 先按服务端 chat id 配对；同一条记录的问与答共用 id，所以还要比较发送方。
func matchRemote(local []chat.Message, used []bool, server chat.Message) int {
	if server.RemoteID == "" {
		return -1
	}
	for i, m := range local {
		if !used[i] && m.RemoteID == server.RemoteID && m.Sender == server.Sender {
			return i
		}
	}
	return -1
}

// preferServer 以服务端元数据为准，保留本地独有的字段。
func preferServer(local, server chat.Message) chat.Message {
	merged := local
	if server.RemoteID != "" {
		merged.RemoteID = server.RemoteID
	}
	if server.MoodLabel != "" {
		merged.MoodLabel = server.MoodLabel
	}
	if server.Audio != nil && server.Audio.RemoteID != "" {
		merged.Audio = chat.RemoteAudio(server.Audio.RemoteID)
	}
	if server.Transcript != "" {
		merged.Transcript = server.Transcript
	}
	if server.ImageRef != "" {
		merged.ImageRef = server.ImageRef
	}
	if !server.Timestamp.IsZero() {
		merged.Timestamp = server.Timestamp
	}
	return merged
}

// FromServerChats 把服务端的问答记录展开为用户与助手两条消息。
func FromServerChats(records []chat.Record) []chat.Message {
	out := make([]chat.Message, 0, len(records)*2)
	for _, r := range records {
		out = append(out, chat.Message{
			Text:      r.Message,
			Sender:    chat.SenderUser,
			Timestamp: r.Timestamp,
			RemoteID:  r.ChatID,
		})
		out = append(out, chat.Message{
			Text:      r.Response,
			Sender:    chat.SenderAssistant,
			Timestamp: r.Timestamp,
			RemoteID:  r.ChatID,
			MoodLabel: r.MoodLabel,
		})
	}
	return out
}

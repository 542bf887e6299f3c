// Package chatlog 维护按时间排序、持久化到本地存储的聊天记录，并与服务端历史对账。
package chatlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/kvstore"
	"github.com/zhouzirui/mindease/client/internal/model/chat"
)

// ErrMessageNotFound 表示按 ID 找不到消息。
var ErrMessageNotFound = errors.New("chatlog: message not found")

// Options 配置聊天记录。
type Options struct {
	Policy MergeKey
	Now    func() time.Time
	Logger zerolog.Logger
}

// Log 是只追加的聊天记录。每次修改都会整体写回存储。
type Log struct {
	mu       sync.RWMutex
	store    kvstore.Store
	policy   MergeKey
	now      func() time.Time
	log      zerolog.Logger
	messages []chat.Message
}

// Open 从存储加载已保存的记录。
func Open(store kvstore.Store, opts Options) (*Log, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Log{
		store:  store,
		policy: opts.Policy,
		now:    now,
		log:    opts.Logger.With().Str("component", "chatlog").Logger(),
	}

	raw, err := store.Get(kvstore.KeyChatMessages)
	if errors.Is(err, kvstore.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chat messages: %w", err)
	}

	var saved []chat.Message
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		// 损坏的数据不阻止启动，下一次写入会覆盖它
		l.log.Warn().Err(err).Msg("discarding unreadable chat messages")
		return l, nil
	}

	loadedAt := now().UTC()
	for _, msg := range saved {
		l.messages = append(l.messages, l.normalize(msg, loadedAt))
	}
	return l, nil
}

func (l *Log) normalize(msg chat.Message, fallback time.Time) chat.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = fallback
	}
	msg.Sender = chat.NormalizeSender(string(msg.Sender))
	return msg
}

// Append 追加一条消息并持久化，返回补全 ID 与时间戳后的消息及其下标。
func (l *Log) Append(msg chat.Message) (chat.Message, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg = l.normalize(msg, l.now().UTC())
	l.messages = append(l.messages, msg)
	return msg.Clone(), len(l.messages) - 1, l.persistLocked()
}

// Update 就地修改一条消息。
func (l *Log) Update(id string, fn func(*chat.Message)) (chat.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.messages {
		if l.messages[i].ID != id {
			continue
		}
		ts := l.messages[i].Timestamp
		fn(&l.messages[i])
		l.messages[i].ID = id
		l.messages[i].Timestamp = ts
		return l.messages[i].Clone(), l.persistLocked()
	}
	return chat.Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
}

// Messages 返回记录的副本。
func (l *Log) Messages() []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]chat.Message, len(l.messages))
	for i, m := range l.messages {
		out[i] = m.Clone()
	}
	return out
}

// At 返回下标 i 处的消息。
func (l *Log) At(i int) (chat.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i < 0 || i >= len(l.messages) {
		return chat.Message{}, false
	}
	return l.messages[i].Clone(), true
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Merge 把服务端历史并入本地记录，结果按时间稳定排序。重复合并不会产生重复消息。
func (l *Log) Merge(server []chat.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = merge(l.messages, server, l.policy, l.now().UTC())
	return l.persistLocked()
}

// Clear 清空记录并删除持久化的键。
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
	if err := l.store.Remove(kvstore.KeyChatMessages); err != nil {
		return fmt.Errorf("clear chat messages: %w", err)
	}
	return nil
}

func (l *Log) persistLocked() error {
	// json 编码时本地录音字节被忽略，只保留稳定的投影
	if err := kvstore.SetJSON(l.store, kvstore.KeyChatMessages, l.messages); err != nil {
		l.log.Error().Err(err).Msg("persist chat messages")
		return fmt.Errorf("persist chat messages: %w", err)
	}
	return nil
}

func sortByTimestamp(messages []chat.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

// Package kvstore 提供客户端状态的持久化键值存储。
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 固定的持久化键名，沿用原有前端的 localStorage 键。
const (
	KeyChatMessages     = "chatMessages"
	KeyLatestMood       = "latestMood"
	KeySelfHelpResource = "selfHelpResource"
	KeySessionID        = "session_id"
	KeyToken            = "token"
	KeyUserID           = "userId"
	KeyMoodHistory      = "moodHistory"
)

// Keys 列出所有持久化键，登出时整体清理。
var Keys = []string{
	KeyChatMessages,
	KeyLatestMood,
	KeySelfHelpResource,
	KeySessionID,
	KeyToken,
	KeyUserID,
	KeyMoodHistory,
}

// ErrNotFound 表示键不存在。
var ErrNotFound = errors.New("kvstore: key not found")

// Store 是整值替换语义的键值存储。
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// GetJSON 读取并反序列化一个 JSON 值。
func GetJSON(s Store, key string, dst any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON 序列化后整体写入。
func SetJSON(s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, string(data))
}

// GetString 读取字符串，键不存在时返回空串。
func GetString(s Store, key string) (string, error) {
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// RemoveAll 删除给定的全部键，返回遇到的第一个错误。
func RemoveAll(s Store, keys ...string) error {
	var first error
	for _, key := range keys {
		if err := s.Remove(key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

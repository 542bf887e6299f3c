// Package session 管理后端会话 ID 的获取、持久化与结束。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/kvstore"
)

// ErrNoSession 表示尚未建立会话，分析请求应直接失败。
var ErrNoSession = errors.New("session: no active session")

// Backend 是协调器依赖的后端接口。
type Backend interface {
	StartSession(ctx context.Context) (string, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Coordinator 持有当前会话 ID。
type Coordinator struct {
	mu      sync.Mutex
	backend Backend
	store   kvstore.Store
	log     zerolog.Logger
}

// NewCoordinator 创建协调器。
func NewCoordinator(backend Backend, store kvstore.Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		backend: backend,
		store:   store,
		log:     logger.With().Str("component", "session").Logger(),
	}
}

// Ensure 返回已保存的会话 ID，没有时向后端申请并保存。
func (c *Coordinator) Ensure(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id := c.current(); id != "" {
		return id, nil
	}

	id, err := c.backend.StartSession(ctx)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	if err := c.store.Set(kvstore.KeySessionID, id); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	c.log.Info().Str("session_id", id).Msg("session started")
	return id, nil
}

// Current 返回当前会话 ID，没有时为空串。
func (c *Coordinator) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current()
}

// Require 返回当前会话 ID，没有时返回 ErrNoSession。
func (c *Coordinator) Require() (string, error) {
	if id := c.Current(); id != "" {
		return id, nil
	}
	return "", ErrNoSession
}

// End 通知后端结束会话；无论调用是否成功都会清除本地 ID。
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.current()
	if id == "" {
		return nil
	}

	callErr := c.backend.EndSession(ctx, id)
	if err := c.store.Remove(kvstore.KeySessionID); err != nil {
		c.log.Warn().Err(err).Msg("remove session id")
	}
	if callErr != nil {
		c.log.Warn().Err(callErr).Str("session_id", id).Msg("end session failed")
		return fmt.Errorf("end session: %w", callErr)
	}
	c.log.Info().Str("session_id", id).Msg("session ended")
	return nil
}

// Forget 在会话被删除后清除本地 ID，不再通知后端。id 不是当前会话时返回 false。
func (c *Coordinator) Forget(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" || c.current() != id {
		return false, nil
	}
	if err := c.store.Remove(kvstore.KeySessionID); err != nil {
		return true, fmt.Errorf("remove session id: %w", err)
	}
	return true, nil
}

func (c *Coordinator) current() string {
	id, err := kvstore.GetString(c.store, kvstore.KeySessionID)
	if err != nil {
		c.log.Warn().Err(err).Msg("read session id")
		return ""
	}
	return id
}

package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized 表示令牌缺失或被后端拒绝（HTTP 401）。
	ErrUnauthorized = errors.New("api: unauthorized")
	// ErrNetwork 匹配所有传输失败与非 2xx 响应。
	ErrNetwork = errors.New("api: network failure")
)

// StatusError 表示非 2xx 响应，或 status 不是 success 的响应体。
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// NetworkError 包装一次失败的调用。
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrNetwork) 对任意 NetworkError 成立。
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

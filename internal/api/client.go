// Package api 是 MindEase 后端 HTTP 接口的类型化客户端。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/kvstore"
)

// Options 配置客户端行为。
type Options struct {
	// Timeout 为 0 时不设超时。
	Timeout time.Duration
	// OnUnauthorized 在令牌被拒绝并清除后调用。
	OnUnauthorized func()
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
}

// Client 调用后端接口，令牌从 KV 存储中读取。
type Client struct {
	baseURL        string
	http           *http.Client
	store          kvstore.Store
	onUnauthorized func()
	log            zerolog.Logger
}

// New 创建客户端。
func New(baseURL string, store kvstore.Store, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "api").Logger()
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           httpClient,
		store:          store,
		onUnauthorized: opts.OnUnauthorized,
		log:            logger,
	}
}

// Token 返回当前保存的访问令牌。
func (c *Client) Token() string {
	token, err := kvstore.GetString(c.store, kvstore.KeyToken)
	if err != nil {
		c.log.Warn().Err(err).Msg("read token")
	}
	return token
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do 执行请求并返回 2xx 响应体；其余情况转为错误。
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Msg("request failed")
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	c.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request done")

	if resp.StatusCode == http.StatusUnauthorized {
		c.handleUnauthorized()
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &NetworkError{Op: op, Err: &StatusError{Status: resp.StatusCode, Message: envelopeMessage(body)}}
	}
	return body, nil
}

func (c *Client) handleUnauthorized() {
	if err := c.store.Remove(kvstore.KeyToken); err != nil {
		c.log.Warn().Err(err).Msg("remove rejected token")
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func envelopeMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil {
		return strings.TrimSpace(string(body))
	}
	if env.Message != "" {
		return env.Message
	}
	return env.Error
}

// call 发送 JSON 请求并把 envelope.data 解码到 out。
func call[T any](ctx context.Context, c *Client, op, method, path string, in any) (T, error) {
	var zero T

	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return zero, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := c.do(op, req)
	if err != nil {
		return zero, err
	}
	return decodeEnvelope[T](op, raw)
}

func decodeEnvelope[T any](op string, raw []byte) (T, error) {
	var env envelope[T]
	if len(bytes.TrimSpace(raw)) == 0 {
		return env.Data, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env.Data, &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Status != "" && env.Status != "success" {
		return env.Data, &NetworkError{Op: op, Err: &StatusError{Status: http.StatusOK, Message: env.Message}}
	}
	return env.Data, nil
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	// 错误响应体只保留前若干字节，避免把整张图片打进日志
	maxErrorBody = 512
)

// httpBase 是各 HTTP 客户端共享的连接与认证部分。
type httpBase struct {
	endpoint   string
	timeout    time.Duration
	auth       *AuthConfig
	httpClient *http.Client
}

func newHTTPBase(endpoint string) httpBase {
	return httpBase{
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  defaultTimeout,
	}
}

func (b *httpBase) init() {
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: b.timeout}
	}
}

// addAuth 添加认证信息到 HTTP 请求
func (b *httpBase) addAuth(req *http.Request) {
	if b.auth == nil {
		return
	}
	switch b.auth.Type {
	case "basic":
		req.SetBasicAuth(b.auth.Username, b.auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+b.auth.Token)
	case "api_key":
		req.Header.Set("X-API-Key", b.auth.APIKey)
	}
}

// post 发送请求并返回状态码与响应体
func (b *httpBase) post(ctx context.Context, path, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	b.addAuth(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// health 请求 GET {endpoint}/ping
func (b *httpBase) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/ping", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	b.addAuth(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("health check failed: status=%d, body=%s", resp.StatusCode, string(body))
	}
	return nil
}

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}

// retryableStatus 限流与网关类错误视为暂时失败
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type verifyRequest struct {
	Query      []byte   `json:"query"`
	Candidates []string `json:"candidates"`
}

type verifyResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// VerifierClient 是几何校验服务（关键点匹配）的 HTTP 客户端，用于对融合后的候选重排。
//
//	POST {endpoint}/verify
//	{"query": "<base64>", "candidates": ["tiger-001", "tiger-002"]}
//	-> {"scores": {"tiger-001": 0.82, "tiger-002": 0.10}}
//
// 服务端未返回的候选视为没有校验结果。
type VerifierClient struct {
	httpBase
}

// VerifierOption 配置 VerifierClient
type VerifierOption func(*VerifierClient)

// WithVerifierTimeout 设置超时
func WithVerifierTimeout(timeout time.Duration) VerifierOption {
	return func(c *VerifierClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithVerifierAuth 设置认证信息
func WithVerifierAuth(auth *AuthConfig) VerifierOption {
	return func(c *VerifierClient) {
		c.auth = auth
	}
}

// NewVerifierClient 创建校验客户端
func NewVerifierClient(endpoint string, opts ...VerifierOption) *VerifierClient {
	c := &VerifierClient{httpBase: newHTTPBase(endpoint)}
	for _, opt := range opts {
		opt(c)
	}
	c.init()
	return c
}

// Verify 返回每个候选个体的几何校验分数，取值 [0, 1]
func (c *VerifierClient) Verify(ctx context.Context, query []byte, entityIDs []string) (map[string]float64, error) {
	if len(entityIDs) == 0 {
		return map[string]float64{}, nil
	}
	body, err := json.Marshal(verifyRequest{Query: query, Candidates: entityIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	status, data, err := c.post(ctx, "/verify", "application/json", body)
	if err != nil {
		return nil, fmt.Errorf("verifier request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("verifier error: status=%d, body=%s", status, truncateBody(data))
	}
	var resp verifyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unable to parse response: %w", err)
	}
	if resp.Scores == nil {
		resp.Scores = map[string]float64{}
	}
	return resp.Scores, nil
}

// Health 健康检查
func (c *VerifierClient) Health(ctx context.Context) error {
	return c.health(ctx)
}

// Close 关闭连接
func (c *VerifierClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

var _ HealthChecker = (*VerifierClient)(nil)

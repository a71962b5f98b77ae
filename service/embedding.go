package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/observability"
)

// EmbeddingResponse 是 ReID 向量服务的响应格式。
//
//	{"success": true, "embedding": [0.12, ...], "error": null}
//	{"success": false, "embedding": null, "error": "corrupt image"}
//	{"success": false, "queued": true}
type EmbeddingResponse struct {
	Success   bool      `json:"success"`
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
	Queued    bool      `json:"queued,omitempty"`
}

// EmbeddingClient 是单个 ReID 模型端点的 HTTP 客户端。
//
// REST API 格式：
//   - 推理端点：POST {endpoint}/predictions/{model_name}，请求体为图片原始字节
//   - 健康检查：GET {endpoint}/ping
//
// 失败分类：
//   - 暂时失败（TransientError）：超时、网络错误、429/5xx、queued=true、熔断打开
//   - 永久失败（PermanentError）：4xx、success=false、空向量、维度不符、响应无法解析
//
// 暂时失败按指数退避重试，永久失败立即返回；任何情况下都不会伪造向量。
type EmbeddingClient struct {
	httpBase

	// ModelName 模型名称（即模型标识）
	ModelName string

	path        string
	expectedDim int
	retry       *RetryConfig
	breaker     *gobreaker.CircuitBreaker
	breakerCfg  *BreakerConfig
	logger      observability.Logger
	metrics     *observability.Metrics
}

// EmbeddingOption 配置 EmbeddingClient
type EmbeddingOption func(*EmbeddingClient)

// WithTimeout 设置单次请求超时
func WithTimeout(timeout time.Duration) EmbeddingOption {
	return func(c *EmbeddingClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithAuth 设置认证信息
func WithAuth(auth *AuthConfig) EmbeddingOption {
	return func(c *EmbeddingClient) {
		c.auth = auth
	}
}

// WithHTTPClient 设置自定义 HTTP 客户端
func WithHTTPClient(httpClient *http.Client) EmbeddingOption {
	return func(c *EmbeddingClient) {
		c.httpClient = httpClient
	}
}

// WithPath 覆盖推理路径（默认 /predictions/{model_name}）
func WithPath(path string) EmbeddingOption {
	return func(c *EmbeddingClient) {
		c.path = path
	}
}

// WithExpectedDim 校验返回向量的维度
func WithExpectedDim(dim int) EmbeddingOption {
	return func(c *EmbeddingClient) {
		c.expectedDim = dim
	}
}

// WithRetry 设置重试策略；MaxRetries 为 0 表示不重试
func WithRetry(cfg *RetryConfig) EmbeddingOption {
	return func(c *EmbeddingClient) {
		if cfg != nil {
			c.retry = cfg
		}
	}
}

// WithBreaker 设置熔断配置
func WithBreaker(cfg *BreakerConfig) EmbeddingOption {
	return func(c *EmbeddingClient) {
		if cfg != nil {
			c.breakerCfg = cfg
		}
	}
}

// WithLogger 设置日志
func WithLogger(l observability.Logger) EmbeddingOption {
	return func(c *EmbeddingClient) {
		c.logger = l
	}
}

// WithMetrics 设置指标
func WithMetrics(m *observability.Metrics) EmbeddingOption {
	return func(c *EmbeddingClient) {
		c.metrics = m
	}
}

// NewEmbeddingClient 创建一个模型端点的客户端。
func NewEmbeddingClient(endpoint, modelName string, opts ...EmbeddingOption) *EmbeddingClient {
	c := &EmbeddingClient{
		httpBase:   newHTTPBase(endpoint),
		ModelName:  modelName,
		retry:      DefaultRetryConfig(),
		breakerCfg: DefaultBreakerConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.init()
	if c.path == "" {
		c.path = "/predictions/" + modelName
	}
	c.logger = observability.OrNop(c.logger).WithPrefix("embedding." + modelName)
	c.breaker = newBreaker(c.endpoint+c.path, c.breakerCfg, c.logger)
	return c
}

func newBreaker(name string, cfg *BreakerConfig, logger observability.Logger) *gobreaker.CircuitBreaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		// 永久失败是输入问题，不代表端点不健康
		IsSuccessful: func(err error) bool {
			return err == nil || core.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
}

// Embed 为一张图片生成向量（未归一化）。
func (c *EmbeddingClient) Embed(ctx context.Context, img []byte) (core.Embedding, error) {
	if len(img) == 0 {
		return nil, core.NewPermanentError(c.ModelName, "empty image", nil)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.Multiplier = c.retry.Multiplier
	b.MaxElapsedTime = c.retry.MaxElapsedTime
	maxRetries := c.retry.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	var (
		emb     core.Embedding
		attempt int
	)
	operation := func() error {
		attempt++
		if attempt > 1 {
			c.metrics.ObserveRetry(c.ModelName)
		}
		var err error
		emb, err = c.embedOnce(ctx, img)
		if err == nil {
			return nil
		}
		if core.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("transient embedding failure", map[string]interface{}{
			"attempt":     attempt,
			"max_retries": maxRetries,
			"error":       err.Error(),
		})
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if !core.IsEmbeddingFailure(err) {
			// 重试期间 ctx 被取消或超时
			err = core.NewTransientError(c.ModelName, "embedding request aborted", err)
		}
		return nil, err
	}
	if attempt > 1 {
		c.logger.Info("embedding succeeded after retries", map[string]interface{}{"attempts": attempt})
	}
	return emb, nil
}

func (c *EmbeddingClient) embedOnce(ctx context.Context, img []byte) (core.Embedding, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, img)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, core.NewTransientError(c.ModelName, "circuit breaker open", err)
	}
	if err != nil {
		return nil, err
	}
	return out.(core.Embedding), nil
}

func (c *EmbeddingClient) call(ctx context.Context, img []byte) (core.Embedding, error) {
	status, body, err := c.post(ctx, c.path, "application/octet-stream", img)
	if err != nil {
		return nil, core.NewTransientError(c.ModelName, "request failed", err)
	}

	if status != http.StatusOK && status != http.StatusAccepted {
		msg := fmt.Sprintf("status=%d, body=%s", status, truncateBody(body))
		if retryableStatus(status) {
			return nil, core.NewTransientError(c.ModelName, msg, nil)
		}
		return nil, core.NewPermanentError(c.ModelName, msg, nil)
	}

	var resp EmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.NewPermanentError(c.ModelName, "unable to parse response", err)
	}
	return c.interpret(&resp)
}

// interpret 把响应映射为向量或分类后的错误
func (c *EmbeddingClient) interpret(resp *EmbeddingResponse) (core.Embedding, error) {
	switch {
	case resp.Queued:
		return nil, core.NewTransientError(c.ModelName, "request queued by remote", nil)
	case !resp.Success:
		msg := resp.Error
		if msg == "" {
			msg = "remote rejected request"
		}
		return nil, core.NewPermanentError(c.ModelName, msg, nil)
	case len(resp.Embedding) == 0:
		return nil, core.NewPermanentError(c.ModelName, "empty embedding in response", nil)
	case c.expectedDim > 0 && len(resp.Embedding) != c.expectedDim:
		return nil, core.NewPermanentError(c.ModelName,
			fmt.Sprintf("embedding dim mismatch: expected %d, got %d", c.expectedDim, len(resp.Embedding)), nil)
	}
	return core.Embedding(resp.Embedding), nil
}

// BreakerState 返回熔断器当前状态
func (c *EmbeddingClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Health 健康检查
func (c *EmbeddingClient) Health(ctx context.Context) error {
	return c.health(ctx)
}

// Close 关闭连接
func (c *EmbeddingClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

var _ HealthChecker = (*EmbeddingClient)(nil)

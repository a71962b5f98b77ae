package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rushteam/tigerid/core"
)

// detectionResponse 是检测服务的响应格式，crop 为 base64 编码的裁剪图。
//
//	{"detections": [{"bbox": [x1, y1, x2, y2], "confidence": 0.97, "crop": "..."}], "count": 1}
type detectionResponse struct {
	Detections []struct {
		BBox       [4]float64 `json:"bbox"`
		Confidence float64    `json:"confidence"`
		Crop       []byte     `json:"crop"`
	} `json:"detections"`
	Count int `json:"count"`
}

// DetectionClient 是老虎检测服务的 HTTP 客户端。
// POST {endpoint}/detect，请求体为原图字节；检测结果按置信度降序返回。
type DetectionClient struct {
	httpBase
}

// DetectionOption 配置 DetectionClient
type DetectionOption func(*DetectionClient)

// WithDetectionTimeout 设置超时
func WithDetectionTimeout(timeout time.Duration) DetectionOption {
	return func(c *DetectionClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithDetectionAuth 设置认证信息
func WithDetectionAuth(auth *AuthConfig) DetectionOption {
	return func(c *DetectionClient) {
		c.auth = auth
	}
}

// WithDetectionHTTPClient 设置自定义 HTTP 客户端
func WithDetectionHTTPClient(httpClient *http.Client) DetectionOption {
	return func(c *DetectionClient) {
		c.httpClient = httpClient
	}
}

// NewDetectionClient 创建检测客户端
func NewDetectionClient(endpoint string, opts ...DetectionOption) *DetectionClient {
	c := &DetectionClient{httpBase: newHTTPBase(endpoint)}
	for _, opt := range opts {
		opt(c)
	}
	c.init()
	return c
}

// Detect 实现 core.Detector。没有检测到老虎时返回空结果而不是错误。
func (c *DetectionClient) Detect(ctx context.Context, img []byte) (*core.DetectionResult, error) {
	if len(img) == 0 {
		return nil, core.NewDomainError(core.ModuleDetection, core.ErrorCodeInvalidInput, "empty image")
	}
	status, body, err := c.post(ctx, "/detect", "application/octet-stream", img)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleDetection, core.ErrorCodeUnavailable, "detection request failed", err)
	}
	if status != http.StatusOK {
		code := core.ErrorCodeInvalidInput
		if retryableStatus(status) {
			code = core.ErrorCodeUnavailable
		}
		return nil, core.NewDomainError(core.ModuleDetection, code,
			fmt.Sprintf("detection error: status=%d, body=%s", status, truncateBody(body)))
	}

	var resp detectionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.WrapDomainError(core.ModuleDetection, core.ErrorCodeInternalError, "unable to parse detection response", err)
	}

	out := &core.DetectionResult{Detections: make([]core.Detection, 0, len(resp.Detections))}
	for _, d := range resp.Detections {
		out.Detections = append(out.Detections, core.Detection{
			BBox:       core.BBox(d.BBox),
			Confidence: d.Confidence,
			Crop:       d.Crop,
		})
	}
	out.Count = len(out.Detections)
	return out, nil
}

// Health 健康检查
func (c *DetectionClient) Health(ctx context.Context) error {
	return c.health(ctx)
}

// Close 关闭连接
func (c *DetectionClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

var (
	_ core.Detector = (*DetectionClient)(nil)
	_ HealthChecker = (*DetectionClient)(nil)
)

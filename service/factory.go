package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rushteam/tigerid/observability"
)

// NewEmbeddingClientFromConfig 根据配置创建 EmbeddingClient（工厂方法）。
func NewEmbeddingClientFromConfig(config *ServiceConfig, opts ...EmbeddingOption) (*EmbeddingClient, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if config.Type != ServiceTypeEmbedding {
		return nil, fmt.Errorf("unsupported service type for embedding client: %s", config.Type)
	}

	base := []EmbeddingOption{WithTimeout(config.Timeout), WithRetry(config.Retry), WithBreaker(config.Breaker)}
	if config.Auth != nil {
		base = append(base, WithAuth(config.Auth))
	}
	return NewEmbeddingClient(config.Endpoint, config.ModelName, append(base, opts...)...), nil
}

// NewHealthChecker 根据配置创建任意类型的客户端，供健康巡检使用。
func NewHealthChecker(config *ServiceConfig, logger observability.Logger) (HealthChecker, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	switch config.Type {
	case ServiceTypeEmbedding:
		return NewEmbeddingClientFromConfig(config, WithLogger(logger))
	case ServiceTypeDetection:
		return NewDetectionClient(config.Endpoint, WithDetectionTimeout(config.Timeout), WithDetectionAuth(config.Auth)), nil
	case ServiceTypeVerifier:
		return NewVerifierClient(config.Endpoint, WithVerifierTimeout(config.Timeout), WithVerifierAuth(config.Auth)), nil
	default:
		return nil, fmt.Errorf("unsupported service type: %s", config.Type)
	}
}

// hasHTTPPrefix 检查是否包含 HTTP 前缀
func hasHTTPPrefix(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ValidateConfig 验证服务配置
func ValidateConfig(config *ServiceConfig) error {
	if config == nil {
		return fmt.Errorf("config is required")
	}
	if config.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if !hasHTTPPrefix(config.Endpoint) {
		return fmt.Errorf("endpoint must start with http:// or https://: %s", config.Endpoint)
	}
	if config.ModelName == "" && config.Type == ServiceTypeEmbedding {
		return fmt.Errorf("model name is required")
	}
	if config.Auth != nil {
		switch config.Auth.Type {
		case "basic", "bearer", "api_key":
		default:
			return fmt.Errorf("unsupported auth type: %s", config.Auth.Type)
		}
	}
	return nil
}

// TestConnection 测试服务连接
func TestConnection(ctx context.Context, svc HealthChecker) error {
	if svc == nil {
		return fmt.Errorf("service is nil")
	}
	return svc.Health(ctx)
}

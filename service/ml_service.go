package service

import (
	"context"
	"time"
)

// HealthChecker 是远端推理服务的健康检查接口。
type HealthChecker interface {
	// Health 健康检查
	Health(ctx context.Context) error

	// Close 关闭连接
	Close() error
}

// ServiceType 服务类型
type ServiceType string

const (
	ServiceTypeEmbedding ServiceType = "embedding" // ReID 向量服务（每个模型一个端点）
	ServiceTypeDetection ServiceType = "detection" // 老虎检测服务
	ServiceTypeVerifier  ServiceType = "verifier"  // 几何校验服务（重排）
)

// ServiceConfig 服务配置
type ServiceConfig struct {
	// Type 服务类型
	Type ServiceType `mapstructure:"type" yaml:"type"`

	// Endpoint 服务端点，如 "http://reid-gpu:8080"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ModelName 模型名称（embedding 类型必填，即模型标识）
	ModelName string `mapstructure:"model_name" yaml:"model_name"`

	// Timeout 单次请求超时
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Auth 认证信息（可选）
	Auth *AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Retry 重试策略（可选，仅 embedding 使用）
	Retry *RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Breaker 熔断配置（可选，仅 embedding 使用）
	Breaker *BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	Type     string `mapstructure:"type" yaml:"type"` // "basic", "bearer", "api_key"
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Token    string `mapstructure:"token" yaml:"token"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
}

// RetryConfig 暂时失败的指数退避重试
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
}

// DefaultRetryConfig 返回默认重试配置：最多重试 3 次
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  20 * time.Second,
	}
}

// BreakerConfig 每个端点一个熔断器
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests" yaml:"max_requests"`
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests" yaml:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio" yaml:"failure_ratio"`
}

// DefaultBreakerConfig 返回默认熔断配置
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
	}
}

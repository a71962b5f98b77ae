// Package config 负责加载运行配置（viper：YAML 文件 + TIGERID_ 环境变量），
// 并维护按名称注册的精排 Node 与集成策略构建器。
//
// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/tigerid/config/builders"
// 以触发内置 Node 与策略的 init 注册。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/registry"
	"github.com/rushteam/tigerid/service"
)

// EnvPrefix 环境变量前缀，例如 TIGERID_GALLERY_BACKEND=redis
const EnvPrefix = "TIGERID"

// AppConfig 是完整的运行配置
type AppConfig struct {
	Log         LogConfig                `mapstructure:"log"`
	Models      map[string]ModelOverride `mapstructure:"models"`
	Embedding   EmbeddingConfig          `mapstructure:"embedding"`
	Detection   EndpointConfig           `mapstructure:"detection"`
	Verifier    EndpointConfig           `mapstructure:"verifier"`
	Gallery     GalleryConfig            `mapstructure:"gallery"`
	Calibration CalibrationConfig        `mapstructure:"calibration"`
	Identify    IdentifyConfig           `mapstructure:"identify"`
	Ensemble    EnsembleConfig           `mapstructure:"ensemble"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Prefix string `mapstructure:"prefix"`
}

// ModelOverride 覆盖注册表中单个模型的端点、超时与阈值
type ModelOverride struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Threshold float64       `mapstructure:"threshold"`
}

// EmbeddingConfig 是所有 Embedding 端点共享的客户端配置
type EmbeddingConfig struct {
	Path      string                `mapstructure:"path"`
	Auth      *service.AuthConfig   `mapstructure:"auth"`
	Retry     service.RetryConfig   `mapstructure:"retry"`
	Breaker   service.BreakerConfig `mapstructure:"breaker"`
	CacheSize int                   `mapstructure:"cache_size"`
}

// EndpointConfig 是检测、几何校验等协作服务的端点
type EndpointConfig struct {
	Endpoint string              `mapstructure:"endpoint"`
	Timeout  time.Duration       `mapstructure:"timeout"`
	Auth     *service.AuthConfig `mapstructure:"auth"`
}

// GalleryConfig 参考库（向量检索）配置
type GalleryConfig struct {
	Backend    string      `mapstructure:"backend"` // memory / redis
	Oversample int         `mapstructure:"oversample"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// CalibrationConfig 校准配置
type CalibrationConfig struct {
	// Profile 离线优化得到的校准文件（YAML），为空时使用内置默认值
	Profile string `mapstructure:"profile"`
}

// IdentifyConfig 识别服务配置
type IdentifyConfig struct {
	DefaultModel     string  `mapstructure:"default_model"`
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	TopK             int     `mapstructure:"top_k"`
	BatchConcurrency int     `mapstructure:"batch_concurrency"`
	// ReviewRule 是 CEL 表达式，为 true 时强制人工复核
	ReviewRule string `mapstructure:"review_rule"`
}

// EnsembleConfig 集成策略配置
type EnsembleConfig struct {
	// Strategies 策略名 → 构建参数，交给已注册的策略构建器
	Strategies map[string]map[string]interface{} `mapstructure:"strategies"`
	// Refine 精排 Pipeline 的 YAML 文件路径（weighted 策略使用），为空表示不精排
	Refine string `mapstructure:"refine"`
}

// Load 读取配置。path 为空时只使用默认值与环境变量；文件不存在视为错误。
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.prefix", "tigerid")

	// 为内置模型设置空端点，使 TIGERID_MODELS_<ID>_ENDPOINT 可以生效
	for _, m := range registry.DefaultModels() {
		v.SetDefault("models."+m.ID+".endpoint", "")
		v.SetDefault("models."+m.ID+".timeout", m.Timeout.String())
	}

	retry := service.DefaultRetryConfig()
	v.SetDefault("embedding.path", "")
	v.SetDefault("embedding.cache_size", 1024)
	v.SetDefault("embedding.retry.max_retries", retry.MaxRetries)
	v.SetDefault("embedding.retry.initial_interval", retry.InitialInterval.String())
	v.SetDefault("embedding.retry.max_interval", retry.MaxInterval.String())
	v.SetDefault("embedding.retry.multiplier", retry.Multiplier)
	v.SetDefault("embedding.retry.max_elapsed_time", retry.MaxElapsedTime.String())

	breaker := service.DefaultBreakerConfig()
	v.SetDefault("embedding.breaker.max_requests", breaker.MaxRequests)
	v.SetDefault("embedding.breaker.interval", breaker.Interval.String())
	v.SetDefault("embedding.breaker.timeout", breaker.Timeout.String())
	v.SetDefault("embedding.breaker.min_requests", breaker.MinRequests)
	v.SetDefault("embedding.breaker.failure_ratio", breaker.FailureRatio)

	v.SetDefault("detection.endpoint", "")
	v.SetDefault("detection.timeout", "10s")
	v.SetDefault("verifier.endpoint", "")
	v.SetDefault("verifier.timeout", "10s")

	v.SetDefault("gallery.backend", "memory")
	v.SetDefault("gallery.oversample", 4)
	v.SetDefault("gallery.redis.address", "localhost:6379")
	v.SetDefault("gallery.redis.password", "")
	v.SetDefault("gallery.redis.db", 0)
	v.SetDefault("gallery.redis.prefix", "tigerid")

	v.SetDefault("calibration.profile", "")

	v.SetDefault("identify.default_model", core.ModelTigerReID)
	v.SetDefault("identify.default_threshold", 0.8)
	v.SetDefault("identify.top_k", 5)
	v.SetDefault("identify.batch_concurrency", 4)
	v.SetDefault("identify.review_rule", "")

	v.SetDefault("ensemble.refine", "")
}

// Validate 校验配置
func (c *AppConfig) Validate() error {
	switch c.Gallery.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("gallery.backend must be memory or redis, got %q", c.Gallery.Backend)
	}
	if c.Identify.DefaultThreshold < 0 || c.Identify.DefaultThreshold > 1 {
		return fmt.Errorf("identify.default_threshold must be in [0,1], got %v", c.Identify.DefaultThreshold)
	}
	for id, m := range c.Models {
		if m.Threshold < 0 || m.Threshold > 1 {
			return fmt.Errorf("models.%s.threshold must be in [0,1], got %v", id, m.Threshold)
		}
	}
	for name := range c.Ensemble.Strategies {
		if !HasStrategy(name) {
			return fmt.Errorf("unsupported ensemble strategy %q (supported: %v)", name, StrategyTypes())
		}
	}
	return nil
}

// BuildRegistry 以内置模型表为基础，应用配置中的端点、超时、阈值覆盖。
// 配置中出现的未知模型标识视为错误。
func (c *AppConfig) BuildRegistry() (*registry.Registry, error) {
	reg := registry.Default()
	for id, o := range c.Models {
		cfg, err := reg.Get(id)
		if err != nil {
			return nil, err
		}
		if o.Endpoint != "" {
			cfg.Endpoint = o.Endpoint
		}
		if o.Timeout > 0 {
			cfg.Timeout = o.Timeout
		}
		if o.Threshold > 0 {
			cfg.SimilarityThreshold = o.Threshold
		}
		if err := reg.Register(cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// EmbeddingOptions 返回 Embedding 客户端的公共选项
func (c *AppConfig) EmbeddingOptions() []service.EmbeddingOption {
	retry := c.Embedding.Retry
	breaker := c.Embedding.Breaker
	opts := []service.EmbeddingOption{
		service.WithRetry(&retry),
		service.WithBreaker(&breaker),
	}
	if c.Embedding.Auth != nil {
		opts = append(opts, service.WithAuth(c.Embedding.Auth))
	}
	if c.Embedding.Path != "" {
		opts = append(opts, service.WithPath(c.Embedding.Path))
	}
	return opts
}

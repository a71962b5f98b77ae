package core

import "time"

// IdentifyConfig 是识别相关的配置接口，用于提供默认值。
type IdentifyConfig interface {
	// DefaultTopK 返回每个模型检索的默认 TopK
	DefaultTopK() int

	// DefaultFusionTopK 返回加权融合时每个模型贡献的候选数
	DefaultFusionTopK() int

	// DefaultModelTimeout 返回单个模型调用的默认超时时间
	DefaultModelTimeout() time.Duration

	// DefaultSimilarityThreshold 返回默认的相似度阈值
	DefaultSimilarityThreshold() float64
}

// DefaultIdentifyConfig 是默认的识别配置实现。
type DefaultIdentifyConfig struct{}

func (c *DefaultIdentifyConfig) DefaultTopK() int {
	return 5
}

func (c *DefaultIdentifyConfig) DefaultFusionTopK() int {
	return 10
}

func (c *DefaultIdentifyConfig) DefaultModelTimeout() time.Duration {
	return 30 * time.Second
}

func (c *DefaultIdentifyConfig) DefaultSimilarityThreshold() float64 {
	return 0.8
}

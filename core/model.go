package core

import "time"

// ModelConfig 描述一个 ReID 模型：标识、服务端点、向量维度、默认相似度阈值。
// 进程启动时由注册表构建，之后只读；同一模型标识的维度永不改变。
type ModelConfig struct {
	ID                  string        `yaml:"id" json:"id" mapstructure:"id"`
	Category            string        `yaml:"category" json:"category" mapstructure:"category"`
	Endpoint            string        `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	EmbeddingDim        int           `yaml:"embedding_dim" json:"embedding_dim" mapstructure:"embedding_dim"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" json:"similarity_threshold" mapstructure:"similarity_threshold"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

// CategoryReID 是重识别模型的类别
const CategoryReID = "reid"

// 模型标识
const (
	ModelTigerReID       = "tiger_reid"
	ModelWildlifeTools   = "wildlife_tools"
	ModelCVWC2019ReID    = "cvwc2019_reid"
	ModelRapidReID       = "rapid_reid"
	ModelTransReID       = "transreid"
	ModelMegaDescriptorB = "megadescriptor_b"
)

// Match 是一次检索命中的参考个体（MatchCandidate），只在单次查询内存在。
type Match struct {
	EntityID   string  `json:"entity_id"`
	EntityName string  `json:"entity_name,omitempty"`
	Similarity float64 `json:"similarity"`
	ModelID    string  `json:"model_id,omitempty"`
}

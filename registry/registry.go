// Package registry 是模型标识 → {服务端点, 向量维度, 默认阈值} 的唯一来源。
//
// Registry 是显式构造的配置对象，通过依赖注入传给 Loader、集成策略与识别服务，
// 不使用进程级全局单例。
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/tigerid/core"
)

// Registry 保存已注册的模型配置，启动后只读为主。
type Registry struct {
	mu     sync.RWMutex
	models map[string]core.ModelConfig
}

// New 使用给定配置创建注册表，非法配置直接返回错误。
func New(cfgs ...core.ModelConfig) (*Registry, error) {
	r := &Registry{models: make(map[string]core.ModelConfig, len(cfgs))}
	for _, cfg := range cfgs {
		if err := r.Register(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default 返回内置六个 ReID 模型的注册表。
func Default() *Registry {
	r, err := New(DefaultModels()...)
	if err != nil {
		// 内置表是常量，校验失败属于编程错误
		panic(err)
	}
	return r
}

// DefaultModels 返回内置模型表（端点为空，由配置覆盖）。
func DefaultModels() []core.ModelConfig {
	return []core.ModelConfig{
		{ID: core.ModelTigerReID, Category: core.CategoryReID, EmbeddingDim: 2048, SimilarityThreshold: 0.80, Timeout: 30 * time.Second},
		{ID: core.ModelWildlifeTools, Category: core.CategoryReID, EmbeddingDim: 1536, SimilarityThreshold: 0.75, Timeout: 45 * time.Second},
		{ID: core.ModelCVWC2019ReID, Category: core.CategoryReID, EmbeddingDim: 2048, SimilarityThreshold: 0.80, Timeout: 30 * time.Second},
		{ID: core.ModelRapidReID, Category: core.CategoryReID, EmbeddingDim: 2048, SimilarityThreshold: 0.75, Timeout: 15 * time.Second},
		{ID: core.ModelTransReID, Category: core.CategoryReID, EmbeddingDim: 768, SimilarityThreshold: 0.80, Timeout: 30 * time.Second},
		{ID: core.ModelMegaDescriptorB, Category: core.CategoryReID, EmbeddingDim: 1024, SimilarityThreshold: 0.75, Timeout: 30 * time.Second},
	}
}

// Register 注册或覆盖一个模型。已注册模型的维度不允许改变。
func (r *Registry) Register(cfg core.ModelConfig) error {
	if cfg.ID == "" {
		return core.NewDomainError(core.ModuleRegistry, core.ErrorCodeInvalidInput, "model id is required")
	}
	if cfg.EmbeddingDim <= 0 {
		return core.NewDomainError(core.ModuleRegistry, core.ErrorCodeInvalidInput,
			fmt.Sprintf("model %s: embedding dim must be positive, got %d", cfg.ID, cfg.EmbeddingDim))
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return core.NewDomainError(core.ModuleRegistry, core.ErrorCodeInvalidInput,
			fmt.Sprintf("model %s: similarity threshold must be in [0,1], got %v", cfg.ID, cfg.SimilarityThreshold))
	}
	if cfg.Category == "" {
		cfg.Category = core.CategoryReID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.models[cfg.ID]; ok && old.EmbeddingDim != cfg.EmbeddingDim {
		return core.NewDomainError(core.ModuleRegistry, core.ErrorCodeInvalidInput,
			fmt.Sprintf("model %s: embedding dim is fixed at %d", cfg.ID, old.EmbeddingDim))
	}
	r.models[cfg.ID] = cfg
	return nil
}

// SetEndpoint 覆盖模型的服务端点。
func (r *Registry) SetEndpoint(modelID, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.models[modelID]
	if !ok {
		return core.NewUnknownModelError(modelID)
	}
	cfg.Endpoint = endpoint
	r.models[modelID] = cfg
	return nil
}

// Get 返回模型配置，未注册时返回 UnknownModelError。
func (r *Registry) Get(modelID string) (core.ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.models[modelID]
	if !ok {
		return core.ModelConfig{}, core.NewUnknownModelError(modelID)
	}
	return cfg, nil
}

// Has 判断模型是否已注册
func (r *Registry) Has(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[modelID]
	return ok
}

// EmbeddingDim 返回模型的向量维度。
func (r *Registry) EmbeddingDim(modelID string) (int, error) {
	cfg, err := r.Get(modelID)
	if err != nil {
		return 0, err
	}
	return cfg.EmbeddingDim, nil
}

// ListModels 返回指定类别下的所有模型标识（排序）；category 为空时返回全部。
func (r *Registry) ListModels(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id, cfg := range r.models {
		if category != "" && cfg.Category != category {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Configs 返回所有模型配置（按标识排序）。
func (r *Registry) Configs() []core.ModelConfig {
	ids := r.ListModels("")
	out := make([]core.ModelConfig, 0, len(ids))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		out = append(out, r.models[id])
	}
	return out
}

// CheckDim 校验 Embedding 长度与注册维度一致。
func (r *Registry) CheckDim(modelID string, emb []float64) error {
	dim, err := r.EmbeddingDim(modelID)
	if err != nil {
		return err
	}
	if len(emb) != dim {
		return core.NewPermanentError(modelID,
			fmt.Sprintf("embedding dim mismatch: expected %d, got %d", dim, len(emb)), nil)
	}
	return nil
}

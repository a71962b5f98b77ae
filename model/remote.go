package model

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/registry"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

// RemoteModel 是通过 HTTP 推理服务生成向量的 ReIDModel 实现。
// 模型权重与推理都在远端，本地只负责输入编码、维度校验与错误分类。
type RemoteModel struct {
	cfg    core.ModelConfig
	client Embedder
	loaded atomic.Bool
}

// NewRemoteModel 用注册表配置与推理客户端创建模型
func NewRemoteModel(cfg core.ModelConfig, client Embedder) *RemoteModel {
	return &RemoteModel{cfg: cfg, client: client}
}

func (m *RemoteModel) Name() string                 { return m.cfg.ID }
func (m *RemoteModel) EmbeddingDim() int            { return m.cfg.EmbeddingDim }
func (m *RemoteModel) SimilarityThreshold() float64 { return m.cfg.SimilarityThreshold }

// Config 返回模型配置
func (m *RemoteModel) Config() core.ModelConfig { return m.cfg }

// Load 客户端支持健康检查时探测一次端点
func (m *RemoteModel) Load(ctx context.Context) error {
	if m.client == nil {
		return core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable, "model "+m.cfg.ID+": no client configured")
	}
	if hc, ok := m.client.(healthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			return core.WrapDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable, "model "+m.cfg.ID+": endpoint unhealthy", err)
		}
	}
	m.loaded.Store(true)
	return nil
}

// Loaded 是否已成功 Load
func (m *RemoteModel) Loaded() bool { return m.loaded.Load() }

// GenerateEmbedding 编码图片并请求远端；返回向量维度与注册维度不一致时视为永久失败。
func (m *RemoteModel) GenerateEmbedding(ctx context.Context, img core.Image) (core.Embedding, error) {
	data, err := img.Bytes()
	if err != nil {
		return nil, core.NewPermanentError(m.cfg.ID, "encode image", err)
	}
	emb, err := m.client.Embed(ctx, data)
	if err != nil {
		if core.IsEmbeddingFailure(err) {
			return nil, err
		}
		return nil, core.NewTransientError(m.cfg.ID, "embedding request failed", err)
	}
	if len(emb) != m.cfg.EmbeddingDim {
		return nil, core.NewPermanentError(m.cfg.ID,
			fmt.Sprintf("embedding dim mismatch: expected %d, got %d", m.cfg.EmbeddingDim, len(emb)), nil)
	}
	return emb, nil
}

func (m *RemoteModel) ComputeSimilarity(a, b core.Embedding) float64 {
	return core.CosineSimilarity(a, b)
}

func newNamed(reg *registry.Registry, modelID string, client Embedder) (*RemoteModel, error) {
	cfg, err := reg.Get(modelID)
	if err != nil {
		return nil, err
	}
	return NewRemoteModel(cfg, client), nil
}

// NewTigerReIDModel 基线模型（ResNet 骨干，2048 维）
func NewTigerReIDModel(reg *registry.Registry, client Embedder) (*RemoteModel, error) {
	return newNamed(reg, core.ModelTigerReID, client)
}

// NewWildlifeToolsModel 通用野生动物重识别模型（1536 维），集成中权重最高
func NewWildlifeToolsModel(reg *registry.Registry, client Embedder) (*RemoteModel, error) {
	return newNamed(reg, core.ModelWildlifeTools, client)
}

// NewCVWC2019ReIDModel CVWC2019 老虎重识别竞赛模型（2048 维）
func NewCVWC2019ReIDModel(reg *registry.Registry, client Embedder) (*RemoteModel, error) {
	return newNamed(reg, core.ModelCVWC2019ReID, client)
}

// NewRapidReIDModel 轻量快速模型（2048 维），分级策略的第一级
func NewRapidReIDModel(reg *registry.Registry, client Embedder) (*RemoteModel, error) {
	return newNamed(reg, core.ModelRapidReID, client)
}

// NewTransReIDModel ViT 骨干（768 维）
func NewTransReIDModel(reg *registry.Registry, client Embedder) (*RemoteModel, error) {
	return newNamed(reg, core.ModelTransReID, client)
}

// NewMegaDescriptorBModel MegaDescriptor-B（1024 维）
func NewMegaDescriptorBModel(reg *registry.Registry, client Embedder) (*RemoteModel, error) {
	return newNamed(reg, core.ModelMegaDescriptorB, client)
}

var _ ReIDModel = (*RemoteModel)(nil)

// Package model 把注册表中的每个 ReID 模型封装为可调用的对象，并提供统一的 Embedding 来源。
package model

import (
	"context"

	"github.com/rushteam/tigerid/core"
)

// ReIDModel 是单个重识别模型的最小抽象：输入图片，输出定长向量。
// 具体实现是远程推理服务（RemoteModel），测试中可以替换为本地假实现。
type ReIDModel interface {
	Name() string
	EmbeddingDim() int
	SimilarityThreshold() float64

	// Load 在首次使用前调用一次，远程模型在这里做连通性检查
	Load(ctx context.Context) error

	// GenerateEmbedding 返回未归一化的向量，长度等于 EmbeddingDim
	GenerateEmbedding(ctx context.Context, img core.Image) (core.Embedding, error)

	// ComputeSimilarity 计算两个同模型向量的余弦相似度
	ComputeSimilarity(a, b core.Embedding) float64
}

// Embedder 是模型推理端点的客户端接口（service.EmbeddingClient 实现）。
type Embedder interface {
	Embed(ctx context.Context, img []byte) (core.Embedding, error)
}

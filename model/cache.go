package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/observability"
)

// DefaultCacheSize 是 Embedding 缓存的默认容量
const DefaultCacheSize = 1024

// CachedSource 在 EmbeddingProvider 外加一层 LRU 缓存。
// 同一张图片在批量识别或重试时不会重复请求远端；key 为 模型标识 + 图片摘要。
// 失败结果不缓存。
type CachedSource struct {
	next    core.EmbeddingProvider
	cache   *lru.Cache[string, core.Embedding]
	metrics *observability.Metrics
}

// NewCachedSource 创建缓存，size ≤ 0 时使用 DefaultCacheSize
func NewCachedSource(next core.EmbeddingProvider, size int, metrics *observability.Metrics) (*CachedSource, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, core.Embedding](size)
	if err != nil {
		return nil, err
	}
	return &CachedSource{next: next, cache: cache, metrics: metrics}, nil
}

func (c *CachedSource) GenerateEmbedding(ctx context.Context, modelID string, img core.Image) (core.Embedding, error) {
	data, err := img.Bytes()
	if err != nil {
		// 交给下游按各自的方式报错
		return c.next.GenerateEmbedding(ctx, modelID, img)
	}
	sum := sha256.Sum256(data)
	key := modelID + ":" + hex.EncodeToString(sum[:])

	if emb, ok := c.cache.Get(key); ok {
		c.metrics.ObserveCache(true)
		return append(core.Embedding(nil), emb...), nil
	}
	c.metrics.ObserveCache(false)

	emb, err := c.next.GenerateEmbedding(ctx, modelID, core.ImageFromBytes(data))
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append(core.Embedding(nil), emb...))
	return emb, nil
}

// Len 返回缓存条目数
func (c *CachedSource) Len() int {
	return c.cache.Len()
}

// Purge 清空缓存
func (c *CachedSource) Purge() {
	c.cache.Purge()
}

var _ core.EmbeddingProvider = (*CachedSource)(nil)

// Package search 在每个模型独立的参考库中按余弦相似度查找最相似的个体。
//
// 不同模型的向量空间互不可比，集合名即模型标识，查询只会落在对应模型的集合上。
// 同一个体可能有多张参考图，结果按个体去重，取该个体的最高相似度。
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rushteam/tigerid/core"
)

const (
	// MetaEntityID 入库元数据中的个体标识字段
	MetaEntityID = "entity_id"
	// MetaEntityName 入库元数据中的个体名称字段
	MetaEntityName = "entity_name"

	defaultLimit      = 5
	defaultOversample = 4
)

// DimensionChecker 校验向量维度与模型声明是否一致（registry.Registry 实现）。
type DimensionChecker interface {
	CheckDim(modelID string, emb []float64) error
}

// Searcher 是识别链路使用的相似度检索器。
type Searcher struct {
	db         core.VectorDatabaseService
	dims       DimensionChecker
	oversample int
}

// Option 配置 Searcher
type Option func(*Searcher)

// WithDimensionChecker 入库与检索前校验维度
func WithDimensionChecker(c DimensionChecker) Option {
	return func(s *Searcher) {
		s.dims = c
	}
}

// WithOversample 设置向量检索的放大倍数（按个体去重前多取的比例）
func WithOversample(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.oversample = n
		}
	}
}

// New 创建 Searcher
func New(db core.VectorDatabaseService, opts ...Option) *Searcher {
	s := &Searcher{db: db, oversample: defaultOversample}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindMatches 返回与 query 最相似的至多 limit 个个体，按相似度降序；threshold > 0 时每个都 ≥ threshold。
//
// query 会先做 L2 归一化；threshold 为 0 时不过滤；limit ≤ 0 时使用默认值 5。
// 集合不存在或为空时返回空列表。
func (s *Searcher) FindMatches(ctx context.Context, query core.Embedding, modelID string, limit int, threshold float64) ([]core.Match, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if s.dims != nil {
		if err := s.dims.CheckDim(modelID, query); err != nil {
			return nil, err
		}
	}
	q := core.Normalize(query)

	k := limit * s.oversample
	// 暴力检索的后端每次都扫描全集合，直接按集合大小取一次
	exhaustive := false
	if c, ok := s.db.(core.VectorCounter); ok {
		n, err := c.CountVectors(ctx, modelID)
		if err != nil {
			return nil, fmt.Errorf("count %s gallery: %w", modelID, err)
		}
		if n > k {
			k = n
		}
		exhaustive = true
	}
	for {
		res, err := s.db.Search(ctx, &core.VectorSearchRequest{
			Collection: modelID,
			Vector:     q,
			TopK:       k,
			Metric:     string(core.MetricCosine),
		})
		if err != nil {
			return nil, fmt.Errorf("search %s gallery: %w", modelID, err)
		}
		matches := collapse(res.Items, modelID)
		// 结果不足一页说明集合已取尽
		if exhaustive || len(matches) >= limit || len(res.Items) < k {
			return truncate(matches, limit, threshold), nil
		}
		k *= 2
	}
}

// collapse 按个体去重，保留每个个体的最高分；输入已按分数降序，首次出现即最高。
func collapse(items []core.VectorSearchItem, modelID string) []core.Match {
	seen := make(map[string]struct{}, len(items))
	out := make([]core.Match, 0, len(items))
	for _, it := range items {
		entityID, name := entityOf(it)
		if _, ok := seen[entityID]; ok {
			continue
		}
		seen[entityID] = struct{}{}
		out = append(out, core.Match{
			EntityID:   entityID,
			EntityName: name,
			Similarity: it.Score,
			ModelID:    modelID,
		})
	}
	return out
}

func truncate(matches []core.Match, limit int, threshold float64) []core.Match {
	out := make([]core.Match, 0, limit)
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		if threshold > 0 && m.Similarity < threshold {
			// 降序，后面的只会更小
			break
		}
		out = append(out, m)
	}
	return out
}

func entityOf(it core.VectorSearchItem) (id, name string) {
	id = it.ID
	if v, ok := it.Metadata[MetaEntityID]; ok {
		if s := fmt.Sprint(v); s != "" {
			id = s
		}
	}
	if v, ok := it.Metadata[MetaEntityName]; ok && v != nil {
		name = fmt.Sprint(v)
	}
	return id, name
}

// AddReference 把一张参考图的向量写入模型对应的集合，集合不存在时按向量维度创建。
// 向量在写入前归一化；返回参考图 ID。
func (s *Searcher) AddReference(ctx context.Context, modelID, entityID, entityName string, emb core.Embedding) (string, error) {
	if entityID == "" {
		return "", core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "entity id is required")
	}
	if len(emb) == 0 {
		return "", core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "embedding is empty")
	}
	if s.dims != nil {
		if err := s.dims.CheckDim(modelID, emb); err != nil {
			return "", err
		}
	}
	if err := s.ensureCollection(ctx, modelID, len(emb)); err != nil {
		return "", err
	}

	refID := entityID + "#" + uuid.NewString()
	err := s.db.Insert(ctx, &core.VectorInsertRequest{
		Collection: modelID,
		Vectors:    [][]float64{core.Normalize(emb)},
		IDs:        []string{refID},
		Metadata: []map[string]interface{}{{
			MetaEntityID:   entityID,
			MetaEntityName: entityName,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("insert reference into %s: %w", modelID, err)
	}
	return refID, nil
}

func (s *Searcher) ensureCollection(ctx context.Context, modelID string, dim int) error {
	ok, err := s.db.HasCollection(ctx, modelID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	err = s.db.CreateCollection(ctx, &core.VectorCreateCollectionRequest{
		Name:      modelID,
		Dimension: dim,
		Metric:    string(core.MetricCosine),
	})
	if err == nil {
		return nil
	}
	// 并发创建：另一方已建好
	if ok, herr := s.db.HasCollection(ctx, modelID); herr == nil && ok {
		return nil
	}
	return errors.Join(fmt.Errorf("create collection %s", modelID), err)
}

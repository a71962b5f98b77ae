// Package store 提供参考库（Gallery）的向量存储实现。
//
// 接口定义在 core 包（core.VectorService / core.VectorDatabaseService），
// 每个 ReID 模型对应一个集合，集合名即模型标识。
package store

import (
	"context"
	"sync"

	"github.com/rushteam/tigerid/core"
)

// MemoryVectorService 是内存实现的参考库，用于测试/开发/小规模部署。
//
// 特点：
//   - 纯内存实现，进程重启后数据丢失
//   - 暴力检索，支持 cosine / euclidean / inner_product
//   - 检索结果携带入库时的元数据（entity_id、entity_name）
//   - 线程安全
type MemoryVectorService struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dimension int
	metric    string
	vectors   map[string][]float64
	metadata  map[string]map[string]interface{}
}

// NewMemoryVectorService 创建内存参考库。
func NewMemoryVectorService() *MemoryVectorService {
	return &MemoryVectorService{
		collections: make(map[string]*memCollection),
	}
}

func (m *MemoryVectorService) Name() string { return "memory_vector" }

// Search 暴力检索集合内全部向量。集合不存在时返回空结果（该模型尚无参考图）。
func (m *MemoryVectorService) Search(ctx context.Context, req *core.VectorSearchRequest) (*core.VectorSearchResult, error) {
	if req == nil {
		return nil, invalidInput("vector search request is nil")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[req.Collection]
	if !ok {
		return &core.VectorSearchResult{Items: []core.VectorSearchItem{}}, nil
	}
	if len(req.Vector) != col.dimension {
		return nil, dimensionMismatch(req.Collection, col.dimension, len(req.Vector))
	}

	metric := req.Metric
	if metric == "" {
		metric = col.metric
	}
	score := scorer(metric)

	items := make([]core.VectorSearchItem, 0, len(col.vectors))
	for id, vec := range col.vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta := col.metadata[id]
		if !matchFilter(req.Filter, meta) {
			continue
		}
		s := score(req.Vector, vec)
		items = append(items, core.VectorSearchItem{
			ID:       id,
			Score:    s,
			Distance: 1.0 - s,
			Metadata: copyMetadata(meta),
		})
	}

	return &core.VectorSearchResult{Items: rankItems(items, req.TopK)}, nil
}

// Close 清空所有集合
func (m *MemoryVectorService) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]*memCollection)
	return nil
}

// Insert 写入参考向量，同 ID 覆盖。
func (m *MemoryVectorService) Insert(ctx context.Context, req *core.VectorInsertRequest) error {
	if req == nil {
		return invalidInput("insert request is nil")
	}
	if len(req.Vectors) != len(req.IDs) {
		return invalidInput("vectors and ids length mismatch")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[req.Collection]
	if !ok {
		return collectionNotFound(req.Collection)
	}
	// 先整体校验，避免部分写入
	for _, vec := range req.Vectors {
		if len(vec) != col.dimension {
			return dimensionMismatch(req.Collection, col.dimension, len(vec))
		}
	}
	for i, vec := range req.Vectors {
		id := req.IDs[i]
		col.vectors[id] = append([]float64(nil), vec...)
		if i < len(req.Metadata) && req.Metadata[i] != nil {
			col.metadata[id] = copyMetadata(req.Metadata[i])
		}
	}
	return nil
}

// Update 更新单个向量；Metadata 为 nil 时保留原元数据。
func (m *MemoryVectorService) Update(ctx context.Context, req *core.VectorUpdateRequest) error {
	if req == nil {
		return invalidInput("update request is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[req.Collection]
	if !ok {
		return collectionNotFound(req.Collection)
	}
	if len(req.Vector) != col.dimension {
		return dimensionMismatch(req.Collection, col.dimension, len(req.Vector))
	}
	col.vectors[req.ID] = append([]float64(nil), req.Vector...)
	if req.Metadata != nil {
		col.metadata[req.ID] = copyMetadata(req.Metadata)
	}
	return nil
}

func (m *MemoryVectorService) Delete(ctx context.Context, req *core.VectorDeleteRequest) error {
	if req == nil {
		return invalidInput("delete request is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[req.Collection]
	if !ok {
		return collectionNotFound(req.Collection)
	}
	for _, id := range req.IDs {
		delete(col.vectors, id)
		delete(col.metadata, id)
	}
	return nil
}

// CreateCollection 创建集合；非法度量方式回退为 cosine。
func (m *MemoryVectorService) CreateCollection(ctx context.Context, req *core.VectorCreateCollectionRequest) error {
	if req == nil {
		return invalidInput("create collection request is nil")
	}
	if req.Name == "" {
		return invalidInput("collection name is required")
	}
	if req.Dimension <= 0 {
		return invalidInput("dimension must be greater than 0")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.collections[req.Name]; exists {
		return invalidInput("collection already exists: " + req.Name)
	}
	metric := req.Metric
	if !core.ValidateVectorMetric(metric) {
		metric = string(core.MetricCosine)
	}
	m.collections[req.Name] = &memCollection{
		dimension: req.Dimension,
		metric:    metric,
		vectors:   make(map[string][]float64),
		metadata:  make(map[string]map[string]interface{}),
	}
	return nil
}

func (m *MemoryVectorService) DropCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *MemoryVectorService) HasCollection(ctx context.Context, collection string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.collections[collection]
	return exists, nil
}

// CountVectors 返回集合内向量数量，集合不存在时为 0
func (m *MemoryVectorService) CountVectors(ctx context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if col, ok := m.collections[collection]; ok {
		return len(col.vectors), nil
	}
	return 0, nil
}

var (
	_ core.VectorService         = (*MemoryVectorService)(nil)
	_ core.VectorDatabaseService = (*MemoryVectorService)(nil)
	_ core.VectorCounter         = (*MemoryVectorService)(nil)
)

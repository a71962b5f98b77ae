package core

import "context"

// VectorDatabaseService 是完整的向量库服务接口（参考库 / Gallery）。
//
// 设计原则：
//   - 嵌入 VectorService（识别场景接口），符合接口组合原则
//   - 提供完整的向量库操作（CRUD + 集合管理），供入库流程与测试使用
//
// 使用场景：
//
//	var db VectorDatabaseService = store.NewMemoryVectorService()
//	err := db.CreateCollection(ctx, &VectorCreateCollectionRequest{
//	    Name:      "wildlife_tools",
//	    Dimension: 1536,
//	    Metric:    "cosine",
//	})
//	err = db.Insert(ctx, &VectorInsertRequest{
//	    Collection: "wildlife_tools",
//	    Vectors:    [][]float64{emb},
//	    IDs:        []string{"tiger-001#0"},
//	    Metadata:   []map[string]interface{}{{"entity_id": "tiger-001", "entity_name": "Raja"}},
//	})
//
// 实现：
//   - store.MemoryVectorService（内存实现）
//   - store.RedisVectorService（Redis 实现）
type VectorDatabaseService interface {
	VectorService

	// Insert 插入向量
	Insert(ctx context.Context, req *VectorInsertRequest) error

	// Update 更新向量
	Update(ctx context.Context, req *VectorUpdateRequest) error

	// Delete 删除向量
	Delete(ctx context.Context, req *VectorDeleteRequest) error

	// CreateCollection 创建集合
	CreateCollection(ctx context.Context, req *VectorCreateCollectionRequest) error

	// DropCollection 删除集合
	DropCollection(ctx context.Context, collection string) error

	// HasCollection 检查集合是否存在
	HasCollection(ctx context.Context, collection string) (bool, error)
}

// VectorCounter 是可选能力：返回集合内向量条数。
// 暴力检索的后端实现它，检索方据此一次取回全部候选。
type VectorCounter interface {
	CountVectors(ctx context.Context, collection string) (int, error)
}

// VectorInsertRequest 向量插入请求
type VectorInsertRequest struct {
	// Collection 集合名称
	Collection string

	// Vectors 向量列表
	Vectors [][]float64

	// IDs 对应的向量 ID 列表
	IDs []string

	// Metadata 元数据
	Metadata []map[string]interface{}
}

// VectorUpdateRequest 向量更新请求
type VectorUpdateRequest struct {
	Collection string
	Vector     []float64
	ID         string
	Metadata   map[string]interface{}
}

// VectorDeleteRequest 向量删除请求
type VectorDeleteRequest struct {
	Collection string
	IDs        []string
}

// VectorCreateCollectionRequest 创建集合请求
type VectorCreateCollectionRequest struct {
	// Name 集合名称
	Name string

	// Dimension 向量维度
	Dimension int

	// Metric 距离度量方式，非法值按 cosine 处理
	Metric string
}

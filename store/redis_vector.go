package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/tigerid/core"
)

const defaultRedisPrefix = "tigerid"

// RedisVectorService 是 Redis 实现的参考库，生产环境多实例共享同一份 Gallery。
//
// 存储布局（每个集合两个 Hash）：
//
//	{prefix}:gallery:{collection}:info  -> dimension, metric
//	{prefix}:gallery:{collection}:vec   -> id -> {"v":[...],"m":{...}}
//
// 检索在客户端暴力计算，单个模型的参考库规模（数千张图）下足够。
type RedisVectorService struct {
	client *redis.Client
	prefix string
}

type redisVectorEntry struct {
	Vector   []float64              `json:"v"`
	Metadata map[string]interface{} `json:"m,omitempty"`
}

// NewRedisVectorService 基于已有客户端创建参考库，prefix 为空时使用 "tigerid"。
func NewRedisVectorService(client *redis.Client, prefix string) *RedisVectorService {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisVectorService{client: client, prefix: prefix}
}

// DialRedisVectorService 连接 Redis 并 Ping 一次。
func DialRedisVectorService(ctx context.Context, addr, password string, db int, prefix string) (*RedisVectorService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "redis ping "+addr, err)
	}
	return NewRedisVectorService(client, prefix), nil
}

func (r *RedisVectorService) Name() string { return "redis_vector" }

func (r *RedisVectorService) infoKey(collection string) string {
	return fmt.Sprintf("%s:gallery:%s:info", r.prefix, collection)
}

func (r *RedisVectorService) vecKey(collection string) string {
	return fmt.Sprintf("%s:gallery:%s:vec", r.prefix, collection)
}

type redisCollectionInfo struct {
	dimension int
	metric    string
}

func (r *RedisVectorService) info(ctx context.Context, collection string) (*redisCollectionInfo, error) {
	vals, err := r.client.HGetAll(ctx, r.infoKey(collection)).Result()
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "read collection info", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	dim, err := strconv.Atoi(vals["dimension"])
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeInternalError, "corrupt collection info: "+collection, err)
	}
	return &redisCollectionInfo{dimension: dim, metric: vals["metric"]}, nil
}

// Search 读取集合全部向量后计算相似度。集合不存在时返回空结果。
func (r *RedisVectorService) Search(ctx context.Context, req *core.VectorSearchRequest) (*core.VectorSearchResult, error) {
	if req == nil {
		return nil, invalidInput("vector search request is nil")
	}
	info, err := r.info(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return &core.VectorSearchResult{Items: []core.VectorSearchItem{}}, nil
	}
	if len(req.Vector) != info.dimension {
		return nil, dimensionMismatch(req.Collection, info.dimension, len(req.Vector))
	}

	raw, err := r.client.HGetAll(ctx, r.vecKey(req.Collection)).Result()
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "read gallery vectors", err)
	}

	metric := req.Metric
	if metric == "" {
		metric = info.metric
	}
	score := scorer(metric)

	items := make([]core.VectorSearchItem, 0, len(raw))
	for id, payload := range raw {
		var entry redisVectorEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeInternalError, "decode vector "+id, err)
		}
		if len(entry.Vector) != info.dimension || !matchFilter(req.Filter, entry.Metadata) {
			continue
		}
		s := score(req.Vector, entry.Vector)
		items = append(items, core.VectorSearchItem{
			ID:       id,
			Score:    s,
			Distance: 1.0 - s,
			Metadata: entry.Metadata,
		})
	}
	return &core.VectorSearchResult{Items: rankItems(items, req.TopK)}, nil
}

// CountVectors 返回集合内向量数量（HLEN），集合不存在时为 0
func (r *RedisVectorService) CountVectors(ctx context.Context, collection string) (int, error) {
	n, err := r.client.HLen(ctx, r.vecKey(collection)).Result()
	if err != nil {
		return 0, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "count gallery vectors", err)
	}
	return int(n), nil
}

func (r *RedisVectorService) Close() error {
	return r.client.Close()
}

// Insert 通过 pipeline 批量写入，同 ID 覆盖。
func (r *RedisVectorService) Insert(ctx context.Context, req *core.VectorInsertRequest) error {
	if req == nil {
		return invalidInput("insert request is nil")
	}
	if len(req.Vectors) != len(req.IDs) {
		return invalidInput("vectors and ids length mismatch")
	}
	info, err := r.info(ctx, req.Collection)
	if err != nil {
		return err
	}
	if info == nil {
		return collectionNotFound(req.Collection)
	}

	fields := make(map[string]interface{}, len(req.Vectors))
	for i, vec := range req.Vectors {
		if len(vec) != info.dimension {
			return dimensionMismatch(req.Collection, info.dimension, len(vec))
		}
		entry := redisVectorEntry{Vector: vec}
		if i < len(req.Metadata) {
			entry.Metadata = req.Metadata[i]
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return core.WrapDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "encode vector "+req.IDs[i], err)
		}
		fields[req.IDs[i]] = data
	}
	if len(fields) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.vecKey(req.Collection), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "write gallery vectors", err)
	}
	return nil
}

// Update 更新单个向量；Metadata 为 nil 时保留原元数据。
func (r *RedisVectorService) Update(ctx context.Context, req *core.VectorUpdateRequest) error {
	if req == nil {
		return invalidInput("update request is nil")
	}
	meta := req.Metadata
	if meta == nil {
		payload, err := r.client.HGet(ctx, r.vecKey(req.Collection), req.ID).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "read vector "+req.ID, err)
		default:
			var old redisVectorEntry
			if json.Unmarshal([]byte(payload), &old) == nil {
				meta = old.Metadata
			}
		}
	}
	return r.Insert(ctx, &core.VectorInsertRequest{
		Collection: req.Collection,
		Vectors:    [][]float64{req.Vector},
		IDs:        []string{req.ID},
		Metadata:   []map[string]interface{}{meta},
	})
}

func (r *RedisVectorService) Delete(ctx context.Context, req *core.VectorDeleteRequest) error {
	if req == nil {
		return invalidInput("delete request is nil")
	}
	ok, err := r.HasCollection(ctx, req.Collection)
	if err != nil {
		return err
	}
	if !ok {
		return collectionNotFound(req.Collection)
	}
	if len(req.IDs) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, r.vecKey(req.Collection), req.IDs...).Err(); err != nil {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "delete vectors", err)
	}
	return nil
}

// CreateCollection 用 HSETNX 写入维度，保证并发创建时只有一个成功。
func (r *RedisVectorService) CreateCollection(ctx context.Context, req *core.VectorCreateCollectionRequest) error {
	if req == nil {
		return invalidInput("create collection request is nil")
	}
	if req.Name == "" {
		return invalidInput("collection name is required")
	}
	if req.Dimension <= 0 {
		return invalidInput("dimension must be greater than 0")
	}
	metric := req.Metric
	if !core.ValidateVectorMetric(metric) {
		metric = string(core.MetricCosine)
	}

	key := r.infoKey(req.Name)
	created, err := r.client.HSetNX(ctx, key, "dimension", req.Dimension).Result()
	if err != nil {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "create collection", err)
	}
	if !created {
		return invalidInput("collection already exists: " + req.Name)
	}
	if err := r.client.HSet(ctx, key, "metric", metric).Err(); err != nil {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "create collection", err)
	}
	return nil
}

func (r *RedisVectorService) DropCollection(ctx context.Context, collection string) error {
	if err := r.client.Del(ctx, r.infoKey(collection), r.vecKey(collection)).Err(); err != nil {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "drop collection", err)
	}
	return nil
}

func (r *RedisVectorService) HasCollection(ctx context.Context, collection string) (bool, error) {
	n, err := r.client.Exists(ctx, r.infoKey(collection)).Result()
	if err != nil {
		return false, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "check collection", err)
	}
	return n > 0, nil
}

var (
	_ core.VectorDatabaseService = (*RedisVectorService)(nil)
	_ core.VectorCounter         = (*RedisVectorService)(nil)
)

package store

import (
	"fmt"
	"math"
	"sort"

	"github.com/rushteam/tigerid/core"
)

const defaultTopK = 10

// scorer 按度量方式计算 query 与参考向量的相似度，越大越相似。
func scorer(metric string) func(a, b []float64) float64 {
	switch core.MetricType(metric) {
	case core.MetricEuclidean:
		return func(a, b []float64) float64 {
			return 1.0 / (1.0 + euclideanDistance(a, b))
		}
	case core.MetricInnerProduct:
		return innerProduct
	default:
		return core.CosineSimilarity
	}
}

func euclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func innerProduct(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// matchFilter 元数据逐项相等比较；没有元数据的向量不命中任何过滤条件。
func matchFilter(filter, metadata map[string]interface{}) bool {
	if len(filter) == 0 {
		return true
	}
	if metadata == nil {
		return false
	}
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// rankItems 按分数降序排序并截断到 topK，分数相同按 ID 升序。
func rankItems(items []core.VectorSearchItem, topK int) []core.VectorSearchItem {
	if topK <= 0 {
		topK = defaultTopK
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > topK {
		items = items[:topK]
	}
	return items
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func dimensionMismatch(collection string, want, got int) error {
	return core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput,
		fmt.Sprintf("collection %s: vector dimension mismatch, want %d got %d", collection, want, got))
}

func collectionNotFound(collection string) error {
	return core.NewDomainError(core.ModuleVector, core.ErrorCodeNotFound, "collection not found: "+collection)
}

func invalidInput(msg string) error {
	return core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, msg)
}

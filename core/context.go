package core

import (
	"context"

	"github.com/rushteam/tigerid/pkg/utils"
)

// IdentifyContext 承载单次识别请求的上下文，贯穿精排 Pipeline 透传。
type IdentifyContext struct {
	RequestID string

	// Query 是裁剪后的老虎区域，几何校验等节点需要原图
	Query Image

	// Threshold 是调用方给定的相似度阈值
	Threshold float64

	// Labels 是请求级标签，可驱动 Pipeline 行为
	Labels map[string]utils.Label

	// Params 请求级参数，例如 exclude_ids、top_n 等
	Params map[string]any
}

// PutLabel 写入请求级 Label。
func (ictx *IdentifyContext) PutLabel(key string, lbl utils.Label) {
	if ictx.Labels == nil {
		ictx.Labels = make(map[string]utils.Label)
	}
	if old, ok := ictx.Labels[key]; ok {
		ictx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	ictx.Labels[key] = lbl
}

// GetLabel 获取请求级 Label。
func (ictx *IdentifyContext) GetLabel(key string) (utils.Label, bool) {
	if ictx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := ictx.Labels[key]
	return lbl, ok
}

type requestIDKey struct{}

// WithRequestID 把请求 ID 放进 context，供日志与 span 使用
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom 取出请求 ID，没有时返回空串
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type paramsKey struct{}

// WithParams 把请求级参数放进 context，精排 Pipeline 从 IdentifyContext.Params 读取
func WithParams(ctx context.Context, params map[string]any) context.Context {
	return context.WithValue(ctx, paramsKey{}, params)
}

// ParamsFrom 取出请求级参数
func ParamsFrom(ctx context.Context) map[string]any {
	p, _ := ctx.Value(paramsKey{}).(map[string]any)
	return p
}

// Package filter 在融合之后剔除不应作为识别结果的候选。
package filter

import (
	"context"

	"github.com/rushteam/tigerid/core"
)

// Filter 是过滤器的抽象接口，用于判断一个候选是否应该被过滤掉。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断候选是否应该被过滤
	ShouldFilter(ctx context.Context, ictx *core.IdentifyContext, cand *core.Candidate) (bool, error)
}

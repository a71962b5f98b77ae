package filter

import (
	"context"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/pkg/conv"
)

// ParamExcludeIDs 请求级排除列表在 IdentifyContext.Params 中的 key
const ParamExcludeIDs = "exclude_ids"

// ExcludeFilter 排除指定个体。
//
// 个体来源：
//   - EntityIDs：静态列表（例如已确认死亡或迁出的个体）
//   - IdentifyContext.Params["exclude_ids"]：请求级列表，评估时做 leave-one-out
type ExcludeFilter struct {
	EntityIDs []string
}

// NewExcludeFilter 创建排除过滤器
func NewExcludeFilter(entityIDs ...string) *ExcludeFilter {
	return &ExcludeFilter{EntityIDs: entityIDs}
}

func (f *ExcludeFilter) Name() string {
	return "filter.exclude"
}

func (f *ExcludeFilter) ShouldFilter(_ context.Context, ictx *core.IdentifyContext, c *core.Candidate) (bool, error) {
	if c == nil {
		return true, nil
	}
	for _, id := range f.EntityIDs {
		if c.ID == id {
			return true, nil
		}
	}
	if ictx != nil && ictx.Params != nil {
		for _, id := range conv.SliceAnyToString(ictx.Params[ParamExcludeIDs]) {
			if c.ID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

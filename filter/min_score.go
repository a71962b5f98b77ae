package filter

import (
	"context"

	"github.com/rushteam/tigerid/core"
)

// MinScoreFilter 过滤融合分数低于 MinScore 的候选。
type MinScoreFilter struct {
	MinScore float64
}

func (f *MinScoreFilter) Name() string {
	return "filter.min_score"
}

func (f *MinScoreFilter) ShouldFilter(_ context.Context, _ *core.IdentifyContext, c *core.Candidate) (bool, error) {
	if c == nil {
		return true, nil
	}
	return c.Score < f.MinScore, nil
}

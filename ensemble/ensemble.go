// Package ensemble 是多模型识别的决策引擎。
//
// 三种策略共享同一形态 Identify(ctx, img, available, threshold)：
//   - Staggered：按成本从低到高逐级调用模型，置信即停
//   - Parallel：并发调用全部模型，按 top-1 投票，多数决
//   - Weighted：并发调用全部模型，校准后加权融合 top-K 候选
//
// 单个模型的失败只会把它排除出本轮决策，不会中断整个集成。
package ensemble

import (
	"context"

	"github.com/rushteam/tigerid/core"
)

// 策略名称
const (
	StrategyStaggered = "staggered"
	StrategyParallel  = "parallel"
	StrategyWeighted  = "weighted"
)

// Strategy 是集成策略的统一接口。
// 返回 error 只表示调用方取消（ctx）或参数错误；"未识别"、"模型分歧"都是正常结果。
type Strategy interface {
	Name() string
	Identify(ctx context.Context, img core.Image, available []string, threshold float64) (*core.EnsembleResult, error)
}

// Searcher 是相似度检索接口（search.Searcher 实现）。
type Searcher interface {
	FindMatches(ctx context.Context, query core.Embedding, modelID string, limit int, threshold float64) ([]core.Match, error)
}

// ModelCatalog 提供模型配置与维度校验（registry.Registry 实现）。
type ModelCatalog interface {
	Get(modelID string) (core.ModelConfig, error)
	CheckDim(modelID string, emb []float64) error
}

// dedupe 去重并保持顺序
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func matchesToCandidates(matches []core.Match) []*core.Candidate {
	out := make([]*core.Candidate, 0, len(matches))
	for _, m := range matches {
		c := core.NewCandidate(m.EntityID)
		c.Name = m.EntityName
		c.Score = m.Similarity
		c.ModelScores[m.ModelID] = m.Similarity
		out = append(out, c)
	}
	return out
}

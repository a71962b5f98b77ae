// Package rerank 对融合后的候选做二次排序。
package rerank

import (
	"context"
	"sort"
	"strconv"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/observability"
	"github.com/rushteam/tigerid/pipeline"
	"github.com/rushteam/tigerid/pkg/utils"
)

const (
	defaultVerifyWeight = 0.3
	defaultVerifyTopK   = 5
)

// Verifier 对查询图与候选个体做几何校验（关键点匹配），返回 [0, 1] 分数。
// service.VerifierClient 实现此接口。
type Verifier interface {
	Verify(ctx context.Context, query []byte, entityIDs []string) (map[string]float64, error)
}

// VerifyNode 用几何校验分数修正融合分数：
//
//	score = (1 - Weight) * fused + Weight * verify
//
// 只校验前 TopK 个候选；校验失败时保持融合顺序不变。
type VerifyNode struct {
	Verifier Verifier
	Weight   float64 // 默认 0.3
	TopK     int     // 默认 5
	Logger   observability.Logger
}

func (n *VerifyNode) Name() string {
	return "rerank.verify"
}

func (n *VerifyNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *VerifyNode) Process(
	ctx context.Context,
	ictx *core.IdentifyContext,
	cands []*core.Candidate,
) ([]*core.Candidate, error) {
	if n.Verifier == nil || len(cands) == 0 || ictx == nil || ictx.Query.Empty() {
		return cands, nil
	}
	logger := observability.OrNop(n.Logger)

	query, err := ictx.Query.Bytes()
	if err != nil {
		logger.Warn("verify skipped: encode query", map[string]interface{}{"error": err.Error()})
		return cands, nil
	}

	weight := n.Weight
	if weight <= 0 || weight > 1 {
		weight = defaultVerifyWeight
	}
	topK := n.TopK
	if topK <= 0 {
		topK = defaultVerifyTopK
	}
	if topK > len(cands) {
		topK = len(cands)
	}

	ids := make([]string, 0, topK)
	for _, c := range cands[:topK] {
		ids = append(ids, c.ID)
	}
	scores, err := n.Verifier.Verify(ctx, query, ids)
	if err != nil {
		logger.Warn("verify failed, keep fused order", map[string]interface{}{
			"request_id": ictx.RequestID,
			"error":      err.Error(),
		})
		return cands, nil
	}

	for _, c := range cands[:topK] {
		v, ok := scores[c.ID]
		if !ok {
			continue
		}
		if c.Meta == nil {
			c.Meta = make(map[string]any)
		}
		c.Meta["fused_score"] = c.Score
		c.Score = (1-weight)*c.Score + weight*v
		c.PutLabel("verified", utils.Label{Value: strconv.FormatFloat(v, 'f', 4, 64), Source: "rerank"})
	}

	out := make([]*core.Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

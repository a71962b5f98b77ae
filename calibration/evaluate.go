package calibration

import "github.com/rushteam/tigerid/core"

// EvalQuery 是一条带标注的评估查询：各模型的检索结果 + 真实个体。
type EvalQuery struct {
	TruthID string
	Lists   map[string][]core.Match
}

// Rank1Accuracy 计算当前温度与权重下，融合结果排名第一即为真实个体的比例。
// 离线优化温度/权重时用它挑选最优配置。
func (c *Calibrator) Rank1Accuracy(queries []EvalQuery) float64 {
	if len(queries) == 0 {
		return 0
	}
	hits := 0
	for _, q := range queries {
		fused := c.FuseMatchLists(q.Lists, true)
		if len(fused) > 0 && fused[0].EntityID == q.TruthID {
			hits++
		}
	}
	return float64(hits) / float64(len(queries))
}

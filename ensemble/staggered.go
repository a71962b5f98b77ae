package ensemble

import (
	"context"

	"github.com/rushteam/tigerid/core"
)

// Stage 是分级策略的一级：相似度 > Accept 立即接受，< Reject 立即拒绝，否则进入下一级。
// Reject 为 0 表示该级不做拒绝判断。
type Stage struct {
	ModelID string  `mapstructure:"model" yaml:"model"`
	Accept  float64 `mapstructure:"accept" yaml:"accept"`
	Reject  float64 `mapstructure:"reject" yaml:"reject"`
}

// DefaultStages 返回内置分级：快速模型 → 高精度模型 → 竞赛模型。
// 顺序与阈值体现成本/精度的取舍，调整前需要重新评估。
func DefaultStages() []Stage {
	return []Stage{
		{ModelID: core.ModelRapidReID, Accept: 0.90, Reject: 0.60},
		{ModelID: core.ModelWildlifeTools, Accept: 0.85, Reject: 0.65},
		{ModelID: core.ModelCVWC2019ReID, Accept: 0.80},
	}
}

// Staggered 逐级调用模型，前一级得出结论前不会调用下一级。
//
// 每一级以阈值 0 检索（由本级的接受/拒绝阈值决定），调用方的 threshold 不参与判断。
// 不可用或失败的模型直接跳过该级。
type Staggered struct {
	Runner *Runner
	Stages []Stage
	TopK   int // 每级检索的候选数，默认 5
}

// NewStaggered 使用内置分级创建策略
func NewStaggered(r *Runner) *Staggered {
	return &Staggered{Runner: r, Stages: DefaultStages(), TopK: 5}
}

func (s *Staggered) Name() string { return StrategyStaggered }

func (s *Staggered) Identify(ctx context.Context, img core.Image, available []string, _ float64) (*core.EnsembleResult, error) {
	res := core.NewEnsembleResult(StrategyStaggered)
	avail := make(map[string]struct{}, len(available))
	for _, id := range available {
		avail[id] = struct{}{}
	}
	topK := s.TopK
	if topK <= 0 {
		topK = 5
	}

	var (
		last      []core.Match
		succeeded int
	)
	for i, st := range s.Stages {
		if _, ok := avail[st.ModelID]; !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out := s.Runner.Run(ctx, st.ModelID, img, topK, 0)
		res.ModelsConsulted = append(res.ModelsConsulted, st.ModelID)
		if out.Err != nil {
			res.RecordError(st.ModelID, out.Err)
			continue
		}
		succeeded++
		if len(out.Matches) == 0 {
			continue
		}
		last = out.Matches
		top := out.Matches[0]

		switch {
		case top.Similarity > st.Accept:
			res.Identified = true
			res.EntityID = top.EntityID
			res.EntityName = top.EntityName
			res.Confidence = top.Similarity
			res.Candidates = matchesToCandidates(out.Matches)
			res.Decision = core.DecisionAccepted
			res.Message = core.MessageIdentified
			res.Stage = i + 1
			return s.Runner.finish(res), nil

		case st.Reject > 0 && top.Similarity < st.Reject:
			res.Confidence = top.Similarity
			res.Candidates = matchesToCandidates(out.Matches)
			res.RequiresVerification = true
			res.Decision = core.DecisionRejected
			res.Message = core.MessageLowConfidence
			res.Stage = i + 1
			return s.Runner.finish(res), nil
		}
	}

	// 所有级都没有得出结论
	res.RequiresVerification = true
	res.Decision = core.DecisionNeedsReview
	res.Message = core.MessageNewIndividual
	if succeeded == 0 {
		res.Message = core.MessageNoModelResult
	}
	if len(last) > 0 {
		res.Confidence = last[0].Similarity
		res.Candidates = matchesToCandidates(last)
	}
	return s.Runner.finish(res), nil
}

var _ Strategy = (*Staggered)(nil)

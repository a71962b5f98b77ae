package ensemble

import (
	"context"

	"github.com/rushteam/tigerid/calibration"
	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/observability"
	"github.com/rushteam/tigerid/pipeline"
)

// DefaultFusionTopK 是加权融合时每个模型检索的候选数
var DefaultFusionTopK = (&core.DefaultIdentifyConfig{}).DefaultFusionTopK()

// Weighted 并发调用全部模型，每个模型检索 top-K，按个体聚合后做校准加权融合。
//
// 融合分数 > threshold 时接受排名第一的个体；否则返回排好序的候选列表并要求人工复核。
// Refine 不为空时，融合结果在决策前经过精排 Pipeline（过滤、几何校验等）。
type Weighted struct {
	Runner          *Runner
	Calibrator      *calibration.Calibrator
	FusionTopK      int
	MaxConcurrent   int
	SkipCalibration bool
	Refine          *pipeline.Pipeline
}

// NewWeighted 创建加权融合策略
func NewWeighted(r *Runner, c *calibration.Calibrator) *Weighted {
	return &Weighted{Runner: r, Calibrator: c, FusionTopK: DefaultFusionTopK}
}

func (w *Weighted) Name() string { return StrategyWeighted }

func (w *Weighted) Identify(ctx context.Context, img core.Image, available []string, threshold float64) (*core.EnsembleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := core.NewEnsembleResult(StrategyWeighted)
	models := dedupe(available)
	topK := w.FusionTopK
	if topK <= 0 {
		topK = DefaultFusionTopK
	}
	cal := w.Calibrator
	if cal == nil {
		cal = calibration.New()
	}

	outcomes := w.Runner.RunAll(ctx, models, img, topK, 0, w.MaxConcurrent)

	lists := make(map[string][]core.Match, len(outcomes))
	succeeded := 0
	for _, o := range outcomes {
		res.ModelsConsulted = append(res.ModelsConsulted, o.ModelID)
		if o.Err != nil {
			res.RecordError(o.ModelID, o.Err)
			continue
		}
		succeeded++
		if len(o.Matches) > 0 {
			lists[o.ModelID] = o.Matches
		}
	}
	res.TotalModels = len(lists)

	if len(lists) == 0 {
		res.RequiresVerification = true
		res.Decision = core.DecisionNeedsReview
		res.Message = core.MessageNewIndividual
		if succeeded == 0 {
			res.Message = core.MessageNoModelResult
		}
		return w.Runner.finish(res), nil
	}

	fused := cal.FuseMatchLists(lists, !w.SkipCalibration)
	cands := make([]*core.Candidate, 0, len(fused))
	for _, fs := range fused {
		c := core.NewCandidate(fs.EntityID)
		c.Name = fs.EntityName
		c.Score = fs.Score
		c.Votes = len(fs.ModelScores)
		for m, s := range fs.ModelScores {
			c.ModelScores[m] = s
		}
		cands = append(cands, c)
	}

	if w.Refine.Len() > 0 {
		ictx := &core.IdentifyContext{
			RequestID: core.RequestIDFrom(ctx),
			Query:     img,
			Threshold: threshold,
			Params:    core.ParamsFrom(ctx),
		}
		refined, err := w.Refine.Run(ctx, ictx, cands)
		if err != nil {
			observability.OrNop(w.Runner.Logger).Warn("refine pipeline failed, keeping fused order", map[string]interface{}{
				"request_id": ictx.RequestID,
				"error":      err.Error(),
			})
		} else {
			cands = refined
		}
	}

	res.Candidates = cands
	top := res.TopCandidate()
	if top == nil {
		res.RequiresVerification = true
		res.Decision = core.DecisionNeedsReview
		res.Message = core.MessageNewIndividual
		return w.Runner.finish(res), nil
	}

	res.Confidence = top.Score
	res.VoteCount = top.Votes
	if top.Score > threshold {
		res.Identified = true
		res.EntityID = top.ID
		res.EntityName = top.Name
		res.Decision = core.DecisionAccepted
		res.Message = core.MessageIdentified
		return w.Runner.finish(res), nil
	}

	res.RequiresVerification = true
	res.Decision = core.DecisionNeedsReview
	res.Message = core.MessageLowConfidence
	return w.Runner.finish(res), nil
}

var _ Strategy = (*Weighted)(nil)

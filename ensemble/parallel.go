package ensemble

import (
	"context"
	"sort"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/pkg/utils"
)

// Parallel 并发调用全部可用模型，每个模型投票给自己的 top-1 个体。
//
// 得票最多的个体当且仅当 票数 > 有效模型数 / 2 时被接受，置信度为投票模型相似度的均值。
// 否则视为模型分歧，附上得票前两名交给人工复核。
// 调用方的 threshold 作为检索阈值，低于阈值的匹配不参与投票。
type Parallel struct {
	Runner        *Runner
	TopK          int // 每个模型检索的候选数，默认 5
	MaxConcurrent int // 0 表示不限制
}

// NewParallel 创建并行投票策略
func NewParallel(r *Runner) *Parallel {
	return &Parallel{Runner: r, TopK: 5}
}

func (p *Parallel) Name() string { return StrategyParallel }

type tally struct {
	cand   *core.Candidate
	sumSim float64
}

func (p *Parallel) Identify(ctx context.Context, img core.Image, available []string, threshold float64) (*core.EnsembleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := core.NewEnsembleResult(StrategyParallel)
	models := dedupe(available)
	topK := p.TopK
	if topK <= 0 {
		topK = 5
	}

	outcomes := p.Runner.RunAll(ctx, models, img, topK, threshold, p.MaxConcurrent)

	votes := make(map[string]*tally)
	succeeded, usable := 0, 0
	for _, o := range outcomes {
		res.ModelsConsulted = append(res.ModelsConsulted, o.ModelID)
		if o.Err != nil {
			res.RecordError(o.ModelID, o.Err)
			continue
		}
		succeeded++
		if !o.Usable() {
			continue
		}
		usable++
		top := o.Matches[0]
		t, ok := votes[top.EntityID]
		if !ok {
			c := core.NewCandidate(top.EntityID)
			c.Name = top.EntityName
			t = &tally{cand: c}
			votes[top.EntityID] = t
		}
		t.cand.Votes++
		t.cand.ModelScores[o.ModelID] = top.Similarity
		t.cand.PutLabel("voted_by", utils.Label{Value: o.ModelID, Source: "model"})
		t.sumSim += top.Similarity
	}
	res.TotalModels = usable

	if usable == 0 {
		res.RequiresVerification = true
		res.Decision = core.DecisionNeedsReview
		res.Message = core.MessageNewIndividual
		if succeeded == 0 {
			res.Message = core.MessageNoModelResult
		}
		return p.Runner.finish(res), nil
	}

	ranked := make([]*core.Candidate, 0, len(votes))
	for _, t := range votes {
		t.cand.Score = t.sumSim / float64(t.cand.Votes)
		ranked = append(ranked, t.cand)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID < b.ID
	})

	winner := ranked[0]
	res.VoteCount = winner.Votes
	// 严格多数：votes > usable/2
	if winner.Votes*2 > usable {
		res.Identified = true
		res.EntityID = winner.ID
		res.EntityName = winner.Name
		res.Confidence = winner.Score
		res.Consensus = true
		res.Candidates = ranked
		res.Decision = core.DecisionAccepted
		res.Message = core.MessageIdentified
		return p.Runner.finish(res), nil
	}

	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	res.Candidates = ranked
	res.Disagreement = true
	res.RequiresVerification = true
	res.Decision = core.DecisionNeedsReview
	res.Message = core.MessageModelsDisagree
	return p.Runner.finish(res), nil
}

var _ Strategy = (*Parallel)(nil)

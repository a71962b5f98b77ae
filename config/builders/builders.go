// Package builders 在 init 中注册内置的精排 Node 与集成策略。
package builders

import (
	"fmt"
	"time"

	"github.com/rushteam/tigerid/config"
	"github.com/rushteam/tigerid/ensemble"
	"github.com/rushteam/tigerid/filter"
	"github.com/rushteam/tigerid/pipeline"
	"github.com/rushteam/tigerid/pkg/conv"
	"github.com/rushteam/tigerid/rerank"
	"github.com/rushteam/tigerid/service"
)

func init() {
	config.Register("filter", BuildFilterNode)
	config.Register("filter.min_score", BuildMinScoreNode)
	config.Register("filter.exclude", BuildExcludeNode)
	config.Register("rerank.topn", BuildTopNNode)
	config.Register("rerank.verify", BuildVerifyNode)

	config.RegisterStrategy(ensemble.StrategyStaggered, BuildStaggered)
	config.RegisterStrategy(ensemble.StrategyParallel, BuildParallel)
	config.RegisterStrategy(ensemble.StrategyWeighted, BuildWeighted)
}

// BuildFilterNode 组合多个过滤器：{filters: [{type: min_score, min_score: 0.3}, {type: exclude, ids: [...]}]}
func BuildFilterNode(cfg map[string]interface{}) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		fm, ok := fc.(map[string]interface{})
		if !ok {
			continue
		}
		switch t := conv.ConfigGet(fm, "type", ""); t {
		case "min_score":
			filters = append(filters, &filter.MinScoreFilter{MinScore: conv.ConfigGetFloat64(fm, "min_score", 0)})
		case "exclude":
			filters = append(filters, filter.NewExcludeFilter(conv.SliceAnyToString(fm["ids"])...))
		default:
			return nil, fmt.Errorf("unknown filter type: %s", t)
		}
	}
	return &filter.FilterNode{Filters: filters}, nil
}

// BuildMinScoreNode {min_score: 0.3}
func BuildMinScoreNode(cfg map[string]interface{}) (pipeline.Node, error) {
	minScore := conv.ConfigGetFloat64(cfg, "min_score", 0)
	if minScore < 0 || minScore > 1 {
		return nil, fmt.Errorf("min_score must be in [0,1], got %v", minScore)
	}
	return &filter.FilterNode{Filters: []filter.Filter{&filter.MinScoreFilter{MinScore: minScore}}}, nil
}

// BuildExcludeNode {ids: [T-001, T-002]}；请求级 exclude_ids 始终生效
func BuildExcludeNode(cfg map[string]interface{}) (pipeline.Node, error) {
	ids := conv.SliceAnyToString(cfg["ids"])
	return &filter.FilterNode{Filters: []filter.Filter{filter.NewExcludeFilter(ids...)}}, nil
}

// BuildTopNNode {n: 5}
func BuildTopNNode(cfg map[string]interface{}) (pipeline.Node, error) {
	return &rerank.TopNNode{N: int(conv.ConfigGetInt64(cfg, "n", 0))}, nil
}

// BuildVerifyNode {endpoint: http://verifier:8080, weight: 0.3, top_k: 5, timeout: 10}
func BuildVerifyNode(cfg map[string]interface{}) (pipeline.Node, error) {
	endpoint := conv.ConfigGet(cfg, "endpoint", "")
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	opts := []service.VerifierOption{}
	if sec := conv.ConfigGetInt64(cfg, "timeout", 0); sec > 0 {
		opts = append(opts, service.WithVerifierTimeout(time.Duration(sec)*time.Second))
	}
	weight := conv.ConfigGetFloat64(cfg, "weight", 0)
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("weight must be in [0,1], got %v", weight)
	}
	return &rerank.VerifyNode{
		Verifier: service.NewVerifierClient(endpoint, opts...),
		Weight:   weight,
		TopK:     int(conv.ConfigGetInt64(cfg, "top_k", 0)),
	}, nil
}

// BuildStaggered {top_k: 5, stages: [{model: rapid_reid, accept: 0.9, reject: 0.6}, ...]}
func BuildStaggered(deps config.StrategyDeps, cfg map[string]interface{}) (ensemble.Strategy, error) {
	s := ensemble.NewStaggered(deps.Runner)
	if k := conv.ConfigGetInt64(cfg, "top_k", 0); k > 0 {
		s.TopK = int(k)
	}
	raw, ok := cfg["stages"]
	if !ok {
		return s, nil
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("stages must be a non-empty list")
	}
	stages := make([]ensemble.Stage, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("stage %d: invalid", i)
		}
		st := ensemble.Stage{
			ModelID: conv.ConfigGet(m, "model", ""),
			Accept:  conv.ConfigGetFloat64(m, "accept", 0),
			Reject:  conv.ConfigGetFloat64(m, "reject", 0),
		}
		if st.ModelID == "" {
			return nil, fmt.Errorf("stage %d: model is required", i)
		}
		if st.Reject > st.Accept {
			return nil, fmt.Errorf("stage %d: reject %v above accept %v", i, st.Reject, st.Accept)
		}
		if deps.Runner.Catalog != nil {
			if _, err := deps.Runner.Catalog.Get(st.ModelID); err != nil {
				return nil, fmt.Errorf("stage %d: %w", i, err)
			}
		}
		stages = append(stages, st)
	}
	s.Stages = stages
	return s, nil
}

// BuildParallel {top_k: 5, max_concurrent: 0}
func BuildParallel(deps config.StrategyDeps, cfg map[string]interface{}) (ensemble.Strategy, error) {
	p := ensemble.NewParallel(deps.Runner)
	if k := conv.ConfigGetInt64(cfg, "top_k", 0); k > 0 {
		p.TopK = int(k)
	}
	p.MaxConcurrent = int(conv.ConfigGetInt64(cfg, "max_concurrent", 0))
	return p, nil
}

// BuildWeighted {fusion_top_k: 10, max_concurrent: 0, skip_calibration: false}
func BuildWeighted(deps config.StrategyDeps, cfg map[string]interface{}) (ensemble.Strategy, error) {
	w := ensemble.NewWeighted(deps.Runner, deps.Calibrator)
	if k := conv.ConfigGetInt64(cfg, "fusion_top_k", 0); k > 0 {
		w.FusionTopK = int(k)
	}
	w.MaxConcurrent = int(conv.ConfigGetInt64(cfg, "max_concurrent", 0))
	w.SkipCalibration = conv.ConfigGet(cfg, "skip_calibration", false)
	w.Refine = deps.Refine
	return w, nil
}

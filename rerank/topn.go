package rerank

import (
	"context"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/pipeline"
)

// TopNNode 是一个 Top-N 截断节点，在重排之后截取前 N 个候选。
//
// 示例：
//
//	p := &pipeline.Pipeline{
//	    Nodes: []pipeline.Node{
//	        &filter.FilterNode{...},     // 过滤
//	        &rerank.VerifyNode{...},     // 几何校验重排
//	        &rerank.TopNNode{N: 5},      // 截取 Top 5
//	    },
//	}
type TopNNode struct {
	// N 要保留的候选数量；N <= 0 时不截断
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	_ *core.IdentifyContext,
	cands []*core.Candidate,
) ([]*core.Candidate, error) {
	if n.N <= 0 || len(cands) <= n.N {
		return cands, nil
	}
	return cands[:n.N], nil
}

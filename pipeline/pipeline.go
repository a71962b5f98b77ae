package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/observability"
)

// Pipeline 把融合后的候选交给一串 Node 依次处理。
type Pipeline struct {
	Nodes []Node
}

// Run 按顺序执行所有 Node；任一 Node 出错即中止并返回错误。
func (p *Pipeline) Run(
	ctx context.Context,
	ictx *core.IdentifyContext,
	cands []*core.Candidate,
) ([]*core.Candidate, error) {
	if p == nil {
		return cands, nil
	}
	cur := cands
	for _, node := range p.Nodes {
		next, err := runNode(ctx, node, ictx, cur)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name(), err)
		}
		cur = next
	}
	return cur, nil
}

func runNode(ctx context.Context, node Node, ictx *core.IdentifyContext, cands []*core.Candidate) (out []*core.Candidate, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline."+node.Name(),
		attribute.String("node.kind", string(node.Kind())),
		attribute.Int("candidates.in", len(cands)),
	)
	defer func() { observability.EndSpan(span, err) }()
	return node.Process(ctx, ictx, cands)
}

// Len 返回 Node 数量
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Nodes)
}

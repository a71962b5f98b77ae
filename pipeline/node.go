package pipeline

import (
	"context"

	"github.com/rushteam/tigerid/core"
)

// Kind 用于标记 Node 类型，方便观测/编排（例如按阶段打点）。
type Kind string

const (
	KindFusion      Kind = "fusion"      // 融合阶段：把多模型结果合并为候选
	KindFilter      Kind = "filter"      // 过滤阶段：剔除不符合约束的候选
	KindReRank      Kind = "rerank"      // 重排阶段：几何校验、截断
	KindPostProcess Kind = "postprocess" // 后处理阶段：补充标签或结果修饰
)

// Node 是精排 Pipeline 的最小可扩展单元。
// 统一采用"输入候选 -> 输出候选"的形态，Filter 剔除、ReRank 重排都在这个形态下完成。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		ictx *core.IdentifyContext,
		cands []*core.Candidate,
	) ([]*core.Candidate, error)
}

// NodeFunc 把普通函数包装为 Node，方便临时插入一步处理
type NodeFunc struct {
	NodeName string
	NodeKind Kind
	Fn       func(ctx context.Context, ictx *core.IdentifyContext, cands []*core.Candidate) ([]*core.Candidate, error)
}

func (n NodeFunc) Name() string { return n.NodeName }
func (n NodeFunc) Kind() Kind   { return n.NodeKind }

func (n NodeFunc) Process(ctx context.Context, ictx *core.IdentifyContext, cands []*core.Candidate) ([]*core.Candidate, error) {
	return n.Fn(ctx, ictx, cands)
}

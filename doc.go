// Package tigerid 是多模型老虎个体识别（Re-Identification）的核心库。
//
// 设计要点：
// - Ensemble-first: 多个 ReID 模型通过集成策略协作（Staggered → Parallel → Weighted）
// - 失败可降级: 单个模型的失败只把它排除出本轮决策，不中断整体识别
// - Pipeline 精排: 融合后的候选通过 Node 串联（Filter → ReRank），可配置驱动
package tigerid

import (
	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/ensemble"
	"github.com/rushteam/tigerid/pipeline"
)

// 轻量 facade：便于用户直接 import "tigerid" 使用核心抽象。
type (
	Pipeline       = pipeline.Pipeline
	Node           = pipeline.Node
	Kind           = pipeline.Kind
	Strategy       = ensemble.Strategy
	EnsembleResult = core.EnsembleResult
	Candidate      = core.Candidate
	Match          = core.Match
)

const (
	KindFusion      = pipeline.KindFusion
	KindFilter      = pipeline.KindFilter
	KindReRank      = pipeline.KindReRank
	KindPostProcess = pipeline.KindPostProcess

	StrategyStaggered = ensemble.StrategyStaggered
	StrategyParallel  = ensemble.StrategyParallel
	StrategyWeighted  = ensemble.StrategyWeighted
)

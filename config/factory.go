package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/tigerid/calibration"
	"github.com/rushteam/tigerid/ensemble"
	"github.com/rushteam/tigerid/pipeline"
)

// StrategyDeps 是构建集成策略所需的运行时依赖
type StrategyDeps struct {
	Runner     *ensemble.Runner
	Calibrator *calibration.Calibrator
	Refine     *pipeline.Pipeline
}

// StrategyBuilder 根据依赖与配置构建一种集成策略
type StrategyBuilder func(deps StrategyDeps, cfg map[string]interface{}) (ensemble.Strategy, error)

var (
	strategyBuilders   = make(map[string]StrategyBuilder)
	strategyBuildersMu sync.RWMutex
)

// RegisterStrategy 注册一种集成策略的构建逻辑
func RegisterStrategy(name string, builder StrategyBuilder) {
	if name == "" || builder == nil {
		return
	}
	strategyBuildersMu.Lock()
	defer strategyBuildersMu.Unlock()
	strategyBuilders[name] = builder
}

// HasStrategy 判断策略是否已注册
func HasStrategy(name string) bool {
	strategyBuildersMu.RLock()
	defer strategyBuildersMu.RUnlock()
	_, ok := strategyBuilders[name]
	return ok
}

// StrategyTypes 返回已注册的策略名（排序）
func StrategyTypes() []string {
	strategyBuildersMu.RLock()
	defer strategyBuildersMu.RUnlock()
	out := make([]string, 0, len(strategyBuilders))
	for name := range strategyBuilders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BuildStrategy 构建指定名称的策略
func BuildStrategy(name string, deps StrategyDeps, cfg map[string]interface{}) (ensemble.Strategy, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("strategy %s: runner is required", name)
	}
	strategyBuildersMu.RLock()
	builder, ok := strategyBuilders[name]
	strategyBuildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported ensemble strategy %q (supported: %v)", name, StrategyTypes())
	}
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	return builder(deps, cfg)
}

// BuildStrategies 构建所有已注册的策略；cfgs 中给出的参数会传给对应构建器。
func BuildStrategies(deps StrategyDeps, cfgs map[string]map[string]interface{}) ([]ensemble.Strategy, error) {
	names := StrategyTypes()
	out := make([]ensemble.Strategy, 0, len(names))
	for _, name := range names {
		s, err := BuildStrategy(name, deps, cfgs[name])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

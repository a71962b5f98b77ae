package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/tigerid/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("result", cel.DynType),
			cel.Variable("top", cel.DynType),
			cel.Variable("label", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// Rule 是编译好的复核规则，使用 CEL (Common Expression Language) 表达式。
// 编译一次，可在多个 goroutine 中并发 Evaluate。
//
// 可用变量：
//   - result：集成结果，字段与 JSON 输出一致（result.confidence、result.strategy、
//     result.vote_count、result.total_models、result.disagreement、result.model_errors ...）
//   - top：排名第一的候选（top.entity_id、top.score、top.votes、top.model_scores），没有候选时为空 map
//   - label：请求级标签的值，label.source == "camera_trap"
//
// 示例：
//   - `result.confidence < 0.9` → 置信度不足 0.9 一律复核
//   - `size(result.model_errors) > 0 && result.strategy == "parallel"` → 有模型失败的投票结果
//   - `top.votes < 2` → 只有一个模型看到该个体
type Rule struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式，表达式必须返回布尔值。
func Compile(expr string) (*Rule, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %v", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %v", err)
	}
	return &Rule{expr: expr, prg: prg}, nil
}

// String 返回原始表达式
func (r *Rule) String() string {
	return r.expr
}

// Evaluate 对结果执行规则。ictx 可以为 nil。
// 注意：访问不存在的 key 会报错，用 has(top.entity_id) 或 size(...) 判断存在性。
func (r *Rule) Evaluate(res *core.EnsembleResult, ictx *core.IdentifyContext) (bool, error) {
	if r == nil {
		return false, nil
	}
	out, _, err := r.prg.Eval(buildInput(res, ictx))
	if err != nil {
		return false, fmt.Errorf("eval error: %v", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return v, nil
}

// Eval 是一次性求值的便捷入口：编译并执行 expr。空表达式返回 false。
func Eval(expr string, res *core.EnsembleResult, ictx *core.IdentifyContext) (bool, error) {
	if expr == "" {
		return false, nil
	}
	rule, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return rule.Evaluate(res, ictx)
}

func buildInput(res *core.EnsembleResult, ictx *core.IdentifyContext) map[string]interface{} {
	result := map[string]interface{}{}
	top := map[string]interface{}{}
	if res != nil {
		modelErrors := make(map[string]interface{}, len(res.ModelErrors))
		for k, v := range res.ModelErrors {
			modelErrors[k] = v
		}
		consulted := make([]interface{}, 0, len(res.ModelsConsulted))
		for _, m := range res.ModelsConsulted {
			consulted = append(consulted, m)
		}
		result = map[string]interface{}{
			"identified":            res.Identified,
			"entity_id":             res.EntityID,
			"entity_name":           res.EntityName,
			"confidence":            res.Confidence,
			"strategy":              res.Strategy,
			"decision":              string(res.Decision),
			"message":               res.Message,
			"models_consulted":      consulted,
			"model_errors":          modelErrors,
			"consensus":             res.Consensus,
			"vote_count":            int64(res.VoteCount),
			"total_models":          int64(res.TotalModels),
			"disagreement":          res.Disagreement,
			"requires_verification": res.RequiresVerification,
			"stage":                 int64(res.Stage),
			"candidate_count":       int64(len(res.Candidates)),
		}
		if c := res.TopCandidate(); c != nil {
			scores := make(map[string]interface{}, len(c.ModelScores))
			for k, v := range c.ModelScores {
				scores[k] = v
			}
			top = map[string]interface{}{
				"entity_id":    c.ID,
				"entity_name":  c.Name,
				"score":        c.Score,
				"votes":        int64(c.Votes),
				"model_scores": scores,
			}
		}
	}

	labels := map[string]interface{}{}
	if ictx != nil {
		for k, v := range ictx.Labels {
			labels[k] = v.Value
		}
	}
	return map[string]interface{}{
		"result": result,
		"top":    top,
		"label":  labels,
	}
}

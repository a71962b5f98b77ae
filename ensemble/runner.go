package ensemble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/observability"
)

// DefaultModelTimeout 是注册表未配置超时时的单模型超时
var DefaultModelTimeout = (&core.DefaultIdentifyConfig{}).DefaultModelTimeout()

// Outcome 是单个模型一次 "生成向量 + 检索" 的结果。
type Outcome struct {
	ModelID  string
	Matches  []core.Match
	Err      error
	Duration time.Duration
}

// Usable 模型成功且至少检索到一个候选
func (o Outcome) Usable() bool {
	return o.Err == nil && len(o.Matches) > 0
}

// Runner 负责单个模型的调用：超时、向量生成、维度断言、归一化、检索、打点。
// 三种策略共享同一个 Runner。
type Runner struct {
	Provider       core.EmbeddingProvider
	Searcher       Searcher
	Catalog        ModelCatalog
	DefaultTimeout time.Duration
	Logger         observability.Logger
	Metrics        *observability.Metrics
}

func (r *Runner) timeout(modelID string) time.Duration {
	if r.Catalog != nil {
		if cfg, err := r.Catalog.Get(modelID); err == nil && cfg.Timeout > 0 {
			return cfg.Timeout
		}
	}
	if r.DefaultTimeout > 0 {
		return r.DefaultTimeout
	}
	return DefaultModelTimeout
}

// Run 调用一个模型。超时只影响该模型本身。
func (r *Runner) Run(ctx context.Context, modelID string, img core.Image, limit int, threshold float64) (out Outcome) {
	start := time.Now()
	out.ModelID = modelID

	ctx, span := observability.StartSpan(ctx, "ensemble.model",
		attribute.String("model", modelID),
		attribute.Int("limit", limit),
	)
	callCtx, cancel := context.WithTimeout(ctx, r.timeout(modelID))
	defer func() {
		cancel()
		out.Duration = time.Since(start)
		observability.EndSpan(span, out.Err)
		r.Metrics.ObserveModelCall(modelID, outcomeLabel(out), out.Duration)
		if out.Err != nil {
			observability.OrNop(r.Logger).Warn("model call failed", map[string]interface{}{
				"request_id": core.RequestIDFrom(ctx),
				"model":      modelID,
				"error":      out.Err.Error(),
			})
		}
	}()

	emb, err := r.Provider.GenerateEmbedding(callCtx, modelID, img)
	if err != nil {
		out.Err = classify(modelID, err)
		return out
	}
	if r.Catalog != nil {
		if err := r.Catalog.CheckDim(modelID, emb); err != nil {
			out.Err = err
			return out
		}
	}

	matches, err := r.Searcher.FindMatches(callCtx, core.Normalize(emb), modelID, limit, threshold)
	if err != nil {
		out.Err = fmt.Errorf("search %s: %w", modelID, err)
		return out
	}
	out.Matches = matches
	return out
}

// RunAll 并发调用多个模型，等待全部完成；结果顺序与 models 一致。
// 单个模型的失败或 panic 只记录在它自己的 Outcome 中，不取消其他模型。
func (r *Runner) RunAll(ctx context.Context, models []string, img core.Image, limit int, threshold float64, maxConcurrent int) []Outcome {
	outcomes := make([]Outcome, len(models))

	var g errgroup.Group
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	for i, modelID := range models {
		i, modelID := i, modelID
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					outcomes[i] = Outcome{ModelID: modelID, Err: fmt.Errorf("model %s panicked: %v", modelID, p)}
				}
			}()
			outcomes[i] = r.Run(ctx, modelID, img, limit, threshold)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// classify 把非领域错误归为暂时失败（超时、取消、未知错误）
func classify(modelID string, err error) error {
	if core.IsEmbeddingFailure(err) || core.IsUnknownModel(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewTransientError(modelID, "model call timed out", err)
	}
	return core.NewTransientError(modelID, "embedding failed", err)
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.Err != nil && core.IsPermanent(o.Err):
		return "permanent_error"
	case o.Err != nil:
		return "error"
	case len(o.Matches) == 0:
		return "no_match"
	default:
		return "ok"
	}
}

// finish 进入终态并打点
func (r *Runner) finish(res *core.EnsembleResult) *core.EnsembleResult {
	r.Metrics.ObserveDecision(res.Strategy, string(res.Decision))
	return res
}

// Package identify 是识别的对外入口：读取图片 → 检测 → 单模型或集成识别。
package identify

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rushteam/tigerid/calibration"
	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/ensemble"
	"github.com/rushteam/tigerid/observability"
	"github.com/rushteam/tigerid/pkg/dsl"
)

const (
	// ModeSingle 单模型识别
	ModeSingle = "single"
	// ModeEnsemble 集成识别
	ModeEnsemble = "ensemble"

	defaultBatch = 4
)

// ModelSet 返回当前已加载的模型（model.Loader 实现）
type ModelSet interface {
	Available(ctx context.Context) []string
}

// Request 是一次识别请求的参数。
type Request struct {
	// Threshold 相似度阈值；<= 0 时单模型用注册表中的默认阈值，集成用服务默认阈值
	Threshold float64
	// ModelID 单模型识别使用的模型，为空时用服务默认模型
	ModelID string
	// Ensemble 集成策略名（staggered / parallel / weighted），为空表示单模型识别
	Ensemble string
	// Params 透传给精排 Pipeline，例如 exclude_ids
	Params map[string]any
}

// Result 是识别结果。
type Result struct {
	*core.EnsembleResult

	RequestID    string          `json:"request_id"`
	Mode         string          `json:"mode"`
	ModelID      string          `json:"model_id,omitempty"`
	Threshold    float64         `json:"threshold"`
	Detection    *core.Detection `json:"detection,omitempty"`
	ReviewReason string          `json:"review_reason,omitempty"`
	Duration     time.Duration   `json:"duration"`
}

// Service 编排检测与识别。构造后只读，可并发使用。
type Service struct {
	detector   core.Detector
	runner     *ensemble.Runner
	models     ModelSet
	strategies map[string]ensemble.Strategy
	calibrator *calibration.Calibrator

	defaultModel     string
	defaultThreshold float64
	topK             int
	batchConcurrency int
	review           *dsl.Rule

	logger  observability.Logger
	metrics *observability.Metrics
}

// Option 配置 Service
type Option func(*Service)

// WithStrategy 注册（或覆盖）集成策略
func WithStrategy(s ensemble.Strategy) Option {
	return func(svc *Service) {
		svc.strategies[s.Name()] = s
	}
}

// WithCalibrator 设置内置 weighted 策略使用的校准器
func WithCalibrator(c *calibration.Calibrator) Option {
	return func(svc *Service) {
		svc.calibrator = c
	}
}

// WithDefaultModel 设置单模型识别的默认模型
func WithDefaultModel(modelID string) Option {
	return func(svc *Service) {
		svc.defaultModel = modelID
	}
}

// WithDefaultThreshold 设置集成识别的默认阈值
func WithDefaultThreshold(t float64) Option {
	return func(svc *Service) {
		svc.defaultThreshold = t
	}
}

// WithTopK 设置单模型识别返回的候选数
func WithTopK(k int) Option {
	return func(svc *Service) {
		svc.topK = k
	}
}

// WithBatchConcurrency 设置批量识别的并发数
func WithBatchConcurrency(n int) Option {
	return func(svc *Service) {
		svc.batchConcurrency = n
	}
}

// WithReviewRule 设置复核规则：规则为 true 时结果强制要求人工复核
func WithReviewRule(rule *dsl.Rule) Option {
	return func(svc *Service) {
		svc.review = rule
	}
}

// WithLogger 设置日志
func WithLogger(l observability.Logger) Option {
	return func(svc *Service) {
		svc.logger = l
	}
}

// WithMetrics 设置指标
func WithMetrics(m *observability.Metrics) Option {
	return func(svc *Service) {
		svc.metrics = m
	}
}

// New 创建识别服务。未通过 WithStrategy 覆盖的策略使用内置默认配置。
func New(detector core.Detector, runner *ensemble.Runner, models ModelSet, opts ...Option) *Service {
	defaults := &core.DefaultIdentifyConfig{}
	svc := &Service{
		detector:         detector,
		runner:           runner,
		models:           models,
		strategies:       make(map[string]ensemble.Strategy),
		defaultModel:     core.ModelTigerReID,
		defaultThreshold: defaults.DefaultSimilarityThreshold(),
		topK:             defaults.DefaultTopK(),
		batchConcurrency: defaultBatch,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = observability.OrNop(svc.logger)

	if _, ok := svc.strategies[ensemble.StrategyStaggered]; !ok {
		svc.strategies[ensemble.StrategyStaggered] = ensemble.NewStaggered(runner)
	}
	if _, ok := svc.strategies[ensemble.StrategyParallel]; !ok {
		svc.strategies[ensemble.StrategyParallel] = ensemble.NewParallel(runner)
	}
	if _, ok := svc.strategies[ensemble.StrategyWeighted]; !ok {
		cal := svc.calibrator
		if cal == nil {
			cal = calibration.New()
		}
		svc.strategies[ensemble.StrategyWeighted] = ensemble.NewWeighted(runner, cal)
	}
	return svc
}

// Strategies 返回已注册的策略名（排序）
func (s *Service) Strategies() []string {
	out := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IdentifyFromImage 识别一张图片。
//
// 返回 error 的情况：读图失败、检测失败、单模型识别的模型未注册、策略名未知、ctx 取消。
// "没有检测到老虎"、"新个体"、"模型分歧" 都以正常结果返回。
func (s *Service) IdentifyFromImage(ctx context.Context, r io.Reader, req Request) (res *Result, err error) {
	start := time.Now()
	requestID := uuid.NewString()
	ctx = core.WithRequestID(ctx, requestID)
	if req.Params != nil {
		ctx = core.WithParams(ctx, req.Params)
	}

	mode := ModeSingle
	if req.Ensemble != "" {
		mode = ModeEnsemble
	}
	ctx, span := observability.StartSpan(ctx, "identify.image",
		attribute.String("request_id", requestID),
		attribute.String("mode", mode),
	)
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.ObserveIdentification(mode, identifyOutcome(res, err))
		if err != nil {
			s.logger.Warn("identification failed", map[string]interface{}{
				"request_id": requestID,
				"mode":       mode,
				"error":      err.Error(),
			})
			return
		}
		if res == nil {
			return
		}
		res.Duration = time.Since(start)
		s.logger.Info("identification finished", map[string]interface{}{
			"request_id": requestID,
			"mode":       mode,
			"identified": res.Identified,
			"entity_id":  res.EntityID,
			"confidence": res.Confidence,
			"decision":   string(res.Decision),
			"duration":   res.Duration.String(),
		})
	}()

	// 先做无需远程调用的校验
	var strategy ensemble.Strategy
	modelID := req.ModelID
	if mode == ModeEnsemble {
		st, ok := s.strategies[req.Ensemble]
		if !ok {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
				fmt.Sprintf("unknown ensemble strategy %q, supported: %v", req.Ensemble, s.Strategies()))
		}
		strategy = st
	} else {
		if modelID == "" {
			modelID = s.defaultModel
		}
		if _, err := s.modelConfig(modelID); err != nil {
			return nil, err
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "read image", err)
	}
	if len(raw) == 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "empty image")
	}

	det, err := s.detector.Detect(ctx, raw)
	if err != nil {
		return nil, err
	}
	best, ok := det.Best()
	if !ok {
		label := req.Ensemble
		if label == "" {
			label = ModeSingle
		}
		er := core.NewEnsembleResult(label)
		er.Decision = core.DecisionRejected
		er.Message = core.MessageNoDetection
		return &Result{EnsembleResult: er, RequestID: requestID, Mode: mode, ModelID: req.ModelID, Threshold: req.Threshold}, nil
	}
	crop := best.Crop
	if len(crop) == 0 {
		crop = raw
	}
	img := core.ImageFromBytes(crop)
	detection := best
	detection.Crop = nil

	res = &Result{RequestID: requestID, Mode: mode, Detection: &detection}
	if mode == ModeEnsemble {
		threshold := req.Threshold
		if threshold <= 0 {
			threshold = s.defaultThreshold
		}
		available := s.models.Available(ctx)
		er, err := strategy.Identify(ctx, img, available, threshold)
		if err != nil {
			return nil, err
		}
		res.EnsembleResult = er
		res.Threshold = threshold
	} else {
		er, threshold, err := s.identifySingle(ctx, modelID, img, req.Threshold)
		if err != nil {
			return nil, err
		}
		res.EnsembleResult = er
		res.ModelID = modelID
		res.Threshold = threshold
	}

	s.applyReview(ctx, res, req)
	return res, nil
}

// identifySingle 单模型识别：生成一次向量，检索 top-K，最高分严格大于阈值才识别成功。
func (s *Service) identifySingle(ctx context.Context, modelID string, img core.Image, threshold float64) (*core.EnsembleResult, float64, error) {
	cfg, err := s.modelConfig(modelID)
	if err != nil {
		return nil, 0, err
	}
	if threshold <= 0 {
		threshold = cfg.SimilarityThreshold
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	res := core.NewEnsembleResult(ModeSingle)
	out := s.runner.Run(ctx, modelID, img, s.topK, 0)
	res.ModelsConsulted = append(res.ModelsConsulted, modelID)
	res.TotalModels = 1
	if out.Err != nil {
		if core.IsUnknownModel(out.Err) {
			return nil, 0, out.Err
		}
		res.RecordError(modelID, out.Err)
		res.Decision = core.DecisionNeedsReview
		res.Message = core.MessageNoModelResult
		res.RequiresVerification = true
		s.metrics.ObserveDecision(ModeSingle, string(res.Decision))
		return res, threshold, nil
	}

	for _, m := range out.Matches {
		c := core.NewCandidate(m.EntityID)
		c.Name = m.EntityName
		c.Score = m.Similarity
		c.ModelScores[modelID] = m.Similarity
		res.Candidates = append(res.Candidates, c)
	}
	top := res.TopCandidate()
	switch {
	case top != nil && top.Score > threshold:
		res.Identified = true
		res.EntityID = top.ID
		res.EntityName = top.Name
		res.Confidence = top.Score
		res.Decision = core.DecisionAccepted
		res.Message = core.MessageIdentified
	default:
		if top != nil {
			res.Confidence = top.Score
		}
		res.Decision = core.DecisionNeedsReview
		res.Message = core.MessageNewIndividual
		res.RequiresVerification = true
	}
	s.metrics.ObserveDecision(ModeSingle, string(res.Decision))
	return res, threshold, nil
}

func (s *Service) modelConfig(modelID string) (core.ModelConfig, error) {
	if s.runner == nil || s.runner.Catalog == nil {
		return core.ModelConfig{}, core.NewDomainError(core.ModuleService, core.ErrorCodeUnavailable, "model catalog is not configured")
	}
	return s.runner.Catalog.Get(modelID)
}

// applyReview 执行复核规则；规则出错只记录日志
func (s *Service) applyReview(ctx context.Context, res *Result, req Request) {
	if s.review == nil || res.EnsembleResult == nil {
		return
	}
	ictx := &core.IdentifyContext{
		RequestID: res.RequestID,
		Threshold: res.Threshold,
		Params:    req.Params,
	}
	hit, err := s.review.Evaluate(res.EnsembleResult, ictx)
	if err != nil {
		s.logger.Warn("review rule failed", map[string]interface{}{
			"request_id": core.RequestIDFrom(ctx),
			"rule":       s.review.String(),
			"error":      err.Error(),
		})
		return
	}
	if hit {
		res.RequiresVerification = true
		res.ReviewReason = s.review.String()
	}
}

func identifyOutcome(res *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res == nil || res.EnsembleResult == nil:
		return "unknown"
	case res.Message == core.MessageNoDetection:
		return "no_detection"
	case res.Identified:
		return "identified"
	default:
		return "unidentified"
	}
}

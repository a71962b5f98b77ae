package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/observability"
	"github.com/rushteam/tigerid/registry"
	"github.com/rushteam/tigerid/service"
)

// ClientFactory 为一个模型配置创建推理客户端
type ClientFactory func(cfg core.ModelConfig) (Embedder, error)

// DefaultLoadTimeout 是一轮模型加载（全部健康检查）的超时
const DefaultLoadTimeout = 30 * time.Second

// Loader 按注册表构造并加载模型，并作为集成层的 Embedding 来源。
//
// 模型在首次使用时加载；没有配置端点或 Load 失败的模型不会出现在 Available() 中，
// 但仍然是"已注册"的模型。加载脱离调用方的 ctx 取消，只受 loadTimeout 约束；
// 因超时失败的模型在下一次调用时重新探测，其他失败保持到进程结束。
type Loader struct {
	reg         *registry.Registry
	factory     ClientFactory
	logger      observability.Logger
	loadTimeout time.Duration

	loadMu  sync.Mutex
	built   bool
	loaded  bool
	pending []ReIDModel

	mu     sync.RWMutex
	models map[string]ReIDModel
	failed map[string]error
	preset []ReIDModel
}

// LoaderOption 配置 Loader
type LoaderOption func(*Loader)

// WithClientFactory 替换默认的 HTTP 客户端工厂
func WithClientFactory(f ClientFactory) LoaderOption {
	return func(l *Loader) {
		l.factory = f
	}
}

// WithModels 直接提供模型实例，跳过客户端工厂（测试或本地推理）
func WithModels(models ...ReIDModel) LoaderOption {
	return func(l *Loader) {
		l.preset = append(l.preset, models...)
	}
}

// WithLoaderLogger 设置日志
func WithLoaderLogger(logger observability.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithLoadTimeout 设置一轮加载的超时
func WithLoadTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.loadTimeout = d
	}
}

// NewLoader 创建 Loader
func NewLoader(reg *registry.Registry, opts ...LoaderOption) *Loader {
	l := &Loader{
		reg:    reg,
		models: make(map[string]ReIDModel),
		failed: make(map[string]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.factory == nil {
		l.factory = HTTPClientFactory()
	}
	if l.loadTimeout <= 0 {
		l.loadTimeout = DefaultLoadTimeout
	}
	l.logger = observability.OrNop(l.logger).WithPrefix("loader")
	return l
}

// HTTPClientFactory 返回基于 service.EmbeddingClient 的默认工厂，端点经 service.ValidateConfig 校验
func HTTPClientFactory(opts ...service.EmbeddingOption) ClientFactory {
	return func(cfg core.ModelConfig) (Embedder, error) {
		if cfg.Endpoint == "" {
			return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable, "model "+cfg.ID+": no endpoint configured")
		}
		client, err := service.NewEmbeddingClientFromConfig(&service.ServiceConfig{
			Type:      service.ServiceTypeEmbedding,
			Endpoint:  cfg.Endpoint,
			ModelName: cfg.ID,
			Timeout:   cfg.Timeout,
		}, append([]service.EmbeddingOption{service.WithExpectedDim(cfg.EmbeddingDim)}, opts...)...)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable, "model "+cfg.ID+": invalid endpoint", err)
		}
		return client, nil
	}
}

// Load 加载全部已注册模型；完成后不再重复。单个模型失败只记录，不影响其他模型。
func (l *Loader) Load(ctx context.Context) {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	if l.loaded {
		return
	}
	if !l.built {
		l.pending = l.build()
		l.built = true
	}

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
	defer cancel()

	var retry []ReIDModel
	for _, m := range l.pending {
		if !l.reg.Has(m.Name()) {
			l.markFailed(m.Name(), core.NewUnknownModelError(m.Name()))
			continue
		}
		if err := m.Load(probeCtx); err != nil {
			l.markFailed(m.Name(), err)
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				retry = append(retry, m)
			}
			continue
		}
		l.mu.Lock()
		l.models[m.Name()] = m
		delete(l.failed, m.Name())
		l.mu.Unlock()
		l.logger.Info("model loaded", map[string]interface{}{"model": m.Name(), "dim": m.EmbeddingDim()})
	}
	l.pending = retry
	l.loaded = len(retry) == 0
}

// build 为每个注册模型创建实例；工厂失败的模型直接记为不可用
func (l *Loader) build() []ReIDModel {
	candidates := make([]ReIDModel, 0, len(l.preset))
	seen := make(map[string]struct{})
	for _, m := range l.preset {
		candidates = append(candidates, m)
		seen[m.Name()] = struct{}{}
	}
	for _, cfg := range l.reg.Configs() {
		if _, ok := seen[cfg.ID]; ok {
			continue
		}
		client, err := l.factory(cfg)
		if err != nil {
			l.markFailed(cfg.ID, err)
			continue
		}
		candidates = append(candidates, NewRemoteModel(cfg, client))
	}
	return candidates
}

func (l *Loader) markFailed(modelID string, err error) {
	l.mu.Lock()
	l.failed[modelID] = err
	l.mu.Unlock()
	l.logger.Warn("model unavailable", map[string]interface{}{"model": modelID, "error": err.Error()})
}

// Available 返回已成功加载的模型标识（排序）
func (l *Loader) Available(ctx context.Context) []string {
	l.Load(ctx)
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.models))
	for id := range l.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Failures 返回加载失败的模型及原因
func (l *Loader) Failures(ctx context.Context) map[string]error {
	l.Load(ctx)
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]error, len(l.failed))
	for k, v := range l.failed {
		out[k] = v
	}
	return out
}

// Model 返回已加载的模型。未注册返回 UnknownModelError；已注册但不可用返回 UNAVAILABLE。
func (l *Loader) Model(ctx context.Context, modelID string) (ReIDModel, error) {
	if !l.reg.Has(modelID) {
		return nil, core.NewUnknownModelError(modelID)
	}
	l.Load(ctx)
	l.mu.RLock()
	defer l.mu.RUnlock()
	if m, ok := l.models[modelID]; ok {
		return m, nil
	}
	cause := l.failed[modelID]
	return nil, core.WrapDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable,
		fmt.Sprintf("model %s is not loaded", modelID), cause)
}

// GenerateEmbedding 实现 core.EmbeddingProvider。
// 未注册的模型在任何远程调用之前失败；未加载的模型视为暂时失败。
func (l *Loader) GenerateEmbedding(ctx context.Context, modelID string, img core.Image) (core.Embedding, error) {
	m, err := l.Model(ctx, modelID)
	if err != nil {
		if core.IsUnknownModel(err) {
			return nil, err
		}
		return nil, core.NewTransientError(modelID, "model unavailable", err)
	}
	return m.GenerateEmbedding(ctx, img)
}

var _ core.EmbeddingProvider = (*Loader)(nil)

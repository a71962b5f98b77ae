package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 是识别链路的 Prometheus 指标。
// 所有方法对 nil 接收者安全，未配置指标时直接跳过。
type Metrics struct {
	ModelCalls        *prometheus.CounterVec
	ModelCallDuration *prometheus.HistogramVec
	Decisions         *prometheus.CounterVec
	Identifications   *prometheus.CounterVec
	EmbeddingRetries  *prometheus.CounterVec
	CacheHits         *prometheus.CounterVec
}

// NewMetrics 在给定 Registerer 上注册指标；reg 为 nil 时使用一个新的 Registry。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		ModelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tigerid_model_calls_total",
			Help: "Total number of embedding+search calls per model and outcome",
		}, []string{"model", "outcome"}),
		ModelCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tigerid_model_call_duration_seconds",
			Help:    "Duration of embedding+search per model",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"model"}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tigerid_ensemble_decisions_total",
			Help: "Ensemble decisions by strategy and terminal state",
		}, []string{"strategy", "decision"}),
		Identifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tigerid_identifications_total",
			Help: "Identification requests by mode and outcome",
		}, []string{"mode", "outcome"}),
		EmbeddingRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tigerid_embedding_retries_total",
			Help: "Retried embedding requests per model",
		}, []string{"model"}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tigerid_embedding_cache_total",
			Help: "Embedding cache lookups by result",
		}, []string{"result"}),
	}
}

// ObserveModelCall 记录一次模型调用
func (m *Metrics) ObserveModelCall(model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelCalls.WithLabelValues(model, outcome).Inc()
	m.ModelCallDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveDecision 记录一次集成决策
func (m *Metrics) ObserveDecision(strategy, decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(strategy, decision).Inc()
}

// ObserveIdentification 记录一次识别请求
func (m *Metrics) ObserveIdentification(mode, outcome string) {
	if m == nil {
		return
	}
	m.Identifications.WithLabelValues(mode, outcome).Inc()
}

// ObserveRetry 记录一次 Embedding 重试
func (m *Metrics) ObserveRetry(model string) {
	if m == nil {
		return
	}
	m.EmbeddingRetries.WithLabelValues(model).Inc()
}

// ObserveCache 记录缓存命中/未命中
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheHits.WithLabelValues(result).Inc()
}

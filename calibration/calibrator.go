// Package calibration 负责让结构不同的模型分数可比较，并把多个模型对同一候选的意见融合为一个分数。
//
// 校准使用温度缩放：calibrated = clamp(raw / T, 0, 1)，T 在使用前被限制到 [0.1, 5.0]。
// 融合使用加权平均，权重只在实际给出分数的模型之间归一化。
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rushteam/tigerid/core"
)

const (
	MinTemperature     = 0.1
	MaxTemperature     = 5.0
	DefaultTemperature = 1.0
	// DefaultWeight 是未配置模型的集成权重
	DefaultWeight = 0.1
)

// DefaultTemperatures 返回内置温度表
func DefaultTemperatures() map[string]float64 {
	return map[string]float64{
		core.ModelTigerReID:       1.2,
		core.ModelWildlifeTools:   1.0,
		core.ModelCVWC2019ReID:    0.9,
		core.ModelRapidReID:       1.3,
		core.ModelTransReID:       1.1,
		core.ModelMegaDescriptorB: 1.0,
	}
}

// DefaultWeights 返回内置集成权重表
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		core.ModelWildlifeTools:   0.40,
		core.ModelCVWC2019ReID:    0.30,
		core.ModelTransReID:       0.20,
		core.ModelMegaDescriptorB: 0.15,
		core.ModelTigerReID:       0.10,
		core.ModelRapidReID:       0.05,
	}
}

// Calibrator 保存每个模型的温度与权重。
//
// 温度表与权重表相互独立，可分别覆盖。setter 只保证单次操作的原子性，
// 多个并发调用方之间的读-改-写不做版本控制。
type Calibrator struct {
	mu           sync.RWMutex
	temperatures map[string]float64
	weights      map[string]float64
	// optErrs 收集选项中被丢弃的非法项
	optErrs []error
}

// Option 配置 Calibrator
type Option func(*Calibrator)

// WithTemperatures 覆盖默认温度表。
// 非正或 NaN 的温度被丢弃（该模型回落到 1.0）；超出 [0.1, 5.0] 的温度保留，使用时限制到区间内。
func WithTemperatures(t map[string]float64) Option {
	return func(c *Calibrator) {
		c.temperatures = make(map[string]float64, len(t))
		for _, id := range sortedKeys(t) {
			v := t[id]
			if math.IsNaN(v) || v <= 0 {
				c.optErrs = append(c.optErrs, core.NewInvalidCalibrationError(
					fmt.Sprintf("temperature for %s must be positive, got %v", id, v)))
				continue
			}
			c.temperatures[id] = v
		}
	}
}

// WithWeights 覆盖默认权重表。负数、NaN 或无穷大的权重被丢弃（该模型回落到 0.1）。
func WithWeights(w map[string]float64) Option {
	return func(c *Calibrator) {
		c.weights = make(map[string]float64, len(w))
		for _, id := range sortedKeys(w) {
			v := w[id]
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				c.optErrs = append(c.optErrs, core.NewInvalidCalibrationError(
					fmt.Sprintf("weight for %s must be non-negative, got %v", id, v)))
				continue
			}
			c.weights[id] = v
		}
	}
}

// New 创建 Calibrator，默认使用内置温度表与权重表。
// 选项中的非法项被静默丢弃，需要感知时使用 NewValidated。
func New(opts ...Option) *Calibrator {
	c := &Calibrator{
		temperatures: DefaultTemperatures(),
		weights:      DefaultWeights(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewValidated 同 New，但选项中存在非法项时返回 InvalidCalibrationError
func NewValidated(opts ...Option) (*Calibrator, error) {
	c := New(opts...)
	if err := errors.Join(c.optErrs...); err != nil {
		return nil, err
	}
	return c, nil
}

// ClampTemperature 将温度限制到 [0.1, 5.0]
func ClampTemperature(t float64) float64 {
	return math.Max(MinTemperature, math.Min(MaxTemperature, t))
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}

// Temperature 返回实际生效的温度（已限制区间），未知模型为 1.0
func (c *Calibrator) Temperature(modelID string) float64 {
	c.mu.RLock()
	t, ok := c.temperatures[modelID]
	c.mu.RUnlock()
	if !ok {
		t = DefaultTemperature
	}
	return ClampTemperature(t)
}

// Weight 返回模型的集成权重，未知模型为 0.1
func (c *Calibrator) Weight(modelID string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.weights[modelID]; ok {
		return w
	}
	return DefaultWeight
}

// Calibrate 计算 raw / T 并限制到 [0, 1]。对 raw 单调不减。
func (c *Calibrator) Calibrate(raw float64, modelID string) float64 {
	return clamp01(raw / c.Temperature(modelID))
}

// SetTemperature 设置模型温度；t 必须为正且位于 [0.1, 5.0]，否则返回 InvalidCalibrationError 且状态不变。
func (c *Calibrator) SetTemperature(modelID string, t float64) error {
	if math.IsNaN(t) || t <= 0 {
		return core.NewInvalidCalibrationError(fmt.Sprintf("temperature for %s must be positive, got %v", modelID, t))
	}
	if t < MinTemperature || t > MaxTemperature {
		return core.NewInvalidCalibrationError(fmt.Sprintf("temperature for %s must be in [%.1f, %.1f], got %v",
			modelID, MinTemperature, MaxTemperature, t))
	}
	c.mu.Lock()
	c.temperatures[modelID] = t
	c.mu.Unlock()
	return nil
}

// SetWeight 设置模型权重；w 必须非负，否则返回 InvalidCalibrationError 且状态不变。
func (c *Calibrator) SetWeight(modelID string, w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return core.NewInvalidCalibrationError(fmt.Sprintf("weight for %s must be non-negative, got %v", modelID, w))
	}
	c.mu.Lock()
	c.weights[modelID] = w
	c.mu.Unlock()
	return nil
}

// FuseScores 对各模型分数做加权平均。
//
// 只有出现在 scores 中的模型参与分子与分母，即按"可用权重"归一化：
// 只被一个模型看到的候选不会因其他模型缺席而被惩罚。
// scores 为空或总权重为 0 时返回 0。
func (c *Calibrator) FuseScores(scores map[string]float64, calibrateFirst bool) float64 {
	if len(scores) == 0 {
		return 0
	}
	var weighted, total float64
	for modelID, raw := range scores {
		w := c.Weight(modelID)
		if w <= 0 {
			continue
		}
		s := raw
		if calibrateFirst {
			s = c.Calibrate(raw, modelID)
		}
		weighted += w * s
		total += w
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// FusedScore 是跨模型融合后的候选
type FusedScore struct {
	EntityID    string
	EntityName  string
	Score       float64
	ModelScores map[string]float64 // 原始相似度（未校准）
}

// FuseMatchLists 按个体聚合各模型的检索结果并融合，按融合分数降序返回。
//
// 某个模型没有检索到的个体对该模型不贡献任何东西；同一模型内同一个体出现多次时取最大值。
// 分数相同按个体 ID 升序，保证结果确定。
func (c *Calibrator) FuseMatchLists(lists map[string][]core.Match, calibrateFirst bool) []FusedScore {
	byEntity := make(map[string]*FusedScore)
	for modelID, matches := range lists {
		for _, m := range matches {
			fs, ok := byEntity[m.EntityID]
			if !ok {
				fs = &FusedScore{EntityID: m.EntityID, ModelScores: make(map[string]float64)}
				byEntity[m.EntityID] = fs
			}
			if fs.EntityName == "" {
				fs.EntityName = m.EntityName
			}
			if old, seen := fs.ModelScores[modelID]; !seen || m.Similarity > old {
				fs.ModelScores[modelID] = m.Similarity
			}
		}
	}

	out := make([]FusedScore, 0, len(byEntity))
	for _, fs := range byEntity {
		fs.Score = c.FuseScores(fs.ModelScores, calibrateFirst)
		out = append(out, *fs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package calibration

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/tigerid/core"
)

func TestCalibrate_MonotonicAndBounded(t *testing.T) {
	c := New()
	models := append([]string{"unknown_model"}, core.ModelTigerReID, core.ModelWildlifeTools,
		core.ModelCVWC2019ReID, core.ModelRapidReID, core.ModelTransReID, core.ModelMegaDescriptorB)

	for _, m := range models {
		t.Run(m, func(t *testing.T) {
			prev := -1.0
			for x := -1.5; x <= 1.5; x += 0.01 {
				got := c.Calibrate(x, m)
				assert.GreaterOrEqual(t, got, 0.0)
				assert.LessOrEqual(t, got, 1.0)
				assert.GreaterOrEqual(t, got, prev, "calibrate must be non-decreasing at x=%v", x)
				prev = got
			}
		})
	}
}

func TestCalibrate_Values(t *testing.T) {
	c := New(WithTemperatures(map[string]float64{"a": 2.0, "tiny": 0.01, "huge": 50, "neg": -1}))

	assert.InDelta(t, 0.4, c.Calibrate(0.8, "a"), 1e-12)
	// 未知模型温度为 1.0
	assert.InDelta(t, 0.8, c.Calibrate(0.8, "unknown"), 1e-12)
	// 温度被限制到 [0.1, 5.0]
	assert.InDelta(t, MinTemperature, c.Temperature("tiny"), 1e-12)
	assert.InDelta(t, MaxTemperature, c.Temperature("huge"), 1e-12)
	assert.InDelta(t, DefaultTemperature, c.Temperature("neg"), 1e-12)
	assert.InDelta(t, 1.0, c.Calibrate(0.5, "tiny"), 1e-12)
	assert.InDelta(t, 0.0, c.Calibrate(-0.3, "a"), 1e-12)
}

func TestNewValidated(t *testing.T) {
	_, err := NewValidated(WithTemperatures(map[string]float64{"a": 2.0, "zero": 0, "neg": -1}))
	require.Error(t, err)
	assert.True(t, core.IsInvalidCalibration(err))
	assert.Contains(t, err.Error(), "zero")
	assert.Contains(t, err.Error(), "neg")

	_, err = NewValidated(WithWeights(map[string]float64{"a": 0.5, "bad": -0.2}))
	assert.True(t, core.IsInvalidCalibration(err))

	c, err := NewValidated(
		WithTemperatures(map[string]float64{"a": 2.0, "huge": 50}),
		WithWeights(map[string]float64{"a": 0.5, "off": 0}),
	)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, c.Temperature("a"), 1e-12)
	assert.InDelta(t, MaxTemperature, c.Temperature("huge"), 1e-12)
	assert.InDelta(t, 0.0, c.Weight("off"), 1e-12)

	// New 丢弃非法项，对应模型使用默认值
	c = New(WithWeights(map[string]float64{"bad": -0.2}))
	assert.InDelta(t, DefaultWeight, c.Weight("bad"), 1e-12)
	_, present := c.Profile().Weights["bad"]
	assert.False(t, present)
}

func TestSetTemperature(t *testing.T) {
	c := New()
	before := c.Temperature(core.ModelTransReID)

	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{name: "zero", value: 0, wantErr: true},
		{name: "negative", value: -0.5, wantErr: true},
		{name: "below bound", value: 0.05, wantErr: true},
		{name: "above bound", value: 5.5, wantErr: true},
		{name: "lower edge", value: 0.1},
		{name: "upper edge", value: 5.0},
		{name: "in range", value: 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			err := c.SetTemperature(core.ModelTransReID, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsInvalidCalibration(err))
				assert.Equal(t, before, c.Temperature(core.ModelTransReID), "state must be unchanged")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ClampTemperature(tt.value), c.Temperature(core.ModelTransReID))
		})
	}
}

func TestSetWeight(t *testing.T) {
	c := New()
	err := c.SetWeight(core.ModelTigerReID, -0.1)
	require.Error(t, err)
	assert.True(t, core.IsInvalidCalibration(err))
	assert.Equal(t, 0.10, c.Weight(core.ModelTigerReID))

	require.NoError(t, c.SetWeight(core.ModelTigerReID, 0))
	assert.Equal(t, 0.0, c.Weight(core.ModelTigerReID))
	assert.Equal(t, DefaultWeight, c.Weight("unknown"))

	// 温度表与权重表相互独立
	assert.Equal(t, DefaultTemperatures()[core.ModelTigerReID], c.Temperature(core.ModelTigerReID))
}

func TestFuseScores(t *testing.T) {
	c := New(WithWeights(map[string]float64{"model_a": 0.7, "model_b": 0.3, "zero": 0}))

	assert.Equal(t, 0.0, c.FuseScores(map[string]float64{}, true))
	assert.Equal(t, 0.0, c.FuseScores(nil, false))

	// 单模型融合等于该模型自身分数
	assert.InDelta(t, 1.0, c.FuseScores(map[string]float64{"model_a": 1.0}, false), 1e-12)
	assert.InDelta(t, 0.42, c.FuseScores(map[string]float64{"unknown": 0.42}, false), 1e-12)

	// 加权平均，而非简单平均
	got := c.FuseScores(map[string]float64{"model_a": 0.9, "model_b": 0.5}, false)
	assert.InDelta(t, (0.7*0.9+0.3*0.5)/1.0, got, 1e-12)

	// 总权重为 0
	assert.Equal(t, 0.0, c.FuseScores(map[string]float64{"zero": 0.9}, false))
	// 0 权重模型不影响其他模型
	assert.InDelta(t, 0.9, c.FuseScores(map[string]float64{"zero": 0.1, "model_a": 0.9}, false), 1e-12)
}

func TestFuseScores_CalibrateFirst(t *testing.T) {
	c := New(
		WithTemperatures(map[string]float64{"model_a": 2.0}),
		WithWeights(map[string]float64{"model_a": 1.0}),
	)
	assert.InDelta(t, 0.45, c.FuseScores(map[string]float64{"model_a": 0.9}, true), 1e-12)
	assert.InDelta(t, 0.9, c.FuseScores(map[string]float64{"model_a": 0.9}, false), 1e-12)
}

func TestFuseMatchLists_NormalizesByAvailableWeight(t *testing.T) {
	c := New(
		WithTemperatures(map[string]float64{}),
		WithWeights(map[string]float64{"strong": 0.8, "weak": 0.2}),
	)

	lists := map[string][]core.Match{
		"strong": {
			{EntityID: "A", EntityName: "Raja", Similarity: 0.90},
			{EntityID: "B", Similarity: 0.70},
		},
		"weak": {
			{EntityID: "A", Similarity: 0.60},
			{EntityID: "C", EntityName: "Kali", Similarity: 0.95},
			{EntityID: "C", Similarity: 0.50}, // 同一模型多张参考图，取最大
		},
	}

	fused := c.FuseMatchLists(lists, false)
	require.Len(t, fused, 3)

	// C 只被 weak 看到：按可用权重归一化，分数就是 0.95
	assert.Equal(t, "C", fused[0].EntityID)
	assert.Equal(t, "Kali", fused[0].EntityName)
	assert.InDelta(t, 0.95, fused[0].Score, 1e-12)

	assert.Equal(t, "A", fused[1].EntityID)
	assert.Equal(t, "Raja", fused[1].EntityName)
	assert.InDelta(t, 0.8*0.9+0.2*0.6, fused[1].Score, 1e-12)
	assert.Equal(t, map[string]float64{"strong": 0.9, "weak": 0.6}, fused[1].ModelScores)

	assert.Equal(t, "B", fused[2].EntityID)
	assert.InDelta(t, 0.70, fused[2].Score, 1e-12)
}

func TestFuseMatchLists_Empty(t *testing.T) {
	assert.Empty(t, New().FuseMatchLists(nil, true))
}

func TestProfile_RoundTripAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	p := &Profile{
		Temperatures:  map[string]float64{core.ModelWildlifeTools: 0.95, core.ModelTransReID: 9},
		Weights:       map[string]float64{core.ModelWildlifeTools: 0.45, core.ModelRapidReID: -1},
		Rank1Accuracy: 0.912,
	}
	require.NoError(t, SaveProfile(path, p))

	loaded, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)

	c := New()
	err = c.Apply(loaded)
	require.Error(t, err)
	assert.True(t, core.IsInvalidCalibration(err))

	assert.Equal(t, 0.95, c.Temperature(core.ModelWildlifeTools))
	assert.Equal(t, 0.45, c.Weight(core.ModelWildlifeTools))
	// 非法项不生效
	assert.Equal(t, DefaultTemperatures()[core.ModelTransReID], c.Temperature(core.ModelTransReID))
	assert.Equal(t, DefaultWeights()[core.ModelRapidReID], c.Weight(core.ModelRapidReID))

	snap := c.Profile()
	assert.Equal(t, 0.45, snap.Weights[core.ModelWildlifeTools])
}

func TestLoadProfile_Missing(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRank1Accuracy(t *testing.T) {
	c := New(WithTemperatures(map[string]float64{}), WithWeights(map[string]float64{"m1": 1, "m2": 1}))
	queries := []EvalQuery{
		{TruthID: "A", Lists: map[string][]core.Match{"m1": {{EntityID: "A", Similarity: 0.9}}}},
		{TruthID: "B", Lists: map[string][]core.Match{
			"m1": {{EntityID: "A", Similarity: 0.6}, {EntityID: "B", Similarity: 0.5}},
			"m2": {{EntityID: "B", Similarity: 0.9}},
		}},
		{TruthID: "C", Lists: map[string][]core.Match{"m1": {{EntityID: "A", Similarity: 0.9}}}},
	}
	assert.InDelta(t, 2.0/3.0, c.Rank1Accuracy(queries), 1e-12)
	assert.Equal(t, 0.0, c.Rank1Accuracy(nil))
}

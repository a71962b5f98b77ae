package ensemble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/tigerid/calibration"
	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/filter"
	"github.com/rushteam/tigerid/pipeline"
	"github.com/rushteam/tigerid/registry"
)

const testDim = 4

type fakeProvider struct {
	mu     sync.Mutex
	calls  map[string]int
	errs   map[string]error
	dims   map[string]int
	panics map[string]bool
	delay  map[string]time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:  make(map[string]int),
		errs:   make(map[string]error),
		dims:   make(map[string]int),
		panics: make(map[string]bool),
		delay:  make(map[string]time.Duration),
	}
}

func (p *fakeProvider) GenerateEmbedding(ctx context.Context, modelID string, _ core.Image) (core.Embedding, error) {
	p.mu.Lock()
	p.calls[modelID]++
	err, dim, panics, delay := p.errs[modelID], p.dims[modelID], p.panics[modelID], p.delay[modelID]
	p.mu.Unlock()

	if panics {
		panic("boom")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		dim = testDim
	}
	emb := make(core.Embedding, dim)
	emb[0] = 1
	return emb, nil
}

func (p *fakeProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

type fakeSearcher struct {
	results map[string][]core.Match
}

func (s *fakeSearcher) FindMatches(_ context.Context, _ core.Embedding, modelID string, limit int, threshold float64) ([]core.Match, error) {
	var out []core.Match
	for _, m := range s.results[modelID] {
		if m.Similarity < threshold || len(out) >= limit {
			break
		}
		m.ModelID = modelID
		out = append(out, m)
	}
	return out, nil
}

func match(id string, sim float64) core.Match {
	return core.Match{EntityID: id, EntityName: "tiger " + id, Similarity: sim}
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	ids := []string{
		core.ModelTigerReID, core.ModelWildlifeTools, core.ModelCVWC2019ReID,
		core.ModelRapidReID, core.ModelTransReID, core.ModelMegaDescriptorB,
	}
	cfgs := make([]core.ModelConfig, 0, len(ids))
	for _, id := range ids {
		cfgs = append(cfgs, core.ModelConfig{ID: id, EmbeddingDim: testDim, SimilarityThreshold: 0.8})
	}
	reg, err := registry.New(cfgs...)
	require.NoError(t, err)
	return reg
}

func newRunner(t *testing.T, p *fakeProvider, results map[string][]core.Match) *Runner {
	return &Runner{
		Provider: p,
		Searcher: &fakeSearcher{results: results},
		Catalog:  testRegistry(t),
	}
}

var allModels = []string{core.ModelRapidReID, core.ModelWildlifeTools, core.ModelCVWC2019ReID}

var img = core.ImageFromBytes([]byte("tiger"))

func TestStaggered(t *testing.T) {
	tests := []struct {
		name       string
		results    map[string][]core.Match
		errs       map[string]error
		available  []string
		decision   core.Decision
		identified bool
		entity     string
		stage      int
		consulted  []string
		message    string
	}{
		{
			name:       "first stage confident accept",
			results:    map[string][]core.Match{core.ModelRapidReID: {match("A", 0.95)}},
			available:  allModels,
			decision:   core.DecisionAccepted,
			identified: true,
			entity:     "A",
			stage:      1,
			consulted:  []string{core.ModelRapidReID},
			message:    core.MessageIdentified,
		},
		{
			name:      "first stage confident reject",
			results:   map[string][]core.Match{core.ModelRapidReID: {match("A", 0.50)}},
			available: allModels,
			decision:  core.DecisionRejected,
			stage:     1,
			consulted: []string{core.ModelRapidReID},
			message:   core.MessageLowConfidence,
		},
		{
			name: "escalates to last stage",
			results: map[string][]core.Match{
				core.ModelRapidReID:     {match("A", 0.75)},
				core.ModelWildlifeTools: {match("A", 0.70)},
				core.ModelCVWC2019ReID:  {match("A", 0.85)},
			},
			available:  allModels,
			decision:   core.DecisionAccepted,
			identified: true,
			entity:     "A",
			stage:      3,
			consulted:  allModels,
			message:    core.MessageIdentified,
		},
		{
			name: "failed stage is skipped",
			results: map[string][]core.Match{
				core.ModelWildlifeTools: {match("B", 0.90)},
			},
			errs:       map[string]error{core.ModelRapidReID: core.NewTransientError(core.ModelRapidReID, "queued", nil)},
			available:  allModels,
			decision:   core.DecisionAccepted,
			identified: true,
			entity:     "B",
			stage:      2,
			consulted:  []string{core.ModelRapidReID, core.ModelWildlifeTools},
			message:    core.MessageIdentified,
		},
		{
			name: "exhausted stages need review",
			results: map[string][]core.Match{
				core.ModelRapidReID:     {match("A", 0.75)},
				core.ModelWildlifeTools: {match("A", 0.70)},
				core.ModelCVWC2019ReID:  {match("A", 0.30)},
			},
			available: allModels,
			decision:  core.DecisionNeedsReview,
			consulted: allModels,
			message:   core.MessageNewIndividual,
		},
		{
			name:       "unavailable stages are not called",
			results:    map[string][]core.Match{core.ModelCVWC2019ReID: {match("C", 0.81)}},
			available:  []string{core.ModelCVWC2019ReID},
			decision:   core.DecisionAccepted,
			identified: true,
			entity:     "C",
			stage:      3,
			consulted:  []string{core.ModelCVWC2019ReID},
			message:    core.MessageIdentified,
		},
		{
			name: "every stage failed",
			errs: map[string]error{
				core.ModelRapidReID:     errors.New("down"),
				core.ModelWildlifeTools: errors.New("down"),
				core.ModelCVWC2019ReID:  errors.New("down"),
			},
			available: allModels,
			decision:  core.DecisionNeedsReview,
			consulted: allModels,
			message:   core.MessageNoModelResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			for k, v := range tt.errs {
				p.errs[k] = v
			}
			s := NewStaggered(newRunner(t, p, tt.results))

			res, err := s.Identify(context.Background(), img, tt.available, 0.8)
			require.NoError(t, err)
			assert.Equal(t, StrategyStaggered, res.Strategy)
			assert.Equal(t, tt.decision, res.Decision)
			assert.Equal(t, tt.identified, res.Identified)
			assert.Equal(t, tt.entity, res.EntityID)
			assert.Equal(t, tt.stage, res.Stage)
			assert.Equal(t, tt.consulted, res.ModelsConsulted)
			assert.Equal(t, tt.message, res.Message)
			assert.Equal(t, len(tt.consulted), p.total())
			assert.True(t, res.Decision.Terminal())
			if !tt.identified {
				assert.True(t, res.RequiresVerification)
			}
			for id := range tt.errs {
				assert.Contains(t, res.ModelErrors, id)
			}
		})
	}
}

func TestStaggered_StopsAfterConfidentStage(t *testing.T) {
	p := newFakeProvider()
	s := NewStaggered(newRunner(t, p, map[string][]core.Match{
		core.ModelRapidReID:     {match("A", 0.95)},
		core.ModelWildlifeTools: {match("B", 0.99)},
	}))

	res, err := s.Identify(context.Background(), img, allModels, 0.8)
	require.NoError(t, err)
	assert.Equal(t, "A", res.EntityID)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, 1, p.calls[core.ModelRapidReID])
	assert.Zero(t, p.calls[core.ModelWildlifeTools])
	assert.Zero(t, p.calls[core.ModelCVWC2019ReID])
}

func TestParallel_MajorityVote(t *testing.T) {
	p := newFakeProvider()
	par := NewParallel(newRunner(t, p, map[string][]core.Match{
		core.ModelRapidReID:     {match("A", 0.90)},
		core.ModelWildlifeTools: {match("A", 0.85)},
		core.ModelCVWC2019ReID:  {match("B", 0.99)},
	}))

	res, err := par.Identify(context.Background(), img, allModels, 0.5)
	require.NoError(t, err)
	assert.True(t, res.Identified)
	assert.Equal(t, "A", res.EntityID)
	assert.Equal(t, "tiger A", res.EntityName)
	assert.InDelta(t, 0.875, res.Confidence, 1e-9)
	assert.Equal(t, 2, res.VoteCount)
	assert.Equal(t, 3, res.TotalModels)
	assert.True(t, res.Consensus)
	assert.False(t, res.Disagreement)
	assert.Equal(t, core.DecisionAccepted, res.Decision)
	assert.Equal(t, 3, p.total())
	assert.ElementsMatch(t, allModels, res.ModelsConsulted)
}

func TestParallel_SplitVoteNeedsReview(t *testing.T) {
	models := []string{core.ModelRapidReID, core.ModelWildlifeTools, core.ModelCVWC2019ReID, core.ModelTransReID}
	p := newFakeProvider()
	par := NewParallel(newRunner(t, p, map[string][]core.Match{
		core.ModelRapidReID:     {match("A", 0.90)},
		core.ModelWildlifeTools: {match("A", 0.80)},
		core.ModelCVWC2019ReID:  {match("B", 0.95)},
		core.ModelTransReID:     {match("B", 0.70)},
	}))

	res, err := par.Identify(context.Background(), img, models, 0.5)
	require.NoError(t, err)
	assert.False(t, res.Identified)
	assert.Empty(t, res.EntityID)
	assert.True(t, res.Disagreement)
	assert.True(t, res.RequiresVerification)
	assert.Equal(t, core.DecisionNeedsReview, res.Decision)
	assert.Equal(t, core.MessageModelsDisagree, res.Message)
	require.Len(t, res.Candidates, 2)
	// 票数相同按平均相似度：A 0.85 > B 0.825
	assert.Equal(t, "A", res.Candidates[0].ID)
	assert.Equal(t, "B", res.Candidates[1].ID)
	assert.Equal(t, 4, res.TotalModels)
}

func TestParallel_FailuresExcludedFromVote(t *testing.T) {
	p := newFakeProvider()
	p.errs[core.ModelCVWC2019ReID] = core.NewPermanentError(core.ModelCVWC2019ReID, "rejected", nil)
	par := NewParallel(newRunner(t, p, map[string][]core.Match{
		core.ModelRapidReID:     {match("A", 0.90)},
		core.ModelWildlifeTools: {match("A", 0.80)},
	}))

	res, err := par.Identify(context.Background(), img, allModels, 0.5)
	require.NoError(t, err)
	assert.True(t, res.Identified)
	assert.Equal(t, 2, res.TotalModels)
	assert.Len(t, res.ModelsConsulted, 3)
	assert.Contains(t, res.ModelErrors, core.ModelCVWC2019ReID)
}

func TestParallel_NoUsableResult(t *testing.T) {
	t.Run("all failed", func(t *testing.T) {
		p := newFakeProvider()
		for _, id := range allModels {
			p.errs[id] = errors.New("down")
		}
		res, err := NewParallel(newRunner(t, p, nil)).Identify(context.Background(), img, allModels, 0.5)
		require.NoError(t, err)
		assert.Equal(t, core.MessageNoModelResult, res.Message)
		assert.Equal(t, core.DecisionNeedsReview, res.Decision)
		assert.Len(t, res.ModelErrors, 3)
	})

	t.Run("nothing above threshold", func(t *testing.T) {
		p := newFakeProvider()
		res, err := NewParallel(newRunner(t, p, map[string][]core.Match{
			core.ModelRapidReID: {match("A", 0.40)},
		})).Identify(context.Background(), img, allModels, 0.5)
		require.NoError(t, err)
		assert.False(t, res.Identified)
		assert.Equal(t, core.MessageNewIndividual, res.Message)
		assert.True(t, res.RequiresVerification)
	})
}

func TestParallel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newFakeProvider()
	_, err := NewParallel(newRunner(t, p, nil)).Identify(ctx, img, allModels, 0.5)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.total())
}

func weightedResults() map[string][]core.Match {
	return map[string][]core.Match{
		core.ModelWildlifeTools: {match("A", 0.90), match("B", 0.60)},
		core.ModelCVWC2019ReID:  {match("B", 0.85), match("A", 0.80)},
	}
}

var weightedModels = []string{core.ModelWildlifeTools, core.ModelCVWC2019ReID}

func TestWeighted_Fusion(t *testing.T) {
	p := newFakeProvider()
	w := NewWeighted(newRunner(t, p, weightedResults()), calibration.New())
	w.SkipCalibration = true

	res, err := w.Identify(context.Background(), img, weightedModels, 0.8)
	require.NoError(t, err)
	assert.True(t, res.Identified)
	assert.Equal(t, "A", res.EntityID)
	// A = (0.4*0.9 + 0.3*0.8) / 0.7
	assert.InDelta(t, 0.6/0.7, res.Confidence, 1e-9)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "B", res.Candidates[1].ID)
	assert.InDelta(t, (0.4*0.6+0.3*0.85)/0.7, res.Candidates[1].Score, 1e-9)
	assert.Equal(t, 2, res.Candidates[0].Votes)
	assert.Equal(t, 2, res.TotalModels)
}

func TestWeighted_BelowThresholdNeedsReview(t *testing.T) {
	p := newFakeProvider()
	w := NewWeighted(newRunner(t, p, weightedResults()), calibration.New())
	w.SkipCalibration = true

	res, err := w.Identify(context.Background(), img, weightedModels, 0.9)
	require.NoError(t, err)
	assert.False(t, res.Identified)
	assert.Equal(t, core.DecisionNeedsReview, res.Decision)
	assert.Equal(t, core.MessageLowConfidence, res.Message)
	assert.True(t, res.RequiresVerification)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "A", res.Candidates[0].ID)
}

func TestWeighted_CalibratedScoresAreBounded(t *testing.T) {
	p := newFakeProvider()
	w := NewWeighted(newRunner(t, p, weightedResults()), calibration.New())

	res, err := w.Identify(context.Background(), img, weightedModels, 0.5)
	require.NoError(t, err)
	for _, c := range res.Candidates {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
	// cvwc 温度 0.9：0.85/0.9 > 0.85
	b := res.Candidates[1]
	assert.Greater(t, b.Score, (0.4*0.6+0.3*0.85)/0.7)
}

func TestWeighted_RefinePipeline(t *testing.T) {
	p := newFakeProvider()
	w := NewWeighted(newRunner(t, p, weightedResults()), calibration.New())
	w.SkipCalibration = true
	w.Refine = &pipeline.Pipeline{Nodes: []pipeline.Node{
		&filter.FilterNode{Filters: []filter.Filter{filter.NewExcludeFilter()}},
	}}

	ctx := core.WithParams(context.Background(), map[string]any{filter.ParamExcludeIDs: []string{"A"}})
	res, err := w.Identify(ctx, img, weightedModels, 0.7)
	require.NoError(t, err)
	assert.True(t, res.Identified)
	assert.Equal(t, "B", res.EntityID)
	assert.Len(t, res.Candidates, 1)
}

func TestWeighted_RefineErrorKeepsFusedOrder(t *testing.T) {
	p := newFakeProvider()
	w := NewWeighted(newRunner(t, p, weightedResults()), calibration.New())
	w.SkipCalibration = true
	w.Refine = &pipeline.Pipeline{Nodes: []pipeline.Node{
		pipeline.NodeFunc{NodeName: "broken", NodeKind: pipeline.KindReRank,
			Fn: func(context.Context, *core.IdentifyContext, []*core.Candidate) ([]*core.Candidate, error) {
				return nil, errors.New("broken")
			}},
	}}

	res, err := w.Identify(context.Background(), img, weightedModels, 0.8)
	require.NoError(t, err)
	assert.Equal(t, "A", res.EntityID)
	assert.Len(t, res.Candidates, 2)
}

func TestWeighted_AllModelsFailed(t *testing.T) {
	p := newFakeProvider()
	for _, id := range weightedModels {
		p.errs[id] = errors.New("down")
	}
	res, err := NewWeighted(newRunner(t, p, nil), nil).Identify(context.Background(), img, weightedModels, 0.8)
	require.NoError(t, err)
	assert.Equal(t, core.MessageNoModelResult, res.Message)
	assert.Empty(t, res.Candidates)
}

func TestRunner_DimMismatchIsPermanent(t *testing.T) {
	p := newFakeProvider()
	p.dims[core.ModelRapidReID] = testDim + 1
	r := newRunner(t, p, map[string][]core.Match{core.ModelRapidReID: {match("A", 0.9)}})

	out := r.Run(context.Background(), core.ModelRapidReID, img, 5, 0)
	require.Error(t, out.Err)
	assert.True(t, core.IsPermanent(out.Err))
	assert.False(t, out.Usable())
}

func TestRunner_TimeoutIsTransient(t *testing.T) {
	p := newFakeProvider()
	p.delay[core.ModelRapidReID] = time.Second
	r := newRunner(t, p, nil)
	r.Catalog = nil
	r.DefaultTimeout = 10 * time.Millisecond

	out := r.Run(context.Background(), core.ModelRapidReID, img, 5, 0)
	require.Error(t, out.Err)
	assert.True(t, core.IsTransient(out.Err))
}

func TestRunner_RunAllRecoversPanics(t *testing.T) {
	p := newFakeProvider()
	p.panics[core.ModelWildlifeTools] = true
	r := newRunner(t, p, map[string][]core.Match{core.ModelRapidReID: {match("A", 0.9)}})

	outs := r.RunAll(context.Background(), []string{core.ModelRapidReID, core.ModelWildlifeTools}, img, 5, 0, 1)
	require.Len(t, outs, 2)
	assert.Equal(t, core.ModelRapidReID, outs[0].ModelID)
	assert.True(t, outs[0].Usable())
	assert.Equal(t, core.ModelWildlifeTools, outs[1].ModelID)
	assert.ErrorContains(t, outs[1].Err, "panicked")
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "", "b", "a"}))
}

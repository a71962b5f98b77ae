package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/tigerid/config"
	_ "github.com/rushteam/tigerid/config/builders"
	"github.com/rushteam/tigerid/core"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Gallery.Backend)
	assert.Equal(t, 4, cfg.Gallery.Oversample)
	assert.Equal(t, core.ModelTigerReID, cfg.Identify.DefaultModel)
	assert.InDelta(t, 0.8, cfg.Identify.DefaultThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Embedding.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Embedding.Retry.InitialInterval)
	assert.Equal(t, uint32(5), cfg.Embedding.Breaker.MinRequests)
	assert.Equal(t, 45*time.Second, cfg.Models[core.ModelWildlifeTools].Timeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "tigerid.yaml", `
log:
  level: debug
models:
  wildlife_tools:
    endpoint: http://reid-gpu:8080
    threshold: 0.7
gallery:
  backend: redis
  redis:
    address: redis:6379
ensemble:
  strategies:
    parallel:
      max_concurrent: 2
identify:
  review_rule: result.confidence < 0.9
`)
	t.Setenv("TIGERID_IDENTIFY_TOP_K", "9")
	t.Setenv("TIGERID_MODELS_RAPID_REID_ENDPOINT", "http://rapid:8080")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Gallery.Backend)
	assert.Equal(t, "redis:6379", cfg.Gallery.Redis.Address)
	assert.Equal(t, 9, cfg.Identify.TopK)
	assert.Equal(t, "result.confidence < 0.9", cfg.Identify.ReviewRule)
	assert.Contains(t, cfg.Ensemble.Strategies, "parallel")

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	wl, err := reg.Get(core.ModelWildlifeTools)
	require.NoError(t, err)
	assert.Equal(t, "http://reid-gpu:8080", wl.Endpoint)
	assert.InDelta(t, 0.7, wl.SimilarityThreshold, 1e-9)
	assert.Equal(t, 1536, wl.EmbeddingDim)

	rapid, err := reg.Get(core.ModelRapidReID)
	require.NoError(t, err)
	assert.Equal(t, "http://rapid:8080", rapid.Endpoint)

	assert.Len(t, cfg.EmbeddingOptions(), 2)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"backend", "gallery:\n  backend: faiss\n"},
		{"threshold", "identify:\n  default_threshold: 1.5\n"},
		{"strategy", "ensemble:\n  strategies:\n    bagging: {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "bad.yaml", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildRegistry_UnknownModel(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "m.yaml", "models:\n  resnet:\n    endpoint: http://x\n"))
	require.NoError(t, err)
	_, err = cfg.BuildRegistry()
	require.Error(t, err)
	assert.True(t, core.IsUnknownModel(err))
}

package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigGetters(t *testing.T) {
	cfg := map[string]any{
		"model":     "rapid_reid",
		"accept":    1,
		"reject":    0.6,
		"top_k":     10.0,
		"exclude":   []any{"T-001", 42, true},
		"malformed": "0.9",
	}

	assert.Equal(t, "rapid_reid", ConfigGet(cfg, "model", ""))
	assert.Equal(t, "fallback", ConfigGet(cfg, "missing", "fallback"))
	assert.Equal(t, 0, ConfigGet(cfg, "model", 0))

	assert.Equal(t, 1.0, ConfigGetFloat64(cfg, "accept", 0))
	assert.Equal(t, 0.6, ConfigGetFloat64(cfg, "reject", 0))
	assert.Equal(t, 0.5, ConfigGetFloat64(cfg, "malformed", 0.5))

	assert.Equal(t, int64(10), ConfigGetInt64(cfg, "top_k", 5))
	assert.Equal(t, int64(5), ConfigGetInt64(nil, "top_k", 5))

	assert.Equal(t, []string{"T-001", "42"}, SliceAnyToString(cfg["exclude"]))
	assert.Equal(t, []string{"a"}, SliceAnyToString([]string{"a"}))
	assert.Nil(t, SliceAnyToString("T-001"))
}

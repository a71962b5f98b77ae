package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/observability"
)

func fastRetry(n int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:      n,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
		MaxElapsedTime:  time.Second,
	}
}

type scripted struct {
	calls     atomic.Int32
	responses []func(w http.ResponseWriter)
}

func (s *scripted) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(s.calls.Add(1)) - 1
		if n >= len(s.responses) {
			n = len(s.responses) - 1
		}
		s.responses[n](w)
	}
}

func jsonReply(status int, v interface{}) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func ok(emb ...float64) func(w http.ResponseWriter) {
	return jsonReply(http.StatusOK, EmbeddingResponse{Success: true, Embedding: emb})
}

func TestEmbeddingClient_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predictions/rapid_reid", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("jpeg-bytes"), body)
		ok(3, 4)(w)
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, core.ModelRapidReID,
		WithAuth(&AuthConfig{Type: "bearer", Token: "secret"}),
		WithExpectedDim(2),
	)
	emb, err := c.Embed(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)
	// 客户端不做归一化
	assert.Equal(t, core.Embedding{3, 4}, emb)
}

func TestEmbeddingClient_Classification(t *testing.T) {
	tests := []struct {
		name          string
		responses     []func(w http.ResponseWriter)
		retries       int
		wantTransient bool
		wantPermanent bool
		wantCalls     int32
	}{
		{
			name:          "queued is transient and retried",
			responses:     []func(w http.ResponseWriter){jsonReply(http.StatusAccepted, EmbeddingResponse{Queued: true})},
			retries:       2,
			wantTransient: true,
			wantCalls:     3,
		},
		{
			name:          "remote rejection is permanent",
			responses:     []func(w http.ResponseWriter){jsonReply(http.StatusOK, EmbeddingResponse{Success: false, Error: "corrupt image"})},
			retries:       3,
			wantPermanent: true,
			wantCalls:     1,
		},
		{
			name:          "4xx is permanent",
			responses:     []func(w http.ResponseWriter){jsonReply(http.StatusBadRequest, map[string]string{"error": "bad"})},
			retries:       3,
			wantPermanent: true,
			wantCalls:     1,
		},
		{
			name:          "5xx exhausts retries",
			responses:     []func(w http.ResponseWriter){jsonReply(http.StatusServiceUnavailable, nil)},
			retries:       1,
			wantTransient: true,
			wantCalls:     2,
		},
		{
			name:          "empty embedding is permanent",
			responses:     []func(w http.ResponseWriter){ok()},
			retries:       3,
			wantPermanent: true,
			wantCalls:     1,
		},
		{
			name:          "dimension mismatch is permanent",
			responses:     []func(w http.ResponseWriter){ok(1, 2, 3)},
			retries:       3,
			wantPermanent: true,
			wantCalls:     1,
		},
		{
			name: "recovers after transient",
			responses: []func(w http.ResponseWriter){
				jsonReply(http.StatusTooManyRequests, nil),
				jsonReply(http.StatusOK, EmbeddingResponse{Queued: true}),
				ok(1, 0),
			},
			retries:   3,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scripted{responses: tt.responses}
			srv := httptest.NewServer(s.handler())
			defer srv.Close()

			c := NewEmbeddingClient(srv.URL, "m",
				WithExpectedDim(2),
				WithRetry(fastRetry(tt.retries)),
				WithBreaker(&BreakerConfig{MinRequests: 100}),
			)
			emb, err := c.Embed(context.Background(), []byte("img"))
			assert.Equal(t, tt.wantCalls, s.calls.Load())

			if !tt.wantTransient && !tt.wantPermanent {
				require.NoError(t, err)
				assert.Len(t, emb, 2)
				return
			}
			require.Error(t, err)
			assert.Nil(t, emb, "never fabricates an embedding")
			assert.Equal(t, tt.wantTransient, core.IsTransient(err))
			assert.Equal(t, tt.wantPermanent, core.IsPermanent(err))
		})
	}
}

func TestEmbeddingClient_EmptyImage(t *testing.T) {
	c := NewEmbeddingClient("http://127.0.0.1:1", "m")
	_, err := c.Embed(context.Background(), nil)
	assert.True(t, core.IsPermanent(err))
}

func TestEmbeddingClient_RetryMetrics(t *testing.T) {
	s := &scripted{responses: []func(w http.ResponseWriter){
		jsonReply(http.StatusBadGateway, nil),
		ok(1, 1),
	}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	m := observability.NewMetrics(prometheus.NewRegistry())
	c := NewEmbeddingClient(srv.URL, "m", WithRetry(fastRetry(2)), WithMetrics(m))
	_, err := c.Embed(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingRetries.WithLabelValues("m")))
}

func TestEmbeddingClient_BreakerOpens(t *testing.T) {
	s := &scripted{responses: []func(w http.ResponseWriter){jsonReply(http.StatusServiceUnavailable, nil)}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "m",
		WithRetry(fastRetry(0)),
		WithBreaker(&BreakerConfig{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Minute}),
	)
	for i := 0; i < 2; i++ {
		_, err := c.Embed(context.Background(), []byte("img"))
		require.True(t, core.IsTransient(err))
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	_, err := c.Embed(context.Background(), []byte("img"))
	require.True(t, core.IsTransient(err))
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, int32(2), s.calls.Load(), "open breaker short-circuits the request")
}

func TestEmbeddingClient_PermanentDoesNotTripBreaker(t *testing.T) {
	s := &scripted{responses: []func(w http.ResponseWriter){jsonReply(http.StatusUnprocessableEntity, nil)}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "m", WithBreaker(&BreakerConfig{MinRequests: 1, FailureRatio: 0.1}))
	for i := 0; i < 3; i++ {
		_, err := c.Embed(context.Background(), []byte("img"))
		require.True(t, core.IsPermanent(err))
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

func TestEmbeddingClient_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "m", WithRetry(fastRetry(5)))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Embed(ctx, []byte("img"))
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

func TestEmbeddingClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	require.NoError(t, TestConnection(context.Background(), NewEmbeddingClient(srv.URL+"/", "m")))
	assert.Error(t, TestConnection(context.Background(), nil))
}

func TestDetectionClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		switch string(body) {
		case "tiger":
			// crop 为 base64("crop")
			_, _ = io.WriteString(w, `{"detections":[{"bbox":[1,2,3,4],"confidence":0.97,"crop":"Y3JvcA=="},{"bbox":[0,0,1,1],"confidence":0.4}],"count":2}`)
		case "empty":
			_, _ = io.WriteString(w, `{"detections":[],"count":0}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewDetectionClient(srv.URL)
	ctx := context.Background()

	res, err := c.Detect(ctx, []byte("tiger"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	best, found := res.Best()
	require.True(t, found)
	assert.Equal(t, core.BBox{1, 2, 3, 4}, best.BBox)
	assert.Equal(t, []byte("crop"), best.Crop)

	res, err = c.Detect(ctx, []byte("empty"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	_, err = c.Detect(ctx, []byte("boom"))
	assert.True(t, core.IsUnavailable(err))
}

func TestVerifierClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []byte("q"), req.Query)
		scores := map[string]float64{}
		for _, id := range req.Candidates {
			if id == "raja" {
				scores[id] = 0.9
			}
		}
		_ = json.NewEncoder(w).Encode(verifyResponse{Scores: scores})
	}))
	defer srv.Close()

	c := NewVerifierClient(srv.URL)
	scores, err := c.Verify(context.Background(), []byte("q"), []string{"raja", "kali"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"raja": 0.9}, scores)

	scores, err = c.Verify(context.Background(), []byte("q"), nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ServiceConfig
		wantErr bool
	}{
		{name: "nil", cfg: nil, wantErr: true},
		{name: "no endpoint", cfg: &ServiceConfig{Type: ServiceTypeEmbedding, ModelName: "m"}, wantErr: true},
		{name: "no scheme", cfg: &ServiceConfig{Type: ServiceTypeEmbedding, Endpoint: "reid:8080", ModelName: "m"}, wantErr: true},
		{name: "embedding without model", cfg: &ServiceConfig{Type: ServiceTypeEmbedding, Endpoint: "http://reid"}, wantErr: true},
		{name: "detection without model", cfg: &ServiceConfig{Type: ServiceTypeDetection, Endpoint: "http://det"}},
		{name: "bad auth", cfg: &ServiceConfig{Type: ServiceTypeVerifier, Endpoint: "https://v", Auth: &AuthConfig{Type: "oauth"}}, wantErr: true},
		{name: "ok", cfg: &ServiceConfig{Type: ServiceTypeEmbedding, Endpoint: "https://reid", ModelName: "m", Auth: &AuthConfig{Type: "api_key", APIKey: "k"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewHealthChecker(t *testing.T) {
	for _, typ := range []ServiceType{ServiceTypeEmbedding, ServiceTypeDetection, ServiceTypeVerifier} {
		hc, err := NewHealthChecker(&ServiceConfig{Type: typ, Endpoint: "http://x", ModelName: "m"}, nil)
		require.NoError(t, err)
		assert.NotNil(t, hc)
	}
	_, err := NewHealthChecker(&ServiceConfig{Type: "grpc", Endpoint: "http://x"}, nil)
	assert.Error(t, err)

	_, err = NewEmbeddingClientFromConfig(&ServiceConfig{Type: ServiceTypeDetection, Endpoint: "http://x"})
	assert.Error(t, err)
}

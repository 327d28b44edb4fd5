package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// newEmbeddingServer answers /embeddings with one vector per input, in reverse
// order, each filled with its input index.
func newEmbeddingServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vector := make([]float32, dims)
			for j := range vector {
				vector[j] = float32(i)
			}
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vector})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *Config
		expectError bool
	}{
		{"openai", &Config{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536, APIKey: "k"}, false},
		{"siliconflow", &Config{Provider: "siliconflow", Model: "BAAI/bge-m3", Dimensions: 1024, APIKey: "k", BaseURL: "https://api.siliconflow.cn/v1"}, false},
		{"ollama", &Config{Provider: "ollama", Model: "nomic-embed-text", Dimensions: 768, BaseURL: "http://localhost:11434/v1"}, false},
		{"unsupported provider", &Config{Provider: "unsupported", Dimensions: 8}, true},
		{"zero dimensions", &Config{Provider: "openai"}, true},
		{"nil config", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.cfg)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Dimensions, svc.Dimensions())
		})
	}
}

func TestEmbedBatchKeepsInputOrder(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbeddingServer(t, 4, &calls)
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "m", Dimensions: 4, APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i), float32(i), float32(i), float32(i)}, v)
	}

	single, err := svc.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, single, 4)
	assert.EqualValues(t, 2, calls.Load())
}

func TestEmbedBatchDimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbeddingServer(t, 3, &calls)
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "m", Dimensions: 4, APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "expected 4")
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	svc, err := NewService(&Config{Provider: "openai", Dimensions: 4, APIKey: "k"})
	require.NoError(t, err)

	_, err = svc.EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestEmbedBatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "m", Dimensions: 4, APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "create embeddings failed")
}

func TestEmbedBatchRateLimitHonorsContext(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbeddingServer(t, 2, &calls)
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", Model: "m", Dimensions: 2, APIKey: "k", BaseURL: srv.URL, RPS: 0.01})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "first")
	require.NoError(t, err)

	// The next token is 100s away, beyond any deadline, so Wait fails immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Embed(ctx, "second")
	assert.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

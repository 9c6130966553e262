package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/retry"
)

// keywordEmbedder maps text onto a fixed vocabulary so similarity is
// predictable.
type keywordEmbedder struct {
	mu     sync.Mutex
	vocab  []string
	calls  int
	texts  int
	failN  int
	failAs error
}

func (k *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	k.texts++
	if k.failN > 0 {
		k.failN--
		return nil, k.failAs
	}
	lower := strings.ToLower(text)
	v := make([]float32, len(k.vocab))
	for i, w := range k.vocab {
		if strings.Contains(lower, w) {
			v[i] = 1
		}
	}
	return v, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}

	_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestRerankerScoresByTopic(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"rust", "cli", "web", "python"}}
	r := NewReranker(e, "kw", WithRetryPolicy(fastPolicy()))

	repos := []model.Repository{
		{Platform: model.GitHub, Owner: "a", Name: "webapp", Description: "python web framework"},
		{Platform: model.GitHub, Owner: "b", Name: "ripgrep", Description: "fast rust cli search"},
		{Platform: model.GitHub, Owner: "c", Name: "empty"},
	}
	scores, err := r.Similarity(context.Background(), "rust cli", repos)
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.InDelta(t, 1.0, scores[1], 1e-6)
	assert.Equal(t, 0.0, scores[0])
	assert.Equal(t, 0.0, scores[2])
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestRerankerCachesEmbeddings(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"rust"}}
	r := NewReranker(e, "kw")
	repos := []model.Repository{{Owner: "a", Name: "rust-thing"}}

	_, err := r.Similarity(context.Background(), "rust", repos)
	require.NoError(t, err)
	assert.Equal(t, 2, e.texts)

	_, err = r.Similarity(context.Background(), "rust", repos)
	require.NoError(t, err)
	assert.Equal(t, 2, e.texts, "second call should be served from cache")
	assert.Equal(t, 2, r.cache.len())
}

func TestRerankerRetriesRateLimit(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"go"}, failN: 1, failAs: ErrRateLimit}
	r := NewReranker(e, "kw", WithRetryPolicy(fastPolicy()))

	scores, err := r.Similarity(context.Background(), "go", []model.Repository{{Name: "go-tool"}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores[0], 1e-6)
}

func TestRerankerDoesNotRetryFatal(t *testing.T) {
	boom := errors.New("bad key")
	e := &keywordEmbedder{vocab: []string{"go"}, failN: 5, failAs: boom}
	r := NewReranker(e, "kw", WithRetryPolicy(fastPolicy()))

	_, err := r.Similarity(context.Background(), "go", []model.Repository{{Name: "go-tool"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, e.calls)
}

func TestRerankerEmptyQuery(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"go"}}
	r := NewReranker(e, "kw")
	scores, err := r.Similarity(context.Background(), "  ", []model.Repository{{Name: "x"}, {Name: "y"}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, scores)
	assert.Zero(t, e.calls)
}

func TestDocument(t *testing.T) {
	r := model.Repository{Name: "ripgrep", Description: "search tool", Topics: []string{"cli", "rust"}}
	assert.Equal(t, "ripgrep: search tool [cli, rust]", Document(&r))
	assert.Equal(t, "bare", Document(&model.Repository{Name: "bare"}))
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		if req.Prompt == "slow down" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{0.5, 0.25}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "")
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, v)

	_, err = e.Embed(context.Background(), "slow down")
	assert.ErrorIs(t, err, ErrRateLimit)

	_, err = e.Embed(context.Background(), " ")
	assert.Error(t, err)
}

func TestOpenAIEmbedderBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		data := make([]map[string]any, len(req.Input))
		// Reply out of order to check the index is honored.
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     j,
				"embedding": []float32{float32(j), 1},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "")
	vs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	for i, v := range vs {
		assert.Equal(t, []float32{float32(i), 1}, v)
	}
}

func TestOpenAIEmbedderRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "")
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRateLimit)
}

func TestNewEmbedder(t *testing.T) {
	_, err := NewEmbedder(Config{Type: "openai"})
	assert.Error(t, err)

	e, err := NewEmbedder(Config{Type: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaEmbedder{}, e)

	_, err = NewEmbedder(Config{Type: "word2vec"})
	assert.Error(t, err)
}

func TestContentHashSeparatesModels(t *testing.T) {
	assert.NotEqual(t, contentHash("a", "text"), contentHash("b", "text"))
	assert.Equal(t, contentHash("a", "text"), contentHash("a", "text"))
}

// Package semantic scores how similar repositories are to a query using
// text embeddings.
package semantic

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for embedding providers.
var (
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrInvalidResponse = errors.New("invalid response from provider")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds several texts in one call.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// embedBatch uses the native batch call when the embedder has one and
// falls back to one call per text.
func embedBatch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Config selects and configures an embedding provider.
type Config struct {
	// Type is "openai" or "ollama".
	Type   string
	Model  string
	APIKey string
	URL    string
}

// NewEmbedder creates the embedder named by cfg.Type.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedder requires an api key")
		}
		return NewOpenAIEmbedder(cfg.APIKey, cfg.URL, cfg.Model), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.URL, cfg.Model), nil
	}
	return nil, fmt.Errorf("unknown embedder type %q", cfg.Type)
}

package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/retry"
)

// Reranker turns embeddings into per-repository similarity scores.
type Reranker struct {
	embedder Embedder
	model    string
	cache    *vectorCache
	policy   retry.Policy
	logger   *slog.Logger
}

// RerankerOption configures a Reranker.
type RerankerOption func(*Reranker)

// WithCacheSize bounds the in-process embedding cache.
func WithCacheSize(n int) RerankerOption {
	return func(r *Reranker) { r.cache = newVectorCache(n) }
}

// WithRetryPolicy sets the backoff used for rate-limited or timed-out calls.
func WithRetryPolicy(p retry.Policy) RerankerOption {
	return func(r *Reranker) { r.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RerankerOption {
	return func(r *Reranker) { r.logger = l }
}

// NewReranker wraps e. modelName namespaces cached vectors so switching
// models never reuses old embeddings.
func NewReranker(e Embedder, modelName string, opts ...RerankerOption) *Reranker {
	r := &Reranker{
		embedder: e,
		model:    modelName,
		cache:    newVectorCache(defaultCacheSize),
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Similarity returns one score in [0,1] per repository, in input order.
func (r *Reranker) Similarity(ctx context.Context, query string, repos []model.Repository) ([]float64, error) {
	if strings.TrimSpace(query) == "" || len(repos) == 0 {
		return make([]float64, len(repos)), nil
	}

	texts := make([]string, 0, len(repos)+1)
	texts = append(texts, query)
	for i := range repos {
		texts = append(texts, Document(&repos[i]))
	}

	vectors, err := r.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	qv := vectors[0]
	scores := make([]float64, len(repos))
	for i := range repos {
		sim, err := CosineSimilarity(qv, vectors[i+1])
		if err != nil {
			return nil, fmt.Errorf("scoring %s: %w", repos[i].Key(), err)
		}
		if sim > 0 {
			scores[i] = float64(sim)
		}
	}
	return scores, nil
}

// embed resolves texts from the cache and embeds the rest in one batch.
func (r *Reranker) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	var missing []int
	for i, t := range texts {
		hashes[i] = contentHash(r.model, t)
		if v, ok := r.cache.get(hashes[i]); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}

	var fresh [][]float32
	err := retry.Do(ctx, r.policy, retryable, func(ctx context.Context) error {
		var err error
		fresh, err = embedBatch(ctx, r.embedder, batch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(batch), err)
	}
	if len(fresh) != len(batch) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrInvalidResponse, len(fresh), len(batch))
	}

	for j, i := range missing {
		out[i] = fresh[j]
		r.cache.add(hashes[i], fresh[j])
	}
	r.logger.Debug("embedded texts", "embedded", len(batch), "cached", len(texts)-len(batch))
	return out, nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// Document is the text embedded for a repository.
func Document(r *model.Repository) string {
	var sb strings.Builder
	sb.WriteString(r.Name)
	if r.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(r.Description)
	}
	if len(r.Topics) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(r.Topics, ", "))
		sb.WriteString("]")
	}
	return sb.String()
}

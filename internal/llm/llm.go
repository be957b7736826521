// Package llm adapts hosted language models to the generation and embedding
// interfaces used by the assistant and the indexer.
package llm

import (
	"context"
	"fmt"

	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/embedding"
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// NewGenerator creates the generator selected by cfg.Provider.
func NewGenerator(ctx context.Context, cfg *config.GenerationConfig) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err := NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.ProviderOpenAI:
		return NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
	}
}

// NewEmbedder creates the embedder selected by cfg.Embedding.Provider, wrapped in an
// LRU cache when cache_size is positive.
func NewEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	var (
		emb embedding.Embedder
		err error
	)
	dims := cfg.Embedding.Dimensions
	switch cfg.Embedding.Provider {
	case config.ProviderHash, "":
		emb = embedding.NewHashEmbedder(dims)
	case config.ProviderGemini:
		emb, err = NewGeminiEmbedder(ctx, cfg.EmbeddingAPIKey(), cfg.Embedding.Model, dims)
	case config.ProviderOpenAI:
		emb = NewOpenAIEmbedder(cfg.EmbeddingAPIKey(), cfg.EmbeddingBaseURL(), cfg.Embedding.Model, dims)
	default:
		err = fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.CacheSize > 0 {
		emb = embedding.NewCachedEmbedder(emb, cfg.Embedding.CacheSize)
	}
	return emb, nil
}

// checkDimensions rejects an embedding whose length differs from want.
func checkDimensions(op string, vec []float32, want int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%s: empty embedding received", op)
	}
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%s: malformed embedding: got %d dimensions, want %d", op, len(vec), want)
	}
	return nil
}

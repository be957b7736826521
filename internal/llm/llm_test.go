package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/embedding"
)

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	emb, err := NewEmbedder(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &embedding.CachedEmbedder{}, emb)
	assert.Equal(t, 768, emb.Dimensions())

	cfg.Embedding.CacheSize = -1
	emb, err = NewEmbedder(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &embedding.HashEmbedder{}, emb)

	cfg.Embedding.Provider = config.ProviderOpenAI
	cfg.Embedding.APIKey = "sk-test"
	emb, err = NewEmbedder(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, emb)

	cfg.Embedding.Provider = "word2vec"
	_, err = NewEmbedder(ctx, cfg)
	assert.Error(t, err)
}

func TestNewGenerator(t *testing.T) {
	ctx := context.Background()

	gen, err := NewGenerator(ctx, &config.GenerationConfig{Provider: config.ProviderOpenAI, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, gen)

	gen, err = NewGenerator(ctx, &config.GenerationConfig{Provider: config.ProviderGemini, APIKey: "test-key"})
	require.NoError(t, err)
	assert.IsType(t, &GeminiGenerator{}, gen)
	assert.NoError(t, gen.Close())

	gen, err = NewGenerator(ctx, &config.GenerationConfig{Provider: config.ProviderGemini})
	assert.Error(t, err)
	assert.True(t, gen == nil, "failed construction must return a nil interface")

	gen, err = NewGenerator(ctx, &config.GenerationConfig{Provider: "claude"})
	assert.Error(t, err)
	assert.True(t, gen == nil)
}

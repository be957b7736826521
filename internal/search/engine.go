// Package search provides the retriever that ranks stored chunks against a query.
package search

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/embedding"
	"github.com/hyperjump/kbcopilot/internal/models"
	"github.com/hyperjump/kbcopilot/internal/ranking"
	"github.com/hyperjump/kbcopilot/internal/storage"
)

// Engine scores every stored chunk against a query with the hybrid scorer.
type Engine struct {
	storage  storage.Storage
	embedder embedding.Embedder
	config   *config.SearchConfig
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	storage storage.Storage,
	embedder embedding.Embedder,
	cfg *config.SearchConfig,
	opts ...EngineOption,
) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{DefaultTopK: models.DefaultTopK}
	}
	e := &Engine{
		storage:  storage,
		embedder: embedder,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns the topK chunks most similar to query, best first. Ties keep
// the store's scan order. A non-positive topK uses the configured default.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int) ([]*models.ScoredChunk, error) {
	startTime := time.Now()
	if topK <= 0 {
		topK = e.config.DefaultTopK
		if topK <= 0 {
			topK = models.DefaultTopK
		}
	}

	queryEmbedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.Upstream("search.embed_query", err)
	}

	chunks, err := e.storage.ListChunks(ctx)
	if err != nil {
		return nil, apperr.Internal("search.list_chunks", err)
	}

	q := ranking.NewAnalyzedQuery(query, queryEmbedding)
	scored := make([]*models.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		scored = append(scored, models.NewScoredChunk(c, q.Score(c.Content, c.Embedding)))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	e.logger.Debug("retrieved chunks",
		zap.String("query", query),
		zap.Int("scanned", len(chunks)),
		zap.Int("returned", len(scored)),
		zap.Duration("took", time.Since(startTime)),
	)
	return scored, nil
}

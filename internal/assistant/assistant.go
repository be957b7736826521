// Package assistant answers questions from the knowledge base: it retrieves the
// best chunks, prompts the generator and maps citations back to documents.
package assistant

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/llm"
	"github.com/hyperjump/kbcopilot/internal/models"
	"github.com/hyperjump/kbcopilot/internal/storage"
	"github.com/hyperjump/kbcopilot/pkg/utils"
)

// EmptyKnowledgeBaseResponse is returned when nothing could be retrieved.
const EmptyKnowledgeBaseResponse = "I don't have any documents in the knowledge base yet. Please run the seed script first."

// ErrGeneratorNotConfigured is returned by Query when no generator was supplied.
var ErrGeneratorNotConfigured = errors.New("generation API key not configured")

// Retriever ranks stored chunks against a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]*models.ScoredChunk, error)
}

// Assistant assembles answers with citations.
type Assistant struct {
	retriever Retriever
	generator llm.Generator // nil when generation is not configured
	storage   storage.Storage
	config    *config.SearchConfig
	logger    *zap.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// New creates an assistant. generator may be nil; Query then fails with an
// upstream error once there is something to answer from.
func New(retriever Retriever, generator llm.Generator, store storage.Storage, cfg *config.SearchConfig, opts ...Option) *Assistant {
	if cfg == nil {
		cfg = &config.SearchConfig{DefaultTopK: models.DefaultTopK}
	}
	a := &Assistant{
		retriever: retriever,
		generator: generator,
		storage:   store,
		config:    cfg,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = utils.OrNop(a.logger)
	return a
}

// Query answers query from the topK best chunks. The query is trimmed; a blank query
// is a validation error.
func (a *Assistant) Query(ctx context.Context, query string, topK int) (*models.QueryResult, error) {
	req := &models.QueryRequest{Query: query, TopK: topK}
	if err := req.Normalize(a.config.DefaultTopK, a.config.MaxTopK); err != nil {
		return nil, err
	}
	a.logger.Info("query", zap.String("query", req.Query), zap.Int("top_k", req.TopK))

	chunks, err := a.retriever.Retrieve(ctx, req.Query, req.TopK)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &models.QueryResult{
			Response:  EmptyKnowledgeBaseResponse,
			Citations: []models.Citation{},
			Sources:   []models.Source{},
		}, nil
	}
	a.logger.Debug("retrieved chunks", zap.Int("count", len(chunks)))

	if a.generator == nil {
		return nil, apperr.Upstream("assistant.generate", ErrGeneratorNotConfigured)
	}
	text, err := a.generator.Generate(ctx, BuildPrompt(req.Query, chunks))
	if err != nil {
		if apperr.Is(err, apperr.KindUpstream) {
			return nil, err
		}
		return nil, apperr.Upstream("assistant.generate", err)
	}

	return &models.QueryResult{
		Response:  text,
		Citations: ParseCitations(text, chunks),
		Sources:   BuildSources(chunks),
	}, nil
}

// Stats counts documents and chunks. The average is chunks per indexed document,
// rounded to one decimal, or 0 when nothing is indexed.
func (a *Assistant) Stats(ctx context.Context) (*models.Stats, error) {
	total, err := a.storage.CountDocuments(ctx, models.DocumentFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	indexed, err := a.storage.CountDocuments(ctx, models.Indexed(true))
	if err != nil {
		return nil, fmt.Errorf("failed to count indexed documents: %w", err)
	}
	chunks, err := a.storage.CountChunks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	stats := &models.Stats{
		TotalDocuments:   total,
		IndexedDocuments: indexed,
		TotalChunks:      chunks,
	}
	if indexed > 0 {
		stats.AverageChunksPerDocument = utils.Round(float64(chunks)/float64(indexed), 1)
	}
	return stats, nil
}

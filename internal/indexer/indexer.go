package indexer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/embedding"
	"github.com/hyperjump/kbcopilot/internal/keyword"
	"github.com/hyperjump/kbcopilot/internal/models"
	"github.com/hyperjump/kbcopilot/internal/storage"
)

// titleBoost weights title matches over content matches in SearchDocuments.
const titleBoost = 3.0

// Indexer creates, chunks, embeds and deletes documents.
type Indexer struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	keywordIndex keyword.KeywordIndex // optional
	chunker      *Chunker
	limiter      *rate.Limiter // nil disables pacing
	dimensions   int
	fuzziness    int
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for indexing events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithLimiter overrides the pacing of embedding calls. Nil disables pacing.
func WithLimiter(l *rate.Limiter) IndexerOption {
	return func(idx *Indexer) { idx.limiter = l }
}

// WithFuzziness sets the default edit distance for SearchDocuments.
func WithFuzziness(n int) IndexerOption {
	return func(idx *Indexer) { idx.fuzziness = n }
}

// WithDimensions sets the expected embedding length. Defaults to the embedder's.
func WithDimensions(d int) IndexerOption {
	return func(idx *Indexer) { idx.dimensions = d }
}

// NewIndexer creates an indexer. keywordIndex may be nil; cfg may be nil for defaults.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	keywordIndex keyword.KeywordIndex,
	cfg *config.IndexingConfig,
	opts ...IndexerOption,
) (*Indexer, error) {
	if cfg == nil {
		cfg = &config.IndexingConfig{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
	}
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	idx := &Indexer{
		storage:      store,
		embedder:     embedder,
		keywordIndex: keywordIndex,
		chunker:      chunker,
		dimensions:   embedder.Dimensions(),
		logger:       zap.NewNop(),
	}
	if interval := cfg.EmbedIntervalOrDefault(); interval > 0 {
		idx.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	if idx.dimensions != embedder.Dimensions() {
		return nil, fmt.Errorf("embedder produces %d dimensions, want %d", embedder.Dimensions(), idx.dimensions)
	}
	return idx, nil
}

// CreateDocument stores a new document, applying defaults for source, category and
// metadata, and indexes it right away when input.AutoIndex is set.
func (idx *Indexer) CreateDocument(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Content) == "" {
		return nil, apperr.Validation("indexer.create_document", "Title and content are required")
	}
	doc := &models.Document{
		ID:       input.ID,
		Title:    input.Title,
		Content:  input.Content,
		Source:   input.Source,
		Category: input.Category,
		Metadata: input.Metadata,
	}
	if doc.Source == "" {
		doc.Source = doc.Title
	}
	if doc.Category == "" {
		doc.Category = models.DefaultCategory
	}
	if doc.Metadata == nil {
		doc.Metadata = models.Metadata{}
	}
	if err := idx.storage.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	idx.indexKeywords(ctx, doc)
	idx.logger.Info("document created", zap.String("id", doc.ID), zap.String("title", doc.Title))

	if !input.AutoIndex {
		return doc, nil
	}
	if _, err := idx.IndexDocument(ctx, doc.ID); err != nil {
		return nil, err
	}
	return idx.storage.GetDocument(ctx, doc.ID)
}

// IndexDocument replaces the chunks of document id: it chunks the content, embeds each
// chunk in order and stores it. The document is marked indexed only after every chunk
// was stored. An embedding failure aborts the remaining chunks; chunks already stored
// are kept and the document stays unindexed.
func (idx *Indexer) IndexDocument(ctx context.Context, id string) (int, error) {
	doc, err := idx.storage.GetDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := idx.storage.DeleteChunksByDocumentID(ctx, id); err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if doc.IsIndexed {
		doc.IsIndexed = false
		if err := idx.storage.UpdateDocument(ctx, doc); err != nil {
			return 0, fmt.Errorf("failed to update document: %w", err)
		}
	}

	chunks := idx.chunker.Chunks(doc.ID, doc.Content)
	idx.logger.Debug("indexing document",
		zap.String("id", doc.ID),
		zap.Int("chunks", len(chunks)))

	for _, chunk := range chunks {
		if idx.limiter != nil {
			if err := idx.limiter.Wait(ctx); err != nil {
				return chunk.ChunkIndex, fmt.Errorf("failed to wait for embedding slot: %w", err)
			}
		}
		vec, err := idx.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return chunk.ChunkIndex, apperr.Upstream("indexer.embed_chunk",
				fmt.Errorf("chunk %d of %s: %w", chunk.ChunkIndex, doc.ID, err))
		}
		if len(vec) != idx.dimensions {
			return chunk.ChunkIndex, apperr.Upstream("indexer.embed_chunk",
				fmt.Errorf("malformed embedding for chunk %d: got %d dimensions, want %d", chunk.ChunkIndex, len(vec), idx.dimensions))
		}
		chunk.Embedding = vec
		if err := idx.storage.CreateChunk(ctx, chunk); err != nil {
			return chunk.ChunkIndex, fmt.Errorf("failed to store chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	doc.IsIndexed = true
	if err := idx.storage.UpdateDocument(ctx, doc); err != nil {
		return len(chunks), fmt.Errorf("failed to mark document indexed: %w", err)
	}
	idx.logger.Info("document indexed", zap.String("id", doc.ID), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// IndexAllDocuments indexes every document that is not yet indexed, oldest first. A failure is
// recorded in that document's result and does not stop the others.
func (idx *Indexer) IndexAllDocuments(ctx context.Context) ([]models.IndexResult, error) {
	docs, err := idx.storage.ListDocuments(ctx, models.Indexed(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list unindexed documents: %w", err)
	}
	results := make([]models.IndexResult, 0, len(docs))
	// Listings are newest first; index in the order documents were added.
	for i := len(docs) - 1; i >= 0; i-- {
		doc := docs[i]
		if err := ctx.Err(); err != nil {
			return results, err
		}
		n, err := idx.IndexDocument(ctx, doc.ID)
		result := models.IndexResult{DocumentID: doc.ID, Title: doc.Title}
		if err != nil {
			idx.logger.Warn("failed to index document", zap.String("id", doc.ID), zap.Error(err))
			result.Error = apperr.Message(err)
		} else {
			result.ChunksCreated = n
		}
		results = append(results, result)
	}
	return results, nil
}

// DeleteDocument removes a document with its chunks and drops it from the keyword index.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.Delete(ctx, id); err != nil {
			idx.logger.Warn("failed to delete from keyword index", zap.String("id", id), zap.Error(err))
		}
	}
	idx.logger.Info("document deleted", zap.String("id", id))
	return nil
}

// GetDocument returns a document with its chunk count.
func (idx *Indexer) GetDocument(ctx context.Context, id string) (*models.DocumentWithChunkCount, error) {
	doc, err := idx.storage.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := idx.storage.CountChunks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	return &models.DocumentWithChunkCount{Document: doc, ChunkCount: n}, nil
}

// ListDocuments returns all documents, newest first, with their chunk counts.
func (idx *Indexer) ListDocuments(ctx context.Context) ([]*models.DocumentWithChunkCount, error) {
	docs, err := idx.storage.ListDocuments(ctx, models.DocumentFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return idx.withChunkCounts(ctx, docs)
}

// SearchDocuments returns documents whose title, content or source match q, best
// match first, using the indexer's default fuzziness. A blank query lists all documents.
func (idx *Indexer) SearchDocuments(ctx context.Context, q string, limit int) ([]*models.DocumentWithChunkCount, error) {
	return idx.SearchDocumentsFuzzy(ctx, q, limit, idx.fuzziness)
}

// SearchDocumentsFuzzy is SearchDocuments with an explicit edit distance in [0, 2].
func (idx *Indexer) SearchDocumentsFuzzy(ctx context.Context, q string, limit, fuzziness int) ([]*models.DocumentWithChunkCount, error) {
	if fuzziness < 0 || fuzziness > config.MaxFuzziness {
		return nil, apperr.Validation("indexer.search_documents", "fuzziness must be between 0 and %d", config.MaxFuzziness)
	}
	if strings.TrimSpace(q) == "" {
		return idx.ListDocuments(ctx)
	}
	if idx.keywordIndex == nil {
		return nil, fmt.Errorf("keyword index is not configured")
	}
	hits, err := idx.keywordIndex.Search(ctx, q, limit, &keyword.SearchOptions{TitleBoost: titleBoost, Fuzziness: fuzziness})
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	docs := make([]*models.Document, 0, len(hits))
	for _, hit := range hits {
		doc, err := idx.storage.GetDocument(ctx, hit.ID)
		if apperr.Is(err, apperr.KindNotFound) {
			idx.logger.Debug("skipping stale keyword hit", zap.String("id", hit.ID))
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return idx.withChunkCounts(ctx, docs)
}

// SyncKeywordIndex adds every stored document to the keyword index when the index
// holds fewer documents than storage, e.g. after the index directory was removed.
func (idx *Indexer) SyncKeywordIndex(ctx context.Context) (int, error) {
	if idx.keywordIndex == nil {
		return 0, nil
	}
	indexed, err := idx.keywordIndex.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count keyword index: %w", err)
	}
	stored, err := idx.storage.CountDocuments(ctx, models.DocumentFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	if int64(indexed) >= stored {
		return 0, nil
	}
	docs, err := idx.storage.ListDocuments(ctx, models.DocumentFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}
	for _, doc := range docs {
		if err := idx.keywordIndex.Index(ctx, doc); err != nil {
			return 0, fmt.Errorf("failed to index keywords for %s: %w", doc.ID, err)
		}
	}
	idx.logger.Info("keyword index rebuilt", zap.Int("documents", len(docs)))
	return len(docs), nil
}

func (idx *Indexer) indexKeywords(ctx context.Context, doc *models.Document) {
	if idx.keywordIndex == nil {
		return
	}
	if err := idx.keywordIndex.Index(ctx, doc); err != nil {
		idx.logger.Warn("failed to index keywords", zap.String("id", doc.ID), zap.Error(err))
	}
}

func (idx *Indexer) withChunkCounts(ctx context.Context, docs []*models.Document) ([]*models.DocumentWithChunkCount, error) {
	counts, err := idx.storage.ChunkCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	out := make([]*models.DocumentWithChunkCount, len(docs))
	for i, doc := range docs {
		out[i] = &models.DocumentWithChunkCount{Document: doc, ChunkCount: counts[doc.ID]}
	}
	return out, nil
}

// Package integration runs the knowledge base against real storage and the bundled documents.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbcopilot/internal/assistant"
	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/embedding"
	"github.com/hyperjump/kbcopilot/internal/extract"
	"github.com/hyperjump/kbcopilot/internal/indexer"
	"github.com/hyperjump/kbcopilot/internal/ingest"
	"github.com/hyperjump/kbcopilot/internal/keyword"
	"github.com/hyperjump/kbcopilot/internal/search"
	"github.com/hyperjump/kbcopilot/internal/storage"
)

const documentsDir = "../../data/documents"

type stubGenerator struct {
	answer string
}

func (g stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.answer, nil
}

func (g stubGenerator) Close() error { return nil }

type knowledgeBase struct {
	cfg      *config.Config
	store    storage.Storage
	keyword  *keyword.BleveIndex
	indexer  *indexer.Indexer
	ingester *ingest.Ingester
	engine   *search.Engine
}

func openKnowledgeBase(t *testing.T, dir string) *knowledgeBase {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverSQLite
	cfg.Storage.DatabasePath = filepath.Join(dir, "kb.db")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "keyword.bleve")

	store, err := storage.New(&cfg.Storage)
	require.NoError(t, err)
	kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	require.NoError(t, err)

	embedder := embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	idx, err := indexer.NewIndexer(store, embedder, kw, &cfg.Indexing, indexer.WithLimiter(nil))
	require.NoError(t, err)

	return &knowledgeBase{
		cfg:      cfg,
		store:    store,
		keyword:  kw,
		indexer:  idx,
		ingester: ingest.NewIngester(idx, extract.NewExtractor(), &cfg.Ingest),
		engine:   search.NewEngine(store, embedder, &cfg.Search),
	}
}

func (kb *knowledgeBase) close() {
	_ = kb.keyword.Close()
	_ = kb.store.Close()
}

func TestIntegration_SeedAndAnswer(t *testing.T) {
	ctx := context.Background()
	kb := openKnowledgeBase(t, t.TempDir())
	defer kb.close()

	results, err := kb.ingester.Seed(ctx, documentsDir, true)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Empty(t, r.Error, r.Path)
		assert.Positive(t, r.ChunksCreated, r.Path)
	}
	assert.Equal(t, "Company Policies & Guidelines", results[0].Title)

	asst := assistant.New(kb.engine, stubGenerator{answer: "Up to three days a week [Source 1]."}, kb.store, &kb.cfg.Search)
	answer, err := asst.Query(ctx, "remote approval", 0)
	require.NoError(t, err)
	require.NotEmpty(t, answer.Sources)
	assert.LessOrEqual(t, len(answer.Sources), kb.cfg.Search.DefaultTopK)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "Company Policies & Guidelines", answer.Citations[0].DocumentTitle)
	assert.Equal(t, "policy", answer.Sources[0].Category)

	stats, err := asst.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, stats.TotalDocuments)
	assert.EqualValues(t, 5, stats.IndexedDocuments)
	assert.GreaterOrEqual(t, stats.TotalChunks, int64(5))

	docs, err := kb.indexer.SearchDocuments(ctx, "onboarding", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "New Employee Onboarding Guide", docs[0].Title)
}

func TestIntegration_ReopenPersistsAndResyncsKeywordIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	kb := openKnowledgeBase(t, dir)
	_, err := kb.ingester.Seed(ctx, documentsDir, true)
	require.NoError(t, err)
	kb.close()

	// A lost keyword index is rebuilt from storage on the next start.
	kb = openKnowledgeBase(t, dir)
	require.NoError(t, kb.keyword.Close())
	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "fresh.bleve"))
	require.NoError(t, err)
	kb.keyword = kw
	embedder := embedding.NewHashEmbedder(kb.cfg.Embedding.Dimensions)
	kb.indexer, err = indexer.NewIndexer(kb.store, embedder, kw, &kb.cfg.Indexing, indexer.WithLimiter(nil))
	require.NoError(t, err)
	defer kb.close()

	docs, err := kb.indexer.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 5)

	n, err := kb.indexer.SyncKeywordIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	count, err := kw.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	// Seeding again without reset skips every unchanged file.
	kb.ingester = ingest.NewIngester(kb.indexer, extract.NewExtractor(), &kb.cfg.Ingest)
	results, err := kb.ingester.Seed(ctx, documentsDir, false)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Skipped, r.Path)
	}
}

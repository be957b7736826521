package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/models"
)

// backends returns a constructor for every file-backed or in-process Storage.
func backends() map[string]func(t *testing.T) Storage {
	return map[string]func(t *testing.T) Storage{
		"sqlite": func(t *testing.T) Storage {
			s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			return s
		},
		"json": func(t *testing.T) Storage {
			s, err := NewJSONStorage(filepath.Join(t.TempDir(), "database.json"))
			require.NoError(t, err)
			return s
		},
		"memory": func(t *testing.T) Storage {
			return NewMemoryStorage()
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store Storage)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()
			fn(t, store)
		})
	}
}

func TestStorage_DocumentCRUD(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Storage) {
		ctx := context.Background()
		doc := &models.Document{
			Title:    "Company Policies",
			Content:  "Remote work is allowed.",
			Source:   "company-policies.md",
			Category: "policy",
			Metadata: models.Metadata{"k": "v"},
		}
		require.NoError(t, store.CreateDocument(ctx, doc))
		assert.NotEmpty(t, doc.ID)
		assert.False(t, doc.CreatedAt.IsZero())

		got, err := store.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "Company Policies", got.Title)
		assert.Equal(t, "company-policies.md", got.Source)
		assert.Equal(t, "policy", got.Category)
		assert.Equal(t, "v", got.Metadata["k"])
		assert.False(t, got.IsIndexed)

		got.IsIndexed = true
		got.Title = "Updated"
		require.NoError(t, store.UpdateDocument(ctx, got))
		got, err = store.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "Updated", got.Title)
		assert.True(t, got.IsIndexed)

		_, err = store.GetDocument(ctx, "missing")
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
		err = store.UpdateDocument(ctx, &models.Document{ID: "missing", Title: "x", Content: "y"})
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

		require.NoError(t, store.Ping(ctx))
		assert.NotEmpty(t, store.Name())
	})
}

func TestStorage_ListAndCountDocuments(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Storage) {
		ctx := context.Background()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, title := range []string{"first", "second", "third"} {
			doc := &models.Document{
				ID:        title,
				Title:     title,
				Content:   "content",
				IsIndexed: i != 1,
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			}
			require.NoError(t, store.CreateDocument(ctx, doc))
		}

		docs, err := store.ListDocuments(ctx, models.DocumentFilter{})
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, []string{"third", "second", "first"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

		indexed, err := store.ListDocuments(ctx, models.Indexed(true))
		require.NoError(t, err)
		assert.Len(t, indexed, 2)

		n, err := store.CountDocuments(ctx, models.DocumentFilter{})
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
		n, err = store.CountDocuments(ctx, models.Indexed(false))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestStorage_Chunks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Storage) {
		ctx := context.Background()
		docA := &models.Document{ID: "a", Title: "Doc A", Content: "aaaa", Source: "a.md", Category: "faq"}
		docB := &models.Document{ID: "b", Title: "Doc B", Content: "bbbb"}
		require.NoError(t, store.CreateDocument(ctx, docA))
		require.NoError(t, store.CreateDocument(ctx, docB))

		// Inserted out of chunk order to check ordering by chunk index vs. scan order.
		require.NoError(t, store.CreateChunk(ctx, &models.Chunk{DocumentID: "a", Content: "a1", ChunkIndex: 1, StartOffset: 2, EndOffset: 4, Embedding: []float32{0, 1}}))
		require.NoError(t, store.CreateChunk(ctx, &models.Chunk{DocumentID: "a", Content: "a0", ChunkIndex: 0, StartOffset: 0, EndOffset: 2, Embedding: []float32{1, 0}}))
		require.NoError(t, store.BatchCreateChunks(ctx, []*models.Chunk{
			{DocumentID: "b", Content: "b0", ChunkIndex: 0, StartOffset: 0, EndOffset: 4, Embedding: []float32{0.6, 0.8}},
		}))

		chunks, err := store.GetChunksByDocumentID(ctx, "a")
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "a0", chunks[0].Content)
		assert.Equal(t, "a1", chunks[1].Content)
		assert.Equal(t, []float32{1, 0}, chunks[0].Embedding)
		assert.NotEmpty(t, chunks[0].ID)

		all, err := store.ListChunks(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a1", "a0", "b0"}, []string{all[0].Content, all[1].Content, all[2].Content})
		assert.Equal(t, "Doc A", all[0].Title())
		assert.Equal(t, "a.md", all[0].Source())
		assert.Equal(t, "faq", all[0].Category())
		assert.Equal(t, []float32{0.6, 0.8}, all[2].Embedding)

		n, err := store.CountChunks(ctx, "")
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
		n, err = store.CountChunks(ctx, "a")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		counts, err := store.ChunkCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"a": 2, "b": 1}, counts)

		require.NoError(t, store.DeleteChunksByDocumentID(ctx, "a"))
		n, err = store.CountChunks(ctx, "")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestStorage_DeleteDocumentCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Storage) {
		ctx := context.Background()
		require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "a", Title: "A", Content: "x"}))
		require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "b", Title: "B", Content: "y"}))
		require.NoError(t, store.CreateChunk(ctx, &models.Chunk{DocumentID: "a", Content: "x", EndOffset: 1}))
		require.NoError(t, store.CreateChunk(ctx, &models.Chunk{DocumentID: "b", Content: "y", EndOffset: 1}))

		require.NoError(t, store.DeleteDocument(ctx, "a"))

		_, err := store.GetDocument(ctx, "a")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		n, err := store.CountChunks(ctx, "a")
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = store.CountChunks(ctx, "")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		err = store.DeleteDocument(ctx, "a")
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	})
}

func TestJSONStorage_Reload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "database.json")
	store, err := NewJSONStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "a", Title: "A", Content: "hello"}))
	require.NoError(t, store.CreateChunk(ctx, &models.Chunk{DocumentID: "a", Content: "hello", EndOffset: 5, Embedding: []float32{1}}))

	reopened, err := NewJSONStorage(path)
	require.NoError(t, err)
	doc, err := reopened.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Content)
	chunks, err := reopened.GetChunksByDocumentID(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []float32{1}, chunks[0].Embedding)
	assert.Equal(t, "JSON File", reopened.Name())
}

func TestJSONStorage_RollsBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "database.json")
	store, err := NewJSONStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "keep", Title: "Keep", Content: "kept"}))

	// A directory at the temp path makes every write fail.
	tmp := path + ".tmp"
	require.NoError(t, os.Mkdir(tmp, 0755))

	err = store.CreateDocument(ctx, &models.Document{ID: "a", Title: "A", Content: "hello"})
	require.Error(t, err)
	_, err = store.GetDocument(ctx, "a")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	err = store.CreateChunk(ctx, &models.Chunk{DocumentID: "keep", Content: "kept", EndOffset: 4})
	require.Error(t, err)
	n, err := store.CountChunks(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Error(t, store.DeleteDocument(ctx, "keep"))
	got, err := store.GetDocument(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "Keep", got.Title)

	require.NoError(t, os.Remove(tmp))
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "a", Title: "A", Content: "hello"}))
	got, err = store.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)

	reopened, err := NewJSONStorage(path)
	require.NoError(t, err)
	total, err := reopened.CountDocuments(ctx, models.DocumentFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	doc := &models.Document{ID: "a", Title: "A", Content: "x"}
	require.NoError(t, store.CreateDocument(ctx, doc))
	doc.Title = "mutated"

	got, err := store.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)

	err = store.CreateChunk(ctx, &models.Chunk{DocumentID: "missing", Content: "x"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{config.DriverSQLite, config.DriverJSON, config.DriverMemory} {
		store, err := New(&config.StorageConfig{
			Driver:       driver,
			DatabasePath: filepath.Join(dir, "kb.db"),
			JSONPath:     filepath.Join(dir, "kb.json"),
		})
		require.NoError(t, err, driver)
		require.NoError(t, store.Close())
	}
	_, err := New(&config.StorageConfig{Driver: "mongo"})
	assert.Error(t, err)
}

// Package storage defines the persistence interface for documents and chunks.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/models"
)

// Storage defines document and chunk persistence operations.
// Lookups of unknown IDs return apperr NotFound errors.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	// DeleteDocument removes the document and all of its chunks.
	DeleteDocument(ctx context.Context, id string) error
	// ListDocuments returns matching documents, newest first.
	ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]*models.Document, error)

	// Chunk operations
	CreateChunk(ctx context.Context, chunk *models.Chunk) error
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	// ListChunks returns every chunk in insertion order with its parent joined.
	ListChunks(ctx context.Context) ([]*models.ChunkWithDocument, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error

	// Batch operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error

	// Stats
	CountDocuments(ctx context.Context, filter models.DocumentFilter) (int64, error)
	// CountChunks counts the chunks of docID, or all chunks when docID is empty.
	CountChunks(ctx context.Context, docID string) (int64, error)
	// ChunkCounts returns the number of chunks per document ID.
	ChunkCounts(ctx context.Context) (map[string]int64, error)

	// Name describes the backend for health reporting.
	Name() string
	Ping(ctx context.Context) error
	Close() error
}

// New opens the backend selected by cfg.Driver.
func New(cfg *config.StorageConfig) (Storage, error) {
	var (
		store Storage
		err   error
	)
	switch cfg.Driver {
	case config.DriverSQLite, "":
		store, err = openOrNil(NewSQLiteStorage(cfg.DatabasePath))
	case config.DriverPostgres:
		store, err = openOrNil(NewPostgresStorage(cfg.DSN))
	case config.DriverJSON:
		var m *MemoryStorage
		if m, err = NewJSONStorage(cfg.JSONPath); err == nil {
			store = m
		}
	case config.DriverMemory:
		store = NewMemoryStorage()
	default:
		err = fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

func openOrNil(s *SQLStorage, err error) (Storage, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

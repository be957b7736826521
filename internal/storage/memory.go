package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kbcopilot/internal/models"
)

// database is the full contents of a MemoryStorage, in insertion order.
type database struct {
	Documents []*models.Document `json:"documents"`
	Chunks    []*models.Chunk    `json:"chunks"`
}

// MemoryStorage implements Storage in process memory. An optional persist hook runs
// after every mutation while the write lock is held.
type MemoryStorage struct {
	mu      sync.RWMutex
	data    database
	persist func(*database) error
	name    string
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{name: "Memory"}
}

// apply runs mutate and persists the result. If either step fails, the state
// before the call is restored. The caller must hold the write lock.
func (m *MemoryStorage) apply(mutate func() error) error {
	if m.persist == nil {
		return mutate()
	}
	prev := database{
		Documents: append([]*models.Document(nil), m.data.Documents...),
		Chunks:    append([]*models.Chunk(nil), m.data.Chunks...),
	}
	if err := mutate(); err != nil {
		m.data = prev
		return err
	}
	if err := m.persist(&m.data); err != nil {
		m.data = prev
		return err
	}
	return nil
}

func (m *MemoryStorage) documentIndex(id string) int {
	for i, d := range m.data.Documents {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// CreateDocument stores a copy of doc, assigning an ID and timestamps when unset.
func (m *MemoryStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prepareDocument(doc)
	if m.documentIndex(doc.ID) >= 0 {
		return fmt.Errorf("document already exists: %s", doc.ID)
	}
	return m.apply(func() error {
		m.data.Documents = append(m.data.Documents, doc.Clone())
		return nil
	})
}

// GetDocument returns a copy of the document with the given ID.
func (m *MemoryStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.documentIndex(id)
	if i < 0 {
		return nil, documentNotFound("get_document", id)
	}
	return m.data.Documents[i].Clone(), nil
}

// UpdateDocument replaces the stored document with doc.
func (m *MemoryStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.documentIndex(doc.ID)
	if i < 0 {
		return documentNotFound("update_document", doc.ID)
	}
	doc.CreatedAt = m.data.Documents[i].CreatedAt
	doc.UpdatedAt = time.Now().UTC()
	return m.apply(func() error {
		m.data.Documents[i] = doc.Clone()
		return nil
	})
}

// DeleteDocument removes a document and its chunks.
func (m *MemoryStorage) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.documentIndex(id)
	if i < 0 {
		return documentNotFound("delete_document", id)
	}
	return m.apply(func() error {
		m.data.Documents = append(m.data.Documents[:i], m.data.Documents[i+1:]...)
		m.deleteChunks(id)
		return nil
	})
}

// ListDocuments returns copies of matching documents, newest first.
func (m *MemoryStorage) ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := []*models.Document{}
	for i := len(m.data.Documents) - 1; i >= 0; i-- {
		if d := m.data.Documents[i]; filter.Matches(d) {
			docs = append(docs, d.Clone())
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// CountDocuments returns the number of matching documents.
func (m *MemoryStorage) CountDocuments(ctx context.Context, filter models.DocumentFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, d := range m.data.Documents {
		if filter.Matches(d) {
			n++
		}
	}
	return n, nil
}

// CreateChunk stores a chunk. The parent document must exist.
func (m *MemoryStorage) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(func() error {
		return m.addChunk(chunk, time.Now().UTC())
	})
}

// BatchCreateChunks stores all chunks or none of them.
func (m *MemoryStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if m.documentIndex(c.DocumentID) < 0 {
			return documentNotFound("create_chunk", c.DocumentID)
		}
	}
	now := time.Now().UTC()
	return m.apply(func() error {
		for _, c := range chunks {
			if err := m.addChunk(c, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *MemoryStorage) addChunk(chunk *models.Chunk, now time.Time) error {
	if m.documentIndex(chunk.DocumentID) < 0 {
		return documentNotFound("create_chunk", chunk.DocumentID)
	}
	prepareChunk(chunk, now)
	c := *chunk
	m.data.Chunks = append(m.data.Chunks, &c)
	return nil
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk index.
func (m *MemoryStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks := []*models.Chunk{}
	for _, c := range m.data.Chunks {
		if c.DocumentID == docID {
			cp := *c
			chunks = append(chunks, &cp)
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	return chunks, nil
}

// ListChunks returns all chunks in insertion order with their parent document joined.
func (m *MemoryStorage) ListChunks(ctx context.Context) ([]*models.ChunkWithDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make(map[string]*models.DocumentRef, len(m.data.Documents))
	for _, d := range m.data.Documents {
		refs[d.ID] = &models.DocumentRef{ID: d.ID, Title: d.Title, Source: d.Source, Category: d.Category}
	}
	out := make([]*models.ChunkWithDocument, 0, len(m.data.Chunks))
	for _, c := range m.data.Chunks {
		cp := *c
		out = append(out, &models.ChunkWithDocument{Chunk: &cp, Document: refs[c.DocumentID]})
	}
	return out, nil
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (m *MemoryStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(func() error {
		m.deleteChunks(docID)
		return nil
	})
}

func (m *MemoryStorage) deleteChunks(docID string) {
	kept := m.data.Chunks[:0]
	for _, c := range m.data.Chunks {
		if c.DocumentID != docID {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(m.data.Chunks); i++ {
		m.data.Chunks[i] = nil
	}
	m.data.Chunks = kept
}

// CountChunks returns the number of chunks of docID, or of all documents when docID is empty.
func (m *MemoryStorage) CountChunks(ctx context.Context, docID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if docID == "" {
		return int64(len(m.data.Chunks)), nil
	}
	var n int64
	for _, c := range m.data.Chunks {
		if c.DocumentID == docID {
			n++
		}
	}
	return n, nil
}

// ChunkCounts returns the number of chunks per document ID.
func (m *MemoryStorage) ChunkCounts(ctx context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int64)
	for _, c := range m.data.Chunks {
		counts[c.DocumentID]++
	}
	return counts, nil
}

// Name returns the backend description.
func (m *MemoryStorage) Name() string {
	return m.name
}

// Ping always succeeds.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

// Package models defines core data structures for documents, chunks, and query results.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultCategory is assigned to documents created without a category.
	DefaultCategory = "general"
	// UnknownDocument is used as title and source when a chunk's parent is missing.
	UnknownDocument = "Unknown"
)

// Metadata is free-form document metadata, stored as JSON.
type Metadata map[string]interface{}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	if len(data) == 0 {
		*m = Metadata{}
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	*m = out
	return nil
}

// Document represents a stored document with metadata.
type Document struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	Source    string    `json:"source" db:"source"`
	Category  string    `json:"category" db:"category"`
	Metadata  Metadata  `json:"metadata" db:"metadata"`
	IsIndexed bool      `json:"isIndexed" db:"is_indexed"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Clone returns a copy of d that shares no mutable state with it.
func (d *Document) Clone() *Document {
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(Metadata, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// DocumentInput is the input for creating a document.
type DocumentInput struct {
	ID        string   `json:"id,omitempty"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Source    string   `json:"source,omitempty"`
	Category  string   `json:"category,omitempty"`
	Metadata  Metadata `json:"metadata,omitempty"`
	AutoIndex bool     `json:"autoIndex,omitempty"`
}

// DocumentFilter restricts document listings and counts. A nil IsIndexed matches all.
type DocumentFilter struct {
	IsIndexed *bool
}

// Matches reports whether doc passes the filter.
func (f DocumentFilter) Matches(doc *Document) bool {
	return f.IsIndexed == nil || doc.IsIndexed == *f.IsIndexed
}

// Indexed returns a filter on the isIndexed flag.
func Indexed(v bool) DocumentFilter {
	return DocumentFilter{IsIndexed: &v}
}

// DocumentWithChunkCount is a document as returned by the list and get APIs.
type DocumentWithChunkCount struct {
	*Document
	ChunkCount int64 `json:"chunkCount"`
}

// Chunk is a contiguous substring of a document with its embedding.
type Chunk struct {
	ID          string    `json:"id" db:"id"`
	DocumentID  string    `json:"documentId" db:"document_id"`
	Content     string    `json:"content" db:"content"`
	Embedding   []float32 `json:"embedding,omitempty" db:"-"`
	ChunkIndex  int       `json:"chunkIndex" db:"chunk_index"`
	StartOffset int       `json:"startOffset" db:"start_offset"`
	EndOffset   int       `json:"endOffset" db:"end_offset"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// ChunkWithDocument is a chunk joined with its parent document's display fields.
// Document is nil when the parent no longer exists.
type ChunkWithDocument struct {
	*Chunk
	Document *DocumentRef
}

// DocumentRef is the subset of a document joined onto chunks.
type DocumentRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Source   string `json:"source"`
	Category string `json:"category"`
}

// Title returns the parent title or UnknownDocument.
func (c *ChunkWithDocument) Title() string {
	if c.Document == nil || c.Document.Title == "" {
		return UnknownDocument
	}
	return c.Document.Title
}

// Source returns the parent source or UnknownDocument.
func (c *ChunkWithDocument) Source() string {
	if c.Document == nil || c.Document.Source == "" {
		return UnknownDocument
	}
	return c.Document.Source
}

// Category returns the parent category or DefaultCategory.
func (c *ChunkWithDocument) Category() string {
	if c.Document == nil || c.Document.Category == "" {
		return DefaultCategory
	}
	return c.Document.Category
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/models"
	"github.com/hyperjump/kbcopilot/internal/vector"
)

// SQLStorage implements Storage on a SQL database through sqlx. Queries are written
// with ? placeholders and rebound for the driver, so the same code serves SQLite and
// PostgreSQL.
type SQLStorage struct {
	db   *sqlx.DB
	name string
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'general',
		metadata TEXT NOT NULL DEFAULT '{}',
		is_indexed BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		embedding BLOB,
		chunk_index INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON chunks(document_id, chunk_index)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'general',
		metadata TEXT NOT NULL DEFAULT '{}',
		is_indexed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		embedding BYTEA,
		chunk_index INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON chunks(document_id, chunk_index)`,
}

const (
	documentColumns = `id, title, content, source, category, metadata, is_indexed, created_at, updated_at`
	chunkColumns    = `id, document_id, content, embedding, chunk_index, start_offset, end_offset, created_at`

	insertDocumentSQL = `INSERT INTO documents (id, title, content, source, category, metadata, is_indexed, created_at, updated_at)
		VALUES (:id, :title, :content, :source, :category, :metadata, :is_indexed, :created_at, :updated_at)`
	updateDocumentSQL = `UPDATE documents SET title = :title, content = :content, source = :source, category = :category,
		metadata = :metadata, is_indexed = :is_indexed, updated_at = :updated_at WHERE id = :id`
	insertChunkSQL = `INSERT INTO chunks (id, document_id, content, embedding, chunk_index, start_offset, end_offset, created_at)
		VALUES (:id, :document_id, :content, :embedding, :chunk_index, :start_offset, :end_offset, :created_at)`
)

// chunkRow is the SQL shape of a chunk; the embedding is stored as a binary blob.
type chunkRow struct {
	ID          string    `db:"id"`
	DocumentID  string    `db:"document_id"`
	Content     string    `db:"content"`
	Embedding   []byte    `db:"embedding"`
	ChunkIndex  int       `db:"chunk_index"`
	StartOffset int       `db:"start_offset"`
	EndOffset   int       `db:"end_offset"`
	CreatedAt   time.Time `db:"created_at"`
}

type joinedChunkRow struct {
	chunkRow
	DocID       sql.NullString `db:"doc_id"`
	DocTitle    sql.NullString `db:"doc_title"`
	DocSource   sql.NullString `db:"doc_source"`
	DocCategory sql.NullString `db:"doc_category"`
}

func toChunkRow(c *models.Chunk) chunkRow {
	return chunkRow{
		ID:          c.ID,
		DocumentID:  c.DocumentID,
		Content:     c.Content,
		Embedding:   vector.Encode(c.Embedding),
		ChunkIndex:  c.ChunkIndex,
		StartOffset: c.StartOffset,
		EndOffset:   c.EndOffset,
		CreatedAt:   c.CreatedAt,
	}
}

func (r *chunkRow) toChunk() (*models.Chunk, error) {
	emb, err := vector.Decode(r.Embedding)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
	}
	return &models.Chunk{
		ID:          r.ID,
		DocumentID:  r.DocumentID,
		Content:     r.Content,
		Embedding:   emb,
		ChunkIndex:  r.ChunkIndex,
		StartOffset: r.StartOffset,
		EndOffset:   r.EndOffset,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	return newSQLStorage(db, sqliteSchema, "SQLite")
}

// NewPostgresStorage connects to PostgreSQL with the given DSN and initializes the schema.
func NewPostgresStorage(dsn string) (*SQLStorage, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newSQLStorage(db, postgresSchema, "PostgreSQL")
}

func newSQLStorage(db *sqlx.DB, schema []string, name string) (*SQLStorage, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return &SQLStorage{db: db, name: name}, nil
}

// CreateDocument inserts a document, assigning an ID and timestamps when unset.
func (s *SQLStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	prepareDocument(doc)
	if _, err := s.db.NamedExecContext(ctx, insertDocumentSQL, doc); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument returns a document by ID.
func (s *SQLStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.db.GetContext(ctx, &doc, s.db.Rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, documentNotFound("get_document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// UpdateDocument updates an existing document.
func (s *SQLStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	result, err := s.db.NamedExecContext(ctx, updateDocumentSQL, doc)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return documentNotFound("update_document", doc.ID)
	}
	return nil
}

// DeleteDocument removes a document and its chunks in one transaction.
func (s *SQLStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chunks WHERE document_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return documentNotFound("delete_document", id)
	}
	return tx.Commit()
}

// ListDocuments returns matching documents, newest first.
func (s *SQLStorage) ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]*models.Document, error) {
	where, args := documentWhere(filter)
	query := s.db.Rebind(`SELECT ` + documentColumns + ` FROM documents` + where + ` ORDER BY created_at DESC, seq DESC`)
	docs := []*models.Document{}
	if err := s.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// CountDocuments returns the number of matching documents.
func (s *SQLStorage) CountDocuments(ctx context.Context, filter models.DocumentFilter) (int64, error) {
	where, args := documentWhere(filter)
	var count int64
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM documents`+where), args...); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func documentWhere(filter models.DocumentFilter) (string, []interface{}) {
	if filter.IsIndexed == nil {
		return "", nil
	}
	return ` WHERE is_indexed = ?`, []interface{}{*filter.IsIndexed}
}

// CreateChunk inserts a single chunk.
func (s *SQLStorage) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	prepareChunk(chunk, time.Now().UTC())
	if _, err := s.db.NamedExecContext(ctx, insertChunkSQL, toChunkRow(chunk)); err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, insertChunkSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		prepareChunk(chunk, now)
		if _, err := stmt.ExecContext(ctx, toChunkRow(chunk)); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk_index.
func (s *SQLStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	var rows []chunkRow
	query := s.db.Rebind(`SELECT ` + chunkColumns + ` FROM chunks WHERE document_id = ? ORDER BY chunk_index`)
	if err := s.db.SelectContext(ctx, &rows, query, docID); err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	chunks := make([]*models.Chunk, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toChunk()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// ListChunks returns all chunks in insertion order with their parent document joined.
func (s *SQLStorage) ListChunks(ctx context.Context) ([]*models.ChunkWithDocument, error) {
	var rows []joinedChunkRow
	query := `SELECT c.id, c.document_id, c.content, c.embedding, c.chunk_index, c.start_offset, c.end_offset, c.created_at,
		d.id AS doc_id, d.title AS doc_title, d.source AS doc_source, d.category AS doc_category
		FROM chunks c LEFT JOIN documents d ON d.id = c.document_id ORDER BY c.seq`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	out := make([]*models.ChunkWithDocument, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toChunk()
		if err != nil {
			return nil, err
		}
		cwd := &models.ChunkWithDocument{Chunk: c}
		if rows[i].DocID.Valid {
			cwd.Document = &models.DocumentRef{
				ID:       rows[i].DocID.String,
				Title:    rows[i].DocTitle.String,
				Source:   rows[i].DocSource.String,
				Category: rows[i].DocCategory.String,
			}
		}
		out = append(out, cwd)
	}
	return out, nil
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM chunks WHERE document_id = ?`), docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// CountChunks returns the number of chunks of docID, or of all documents when docID is empty.
func (s *SQLStorage) CountChunks(ctx context.Context, docID string) (int64, error) {
	var count int64
	var err error
	if docID == "" {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chunks`)
	} else {
		err = s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM chunks WHERE document_id = ?`), docID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// ChunkCounts returns the number of chunks per document ID.
func (s *SQLStorage) ChunkCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		DocumentID string `db:"document_id"`
		N          int64  `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT document_id, COUNT(*) AS n FROM chunks GROUP BY document_id`); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.DocumentID] = r.N
	}
	return counts, nil
}

// Name returns the database kind.
func (s *SQLStorage) Name() string {
	return s.name
}

// Ping checks the database connection.
func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func prepareDocument(doc *models.Document) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.UpdatedAt = doc.CreatedAt
	if doc.Metadata == nil {
		doc.Metadata = models.Metadata{}
	}
}

func prepareChunk(c *models.Chunk, now time.Time) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
}

func documentNotFound(op, id string) error {
	return apperr.NotFound(fmt.Sprintf("storage.%s %s", op, id), "Document not found")
}

// Package ingest turns files on disk into knowledge base documents: extraction,
// manifest titles, change detection and directory seeding.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/extract"
	"github.com/hyperjump/kbcopilot/internal/indexer"
	"github.com/hyperjump/kbcopilot/internal/models"
)

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"

	idPrefix = "file:"
)

// DocumentIDForPath returns a stable document ID for a file path.
func DocumentIDForPath(absolutePath string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return idPrefix + hex.EncodeToString(hash[:])
}

// FileResult reports what happened to one file.
type FileResult struct {
	Path          string `json:"path"`
	DocumentID    string `json:"documentId,omitempty"`
	Title         string `json:"title,omitempty"`
	ChunksCreated int64  `json:"chunksCreated"`
	Skipped       bool   `json:"skipped,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Ingester creates and refreshes documents from files.
type Ingester struct {
	indexer         *indexer.Indexer
	extractor       *extract.Extractor
	extensions      []string
	defaultCategory string
	logger          *zap.Logger
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) IngesterOption {
	return func(in *Ingester) { in.logger = l }
}

// NewIngester creates an ingester. cfg may be nil for defaults.
func NewIngester(idx *indexer.Indexer, extractor *extract.Extractor, cfg *config.IngestConfig, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		indexer:         idx,
		extractor:       extractor,
		defaultCategory: models.DefaultCategory,
		logger:          zap.NewNop(),
	}
	if cfg != nil {
		in.extensions = cfg.Extensions
		if cfg.DefaultCategory != "" {
			in.defaultCategory = cfg.DefaultCategory
		}
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.logger == nil {
		in.logger = zap.NewNop()
	}
	return in
}

// Accepts reports whether path has an extension the ingester will read.
func (in *Ingester) Accepts(path string) bool {
	if filepath.Base(path) == ManifestFile {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !in.extractor.Supported(ext) {
		return false
	}
	if len(in.extensions) == 0 {
		return true
	}
	for _, e := range in.extensions {
		if "."+strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// IngestFile creates or refreshes the document for path and indexes it. Files whose
// size and modification time match the stored document are skipped; an unchanged
// file whose document is not indexed is re-indexed in place.
func (in *Ingester) IngestFile(ctx context.Context, path string) (*FileResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !in.Accepts(absPath) {
		return nil, apperr.Validation("ingest.file", "unsupported file type %q", filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	docID := DocumentIDForPath(absPath)
	result := &FileResult{Path: absPath, DocumentID: docID}

	if existing, err := in.indexer.GetDocument(ctx, docID); err == nil && unchanged(existing.Document, absPath, info) {
		result.Title = existing.Title
		result.Skipped = true
		result.ChunksCreated = existing.ChunkCount
		if !existing.IsIndexed {
			n, err := in.indexer.IndexDocument(ctx, docID)
			if err != nil {
				return nil, err
			}
			result.Skipped = false
			result.ChunksCreated = int64(n)
		}
		in.logger.Debug("ingest skipping unchanged file", zap.String("path", absPath), zap.Bool("reindexed", !result.Skipped))
		return result, nil
	}

	text, err := in.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("ingest.file", "%s has no text content", filepath.Base(absPath))
	}

	manifest, err := loadDirManifest(filepath.Dir(absPath))
	if err != nil {
		in.logger.Warn("ingest ignoring unreadable manifest", zap.String("dir", filepath.Dir(absPath)), zap.Error(err))
	}
	input := in.documentInput(absPath, info, text, manifest)
	input.ID = docID

	if err := in.indexer.DeleteDocument(ctx, docID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	doc, err := in.indexer.CreateDocument(ctx, input)
	if err != nil {
		return nil, err
	}
	result.Title = doc.Title
	if withCount, err := in.indexer.GetDocument(ctx, docID); err == nil {
		result.ChunksCreated = withCount.ChunkCount
	}
	in.logger.Info("ingest file indexed", zap.String("path", absPath), zap.String("doc_id", docID), zap.Int64("chunks", result.ChunksCreated))
	return result, nil
}

func (in *Ingester) documentInput(absPath string, info os.FileInfo, text string, manifest *Manifest) *models.DocumentInput {
	filename := filepath.Base(absPath)
	input := &models.DocumentInput{
		Title:    HumanizeFilename(filename),
		Content:  text,
		Source:   filename,
		Category: in.defaultCategory,
		Metadata: models.Metadata{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
		AutoIndex: true,
	}
	if entry, ok := manifest.Lookup(filename); ok {
		if entry.Title != "" {
			input.Title = entry.Title
		}
		if entry.Category != "" {
			input.Category = entry.Category
		}
		if entry.Source != "" {
			input.Source = entry.Source
		}
	}
	return input
}

// unchanged reports whether doc was ingested from path with the same size and mtime.
func unchanged(doc *models.Document, absPath string, info os.FileInfo) bool {
	if doc == nil || doc.Metadata == nil {
		return false
	}
	if doc.Metadata[metaKeySourcePath] != absPath {
		return false
	}
	// Stored as strings: UnixNano does not survive a JSON float64.
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m models.Metadata, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return -1
	}
}

// RemoveFile deletes the document ingested from path. A path that was never
// ingested is not an error.
func (in *Ingester) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = in.indexer.DeleteDocument(ctx, DocumentIDForPath(absPath))
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	if err == nil {
		in.logger.Info("ingest file removed", zap.String("path", absPath))
	}
	return nil
}

// IngestDirectory walks dir recursively and ingests every accepted file. A failing
// file is reported in its result and does not stop the walk.
func (in *Ingester) IngestDirectory(ctx context.Context, dir string) ([]FileResult, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var results []FileResult
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !in.Accepts(path) {
			return nil
		}
		results = append(results, in.ingestOne(ctx, path))
		return nil
	})
	return results, err
}

func (in *Ingester) ingestOne(ctx context.Context, path string) FileResult {
	res, err := in.IngestFile(ctx, path)
	if err != nil {
		in.logger.Warn("ingest file failed", zap.String("path", path), zap.Error(err))
		return FileResult{Path: path, Error: apperr.Message(err)}
	}
	return *res
}

// Seed loads a directory of documents into the knowledge base. With reset, every
// existing document is deleted first. When dir has a manifest only the listed files
// are ingested, in manifest order; listed files that are missing are skipped.
// Without a manifest the whole directory is ingested.
func (in *Ingester) Seed(ctx context.Context, dir string, reset bool) ([]FileResult, error) {
	if reset {
		n, err := in.clear(ctx)
		if err != nil {
			return nil, err
		}
		in.logger.Info("seed cleared existing documents", zap.Int("count", n))
	}
	manifest, err := loadDirManifest(dir)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return in.IngestDirectory(ctx, dir)
	}
	var results []FileResult
	for _, entry := range manifest.Documents {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		path := filepath.Join(dir, entry.Filename)
		if _, err := os.Stat(path); err != nil {
			in.logger.Warn("seed file not found", zap.String("path", path))
			continue
		}
		results = append(results, in.ingestOne(ctx, path))
	}
	return results, nil
}

func (in *Ingester) clear(ctx context.Context) (int, error) {
	docs, err := in.indexer.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range docs {
		if err := in.indexer.DeleteDocument(ctx, d.ID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return 0, err
		}
	}
	return len(docs), nil
}

// FileChanged ingests path; it lets the ingester serve as a watcher handler.
func (in *Ingester) FileChanged(ctx context.Context, path string) {
	if !in.Accepts(path) {
		return
	}
	if _, err := in.IngestFile(ctx, path); err != nil {
		in.logger.Warn("ingest file failed", zap.String("path", path), zap.Error(err))
	}
}

// FileRemoved deletes the document of path.
func (in *Ingester) FileRemoved(ctx context.Context, path string) {
	if err := in.RemoveFile(ctx, path); err != nil {
		in.logger.Warn("ingest remove failed", zap.String("path", path), zap.Error(err))
	}
}

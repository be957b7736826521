package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kbcopilot/internal/models"
)

// NewJSONStorage returns a store backed by a single JSON file at path holding
// {"documents": [...], "chunks": [...]}. Every mutation rewrites the file through a
// temporary file and rename so a crash never leaves it half written.
func NewJSONStorage(path string) (*MemoryStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	m := &MemoryStorage{name: "JSON File"}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) > 0 {
			if err := json.Unmarshal(data, &m.data); err != nil {
				return nil, fmt.Errorf("failed to parse database %s: %w", path, err)
			}
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read database: %w", err)
	}

	m.persist = func(db *database) error {
		return writeJSONAtomic(path, db)
	}
	if err := m.persist(&m.data); err != nil {
		return nil, err
	}
	return m, nil
}

func writeJSONAtomic(path string, db *database) error {
	if db.Documents == nil {
		db.Documents = []*models.Document{}
	}
	if db.Chunks == nil {
		db.Chunks = []*models.Chunk{}
	}
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal database: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}
	return nil
}

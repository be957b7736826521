// Package keyword provides full-text lookup over document titles and content.
package keyword

import (
	"context"

	"github.com/hyperjump/kbcopilot/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score of matches in the title field (e.g. 3.0).
	TitleBoost float64
	// Fuzziness enables typo-tolerant matching with the given edit distance (1 or 2).
	Fuzziness int
}

// KeywordIndex defines keyword search operations over documents.
type KeywordIndex interface {
	Index(ctx context.Context, doc *models.Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	// DocCount returns the total number of documents in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}

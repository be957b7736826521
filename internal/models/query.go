package models

import (
	"strings"

	"github.com/hyperjump/kbcopilot/internal/apperr"
)

// DefaultTopK is the number of chunks retrieved when the caller does not ask for a count.
const DefaultTopK = 5

// QueryRequest is a chat query.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

// Normalize trims the query, applies topK defaults and limits, and rejects a blank query.
// A maxTopK of zero means no upper limit.
func (r *QueryRequest) Normalize(defaultTopK, maxTopK int) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return apperr.Validation("query", "Query is required")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	if r.TopK <= 0 {
		r.TopK = defaultTopK
	}
	if maxTopK > 0 && r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	return nil
}

// Package ranking scores stored chunks against a query with a hybrid of vector
// cosine similarity and keyword overlap.
package ranking

import (
	"strings"

	"github.com/hyperjump/kbcopilot/internal/embedding"
	"github.com/hyperjump/kbcopilot/internal/vector"
)

// Weights of the hybrid score. Keyword overlap dominates because the embedding is a
// bag of hashed tokens, not a semantic model.
const (
	CosineWeight  = 0.4
	KeywordWeight = 0.6
)

// AnalyzedQuery is a query prepared once and scored against many chunks.
type AnalyzedQuery struct {
	Raw    string
	Tokens []string
	Vector []float32
}

// NewAnalyzedQuery tokenizes raw and stores its embedding.
func NewAnalyzedQuery(raw string, vec []float32) *AnalyzedQuery {
	return &AnalyzedQuery{
		Raw:    raw,
		Tokens: embedding.Tokenize(raw),
		Vector: vec,
	}
}

// Score returns the hybrid similarity of a chunk's content and embedding to q.
func (q *AnalyzedQuery) Score(content string, emb []float32) float64 {
	return HybridScore(vector.CosineSimilarity(q.Vector, emb), keywordScore(q.Tokens, content))
}

// KeywordScore returns the fraction of query tokens (duplicates counted) that occur
// as substrings of the lower-cased text, or 0 when the query has no tokens.
func KeywordScore(query, text string) float64 {
	return keywordScore(embedding.Tokenize(query), text)
}

func keywordScore(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			matches++
		}
	}
	return float64(matches) / float64(len(tokens))
}

// HybridScore combines cosine and keyword scores.
func HybridScore(cosine, keyword float64) float64 {
	return CosineWeight*cosine + KeywordWeight*keyword
}

// CosineSimilarity is vector.CosineSimilarity, re-exported for callers that only
// import the scorer.
func CosineSimilarity(a, b []float32) float64 {
	return vector.CosineSimilarity(a, b)
}

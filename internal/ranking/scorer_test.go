package ranking

import (
	"math"
	"testing"

	"github.com/hyperjump/kbcopilot/internal/embedding"
)

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		name  string
		query string
		text  string
		want  float64
	}{
		{"all tokens match", "remote work policy", "Our Remote Work Policy allows...", 1},
		{"half match", "remote vacation", "remote employees", 0.5},
		{"substring counts", "work", "homework assignments", 1},
		{"duplicates counted", "pto pto holiday", "PTO requests", 2.0 / 3.0},
		{"no tokens", "a an", "anything", 0},
		{"no matches", "pension", "remote work", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeywordScore(tt.query, tt.text)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("KeywordScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHybridScore(t *testing.T) {
	if got := HybridScore(1, 1); math.Abs(got-1) > 1e-9 {
		t.Errorf("HybridScore(1,1) = %v", got)
	}
	if got := HybridScore(0.5, 0.5); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("HybridScore(0.5,0.5) = %v", got)
	}
	if got := HybridScore(0, 1); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("HybridScore(0,1) = %v", got)
	}
}

func TestAnalyzedQuery_Score(t *testing.T) {
	e := embedding.NewHashEmbedder(768)
	query := "remote work policy"
	q := NewAnalyzedQuery(query, e.Vector(query))

	same := q.Score("Remote work policy", e.Vector("Remote work policy"))
	if math.Abs(same-1) > 1e-6 {
		t.Errorf("identical text should score 1, got %v", same)
	}

	unrelated := q.Score("Expense reports are due monthly", e.Vector("Expense reports are due monthly"))
	if unrelated >= same {
		t.Errorf("unrelated text scored %v >= %v", unrelated, same)
	}

	mismatch := q.Score("remote work policy", []float32{1, 0})
	if math.Abs(mismatch-0.6) > 1e-9 {
		t.Errorf("dimension mismatch should drop cosine term, got %v", mismatch)
	}

	if CosineSimilarity([]float32{1, 0}, []float32{1, 0}) != 1 {
		t.Error("re-exported CosineSimilarity mismatch")
	}
}

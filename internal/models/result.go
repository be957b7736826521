package models

// ScoredChunk is a retrieved chunk with its parent's display fields and hybrid score.
type ScoredChunk struct {
	*Chunk
	DocumentTitle    string  `json:"documentTitle"`
	DocumentSource   string  `json:"documentSource"`
	DocumentCategory string  `json:"documentCategory"`
	Similarity       float64 `json:"similarity"`
}

// NewScoredChunk joins a chunk with its parent's fields, applying the missing-parent defaults.
func NewScoredChunk(c *ChunkWithDocument, similarity float64) *ScoredChunk {
	return &ScoredChunk{
		Chunk:            c.Chunk,
		DocumentTitle:    c.Title(),
		DocumentSource:   c.Source(),
		DocumentCategory: c.Category(),
		Similarity:       similarity,
	}
}

// Citation references a source marker the model actually used in its answer.
type Citation struct {
	SourceNumber   int    `json:"sourceNumber"`
	DocumentTitle  string `json:"documentTitle"`
	DocumentSource string `json:"documentSource"`
}

// Source describes one retrieved chunk shown alongside an answer.
type Source struct {
	SourceNumber   int     `json:"sourceNumber"`
	DocumentID     string  `json:"documentId"`
	DocumentTitle  string  `json:"documentTitle"`
	DocumentSource string  `json:"documentSource"`
	Category       string  `json:"category"`
	Excerpt        string  `json:"excerpt"`
	Similarity     float64 `json:"similarity"`
}

// QueryResult is the assembled answer for a query.
type QueryResult struct {
	Response  string     `json:"response"`
	Citations []Citation `json:"citations"`
	Sources   []Source   `json:"sources"`
}

// IndexResult reports the outcome of indexing one document during index-all.
type IndexResult struct {
	DocumentID    string `json:"documentId"`
	Title         string `json:"title"`
	ChunksCreated int    `json:"chunksCreated,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Failed reports whether indexing this document failed.
func (r IndexResult) Failed() bool {
	return r.Error != ""
}

// Stats summarises the knowledge base.
type Stats struct {
	TotalDocuments           int64   `json:"totalDocuments"`
	IndexedDocuments         int64   `json:"indexedDocuments"`
	TotalChunks              int64   `json:"totalChunks"`
	AverageChunksPerDocument float64 `json:"averageChunksPerDocument"`
}

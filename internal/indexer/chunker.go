// Package indexer splits documents into chunks, embeds them and keeps storage and the
// keyword index in sync.
package indexer

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/models"
)

// Default chunking parameters, in bytes.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// breakPoints are tried in priority order when looking for a natural chunk boundary.
var breakPoints = []string{"\n\n", "\n", ". ", ", ", " "}

// Span is a contiguous slice of the source text.
type Span struct {
	Content     string
	StartOffset int
	EndOffset   int
}

// Chunker splits text into overlapping chunks that prefer natural boundaries.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in bytes).
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperr.Validation("indexer.new_chunker", "chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, apperr.Validation("indexer.new_chunker", "chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Chunk splits text into spans. A span ends just after the last paragraph break,
// line break, sentence end, comma or space found in the second half of the window,
// or at the hard size limit when there is none. Consecutive spans overlap by up to
// chunkOverlap bytes. Empty text yields no spans.
func (c *Chunker) Chunk(text string) []Span {
	n := len(text)
	var spans []Span
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end >= n {
			end = n
		} else {
			end = c.boundary(text, start, end)
		}
		spans = append(spans, Span{Content: text[start:end], StartOffset: start, EndOffset: end})
		if end == n {
			break
		}
		next := end - c.chunkOverlap
		if next <= start {
			next = end
		}
		for next < end && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return spans
}

// boundary returns where a chunk starting at start with tentative end should stop.
func (c *Chunker) boundary(text string, start, end int) int {
	for _, bp := range breakPoints {
		limit := end + len(bp)
		if limit > len(text) {
			limit = len(text)
		}
		p := strings.LastIndex(text[start:limit], bp)
		if p < 0 {
			continue
		}
		// p is relative to start; accept only breaks in the second half of the window.
		if 2*p >= c.chunkSize {
			return start + p + len(bp)
		}
	}
	// Hard cutoff: never split a multi-byte rune.
	cut := end
	for cut > start && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == start {
		_, size := utf8.DecodeRuneInString(text[start:])
		cut = start + size
	}
	return cut
}

// Chunks splits content and returns unsaved chunk models for docID, indexed from 0.
func (c *Chunker) Chunks(docID, content string) []*models.Chunk {
	spans := c.Chunk(content)
	chunks := make([]*models.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = &models.Chunk{
			DocumentID:  docID,
			Content:     s.Content,
			ChunkIndex:  i,
			StartOffset: s.StartOffset,
			EndOffset:   s.EndOffset,
		}
	}
	return chunks
}

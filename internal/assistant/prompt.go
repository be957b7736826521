package assistant

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/kbcopilot/internal/models"
	"github.com/hyperjump/kbcopilot/pkg/utils"
)

const (
	contextSeparator = "\n\n---\n\n"
	excerptLength    = 200
)

const promptTemplate = `You are a helpful knowledge base assistant. Answer the user's question based ONLY on the provided context. If the answer is not in the context, say so politely.

Always cite your sources using [Source N] format when using information from the context.

CONTEXT:
%s

USER QUESTION: %s

INSTRUCTIONS:
1. Answer based ONLY on the provided context
2. Cite sources using [Source N] format
3. If unsure or info not in context, say so
4. Be concise but complete
5. Format response in markdown

ANSWER:`

var citationPattern = regexp.MustCompile(`\[Source (\d+)\]`)

// BuildContext renders retrieved chunks as numbered sources, 1-based in rank order.
func BuildContext(chunks []*models.ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Source %d: %s]\n%s", i+1, c.DocumentTitle, c.Content)
	}
	return strings.Join(parts, contextSeparator)
}

// BuildPrompt returns the generation prompt for query over chunks.
func BuildPrompt(query string, chunks []*models.ScoredChunk) string {
	return fmt.Sprintf(promptTemplate, BuildContext(chunks), query)
}

// ParseCitations maps the [Source N] markers in text back to chunks. Markers are
// deduplicated by their exact text in order of first appearance; numbers outside
// 1..len(chunks) are dropped.
func ParseCitations(text string, chunks []*models.ScoredChunk) []models.Citation {
	citations := []models.Citation{}
	seen := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		if seen[m[0]] {
			continue
		}
		seen[m[0]] = true
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(chunks) {
			continue
		}
		c := chunks[n-1]
		citations = append(citations, models.Citation{
			SourceNumber:   n,
			DocumentTitle:  c.DocumentTitle,
			DocumentSource: c.DocumentSource,
		})
	}
	return citations
}

// BuildSources describes every retrieved chunk, numbered as in the prompt.
func BuildSources(chunks []*models.ScoredChunk) []models.Source {
	sources := make([]models.Source, len(chunks))
	for i, c := range chunks {
		sources[i] = models.Source{
			SourceNumber:   i + 1,
			DocumentID:     c.DocumentID,
			DocumentTitle:  c.DocumentTitle,
			DocumentSource: c.DocumentSource,
			Category:       c.DocumentCategory,
			Excerpt:        utils.Excerpt(c.Content, excerptLength),
			Similarity:     utils.Round(c.Similarity, 2),
		}
	}
	return sources
}
